package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/playbook/internal/capability"
	"github.com/rendis/playbook/internal/expressions"
	"github.com/rendis/playbook/pkg/schema"
)

// recordingInvoker is a scripted capability that counts invocations.
//
// Actions:
//   - echo:    succeeds with the parameters as result
//   - fail:    fails with parameters["error"] (default "boom")
//   - sleep:   sleeps parameters["ms"] then echoes
//   - fail_on: fails when parameters["item"] equals parameters["bad"]
//   - panic:   panics
type recordingInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvoker) Invoke(ctx context.Context, skill, action string, params map[string]any) (capability.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, action)
	r.mu.Unlock()

	switch action {
	case "echo":
		return capability.Result{Success: true, Result: params}, nil
	case "fail":
		msg, _ := params["error"].(string)
		if msg == "" {
			msg = "boom"
		}
		return capability.Result{Error: msg}, nil
	case "sleep":
		ms, _ := params["ms"].(int)
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return capability.Result{Error: ctx.Err().Error()}, nil
		}
		return capability.Result{Success: true, Result: params}, nil
	case "fail_on":
		if params["item"] == params["bad"] {
			return capability.Result{Error: "bad item"}, nil
		}
		return capability.Result{Success: true, Result: params["item"]}, nil
	case "panic":
		panic("capability exploded")
	}
	return capability.Result{Error: "capability " + skill + "." + action + " is not available"}, nil
}

func (r *recordingInvoker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingInvoker) countOf(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == action {
			n++
		}
	}
	return n
}

// wednesdayMorning is 2026-10-14 09:30 UTC.
func wednesdayMorning() time.Time {
	return time.Date(2026, time.October, 14, 9, 30, 0, 0, time.UTC)
}

func newTestEngine(inv capability.Invoker) *Engine {
	return New(Config{
		Invoker:    inv,
		Conditions: expressions.NewConditionEvaluator(expressions.WithClock(wednesdayMorning)),
		PoolSize:   4,
	})
}

func skillStep(name, action string, params map[string]any) schema.StepDefinition {
	return schema.StepDefinition{Name: name, Action: action, Parameters: params}
}

func stepNames(results []schema.StepResult) []string {
	names := make([]string, len(results))
	for i := range results {
		names[i] = results[i].Step
	}
	return names
}
