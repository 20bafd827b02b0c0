package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// maxSleep caps system.sleep.
const maxSleep = 10 * time.Minute

// RegisterBuiltins registers the system.* actions: echo, set, log, sleep, fail.
func RegisterBuiltins(reg *Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	all := []Action{
		echoAction{},
		setAction{},
		logAction{logger: logger},
		sleepAction{},
		failAction{},
	}
	for _, a := range all {
		if err := reg.Register(DefaultSkill, a); err != nil {
			return err
		}
	}
	return nil
}

type echoAction struct{}

func (echoAction) Name() string        { return "echo" }
func (echoAction) Description() string { return "Return the parameters unchanged" }

func (echoAction) Execute(_ context.Context, params map[string]any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	return params, nil
}

type setAction struct{}

func (setAction) Name() string        { return "set" }
func (setAction) Description() string { return "Return params.value so later steps can reference it" }

func (setAction) Execute(_ context.Context, params map[string]any) (any, error) {
	v, ok := params["value"]
	if !ok {
		return nil, errors.New("set: value is required")
	}
	return v, nil
}

type logAction struct {
	logger *slog.Logger
}

func (logAction) Name() string        { return "log" }
func (logAction) Description() string { return "Write params.message to the log" }

func (a logAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	msg, _ := params["message"].(string)
	if msg == "" {
		return nil, errors.New("log: message is required")
	}
	a.logger.InfoContext(ctx, msg, "source", "workflow")
	return map[string]any{"logged": true, "message": msg}, nil
}

type sleepAction struct{}

func (sleepAction) Name() string        { return "sleep" }
func (sleepAction) Description() string { return "Wait for params.duration (\"500ms\", \"2s\") or params.ms" }

func (sleepAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	d, err := sleepDuration(params)
	if err != nil {
		return nil, err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return map[string]any{"slept_ms": d.Milliseconds()}, nil
	}
}

func sleepDuration(params map[string]any) (time.Duration, error) {
	var d time.Duration
	switch {
	case params["duration"] != nil:
		s, ok := params["duration"].(string)
		if !ok {
			return 0, fmt.Errorf("sleep: duration must be a string, got %T", params["duration"])
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("sleep: %w", err)
		}
		d = parsed
	case params["ms"] != nil:
		switch ms := params["ms"].(type) {
		case float64:
			d = time.Duration(ms * float64(time.Millisecond))
		case int:
			d = time.Duration(ms) * time.Millisecond
		case int64:
			d = time.Duration(ms) * time.Millisecond
		default:
			return 0, fmt.Errorf("sleep: ms must be a number, got %T", ms)
		}
	default:
		return 0, errors.New("sleep: duration or ms is required")
	}
	if d < 0 || d > maxSleep {
		return 0, fmt.Errorf("sleep: duration %s outside 0..%s", d, maxSleep)
	}
	return d, nil
}

type failAction struct{}

func (failAction) Name() string        { return "fail" }
func (failAction) Description() string { return "Fail with params.message" }

func (failAction) Execute(_ context.Context, params map[string]any) (any, error) {
	msg, _ := params["message"].(string)
	if msg == "" {
		msg = "step failed"
	}
	return nil, errors.New(msg)
}
