package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/playbook/pkg/schema"
)

// DefaultSkill is the namespace used when a step names no skill.
const DefaultSkill = "system"

// Result is the outcome of one capability invocation.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Invoker performs a step's action. It is the engine's only outward call.
// A returned error means the invocation could not be carried out at all
// (transport, process); a capability that ran and failed reports it through
// Result.Success and Result.Error instead.
type Invoker interface {
	Invoke(ctx context.Context, skill, action string, params map[string]any) (Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, skill, action string, params map[string]any) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, skill, action string, params map[string]any) (Result, error) {
	return f(ctx, skill, action, params)
}

// Action is a locally implemented capability.
type Action interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Info describes a registered action or mounted skill for listing.
type Info struct {
	Skill       string `json:"skill"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
	Remote      bool   `json:"remote,omitempty"`
}

// Registry is the thread-safe Invoker used by the engine. Local actions are
// keyed "skill.action"; whole skill namespaces can be mounted onto another
// Invoker (an MCP server, for instance).
type Registry struct {
	mu      sync.RWMutex
	actions map[string]registered
	mounts  map[string]Invoker
}

type registered struct {
	skill  string
	action Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]registered),
		mounts:  make(map[string]Invoker),
	}
}

func key(skill, action string) string {
	if skill == "" {
		skill = DefaultSkill
	}
	return skill + "." + action
}

// Register adds a local action under skill. Returns error on duplicate.
func (r *Registry) Register(skill string, action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	if action.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if skill == "" {
		skill = DefaultSkill
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, mounted := r.mounts[skill]; mounted {
		return schema.NewErrorf(schema.ErrCodeConflict, "skill %q is mounted remotely", skill)
	}
	k := key(skill, action.Name())
	if _, exists := r.actions[k]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", k)
	}
	r.actions[k] = registered{skill: skill, action: action}
	return nil
}

// Mount routes every action of skill to inv.
func (r *Registry) Mount(skill string, inv Invoker) error {
	if skill == "" || inv == nil {
		return schema.NewError(schema.ErrCodeValidation, "mount needs a skill name and an invoker")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[skill]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "skill %q already mounted", skill)
	}
	for _, reg := range r.actions {
		if reg.skill == skill {
			return schema.NewErrorf(schema.ErrCodeConflict, "skill %q has local actions", skill)
		}
	}
	r.mounts[skill] = inv
	return nil
}

// Has reports whether skill.action can be resolved.
func (r *Registry) Has(skill, action string) bool {
	if skill == "" {
		skill = DefaultSkill
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.mounts[skill]; ok {
		return true
	}
	_, ok := r.actions[key(skill, action)]
	return ok
}

// List returns registered actions and mounted skills sorted by skill, action.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.actions)+len(r.mounts))
	for _, reg := range r.actions {
		infos = append(infos, Info{
			Skill:       reg.skill,
			Action:      reg.action.Name(),
			Description: reg.action.Description(),
		})
	}
	for skill := range r.mounts {
		infos = append(infos, Info{Skill: skill, Remote: true})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Skill != infos[j].Skill {
			return infos[i].Skill < infos[j].Skill
		}
		return infos[i].Action < infos[j].Action
	})
	return infos
}

// Invoke resolves skill.action and runs it. Unknown capabilities and action
// errors are reported as failed Results; panics in local actions are
// recovered into failed Results as well.
func (r *Registry) Invoke(ctx context.Context, skill, action string, params map[string]any) (res Result, err error) {
	if skill == "" {
		skill = DefaultSkill
	}

	r.mu.RLock()
	mounted, isMounted := r.mounts[skill]
	reg, isLocal := r.actions[key(skill, action)]
	r.mu.RUnlock()

	if isMounted {
		return mounted.Invoke(ctx, skill, action, params)
	}
	if !isLocal {
		return Result{Error: fmt.Sprintf("capability %s.%s is not available", skill, action)}, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Error: fmt.Sprintf("capability %s.%s panicked: %v", skill, action, rec)}
			err = nil
		}
	}()

	out, execErr := reg.action.Execute(ctx, params)
	if execErr != nil {
		return Result{Error: execErr.Error()}, nil
	}
	return Result{Success: true, Result: out}, nil
}

var _ Invoker = (*Registry)(nil)
