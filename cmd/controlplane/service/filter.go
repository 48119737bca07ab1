package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/taskplane/common/models"
)

// Filter evaluates CEL expressions over results, e.g.
//
//	result.status == "completed" && result.size > 1024
//
// $.field is accepted as a shorthand for result.field.
type Filter struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewFilter creates a filter with an empty program cache
func NewFilter() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("result", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Filter{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Match reports whether state satisfies expr
func (f *Filter) Match(expr string, state models.BlobState) (bool, error) {
	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"result": resultVars(state)})
	if err != nil {
		return false, fmt.Errorf("%w: CEL evaluation error: %v", ErrInvalid, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: filter did not return boolean, got %T", ErrInvalid, out.Value())
	}
	return result, nil
}

func (f *Filter) program(expr string) (cel.Program, error) {
	normalized := strings.ReplaceAll(expr, "$.", "result.")

	f.mu.RLock()
	prg, ok := f.cache[normalized]
	f.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := f.env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: CEL compilation error: %v", ErrInvalid, issues.Err())
	}
	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CEL program: %v", ErrInvalid, err)
	}

	f.mu.Lock()
	f.cache[normalized] = prg
	f.mu.Unlock()
	return prg, nil
}

// CacheSize returns the number of cached expressions
func (f *Filter) CacheSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

func resultVars(s models.BlobState) map[string]any {
	return map[string]any{
		"result_id":     s.ID,
		"session_id":    s.SessionID,
		"name":          s.Name,
		"status":        s.Status.String(),
		"owner_task_id": s.OwnerTaskID,
		"size":          s.Size,
		"created_at":    s.CreatedAt,
		"completed_at":  s.CompletedAt,
	}
}
