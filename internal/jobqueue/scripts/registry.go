// Package scripts is the Script Registry: named in-process job bodies
// looked up by class name and invoked with a job's meta map, mirroring
// the original's hook_get_script_class_from_class_name lookup plus
// script_class().run(**meta) call.
package scripts

import (
	"fmt"
	"sync"

	"github.com/martokk/jobqueued/internal/jobqueue/jqerrors"
)

// Result is what a Script returns: a structured outcome logged to the
// job's log file footer, matching the original's success/message/data
// triple.
type Result struct {
	Success bool
	Message string
	Data    map[string]any
}

// Script is a named, in-process job body, mirroring the original's
// Script class: Validate runs first, and Run is only invoked once
// Validate reports the meta map acceptable. meta always carries
// "job_id" in addition to whatever fields the caller supplied.
type Script struct {
	// Validate reports whether meta is acceptable input. A nil
	// Validate is treated as always-valid.
	Validate func(meta map[string]any) bool
	Run      func(meta map[string]any) (Result, error)
}

// Registry maps script class names to their implementation.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]Script)}
}

// Register adds a script under name, panicking on a duplicate
// registration the way init-time registries in the corpus panic on
// programmer error rather than returning it as a runtime condition.
func (r *Registry) Register(name string, s Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Run == nil {
		panic(fmt.Sprintf("scripts: %q registered with a nil Run", name))
	}
	if _, exists := r.scripts[name]; exists {
		panic(fmt.Sprintf("scripts: duplicate registration for %q", name))
	}
	r.scripts[name] = s
}

// Get looks up a script by class name. Returns jqerrors.ErrUnknownScript
// if name was never registered.
func (r *Registry) Get(name string) (Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[name]
	if !ok {
		return Script{}, jqerrors.Classify(jqerrors.KindExecutionError, fmt.Errorf("%w: %s", jqerrors.ErrUnknownScript, name))
	}
	return s, nil
}

// Names returns every registered script class name in no particular
// order (neither sorted nor insertion order); callers that need a
// stable order should sort the result themselves.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	return names
}
