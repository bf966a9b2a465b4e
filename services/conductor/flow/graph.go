// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"fmt"

	"github.com/OvertureAI/OvertureFOSS/services/conductor/ensemble"
)

// Batch is one scheduling unit: a single step, or a whole parallel group
// dispatched concurrently. A batch with a non-empty Group holds every
// step of that group.
type Batch struct {
	Group string
	Steps []*ensemble.FlowStep
}

// Graph is a validated, batch-ordered view of a flow definition. Build it
// once per execution; it is read-only afterwards.
type Graph struct {
	def     *ensemble.Definition
	batches []Batch
}

// Definition returns the definition this graph was compiled from.
func (g *Graph) Definition() *ensemble.Definition {
	return g.def
}

// Batches returns the execution batches in topological order. Ties are
// broken by declaration order so scheduling is deterministic.
func (g *Graph) Batches() []Batch {
	return g.batches
}

// unit is an internal scheduling node: one step or one collapsed group.
type unit struct {
	key   string
	group string
	steps []*ensemble.FlowStep
	deps  map[string]bool
}

// BuildGraph validates the definition's dependency structure and computes
// the batch order with Kahn's algorithm. A dependency on any step of a
// parallel group gates on the whole group. Errors here are surfaced
// before any member runs.
func BuildGraph(def *ensemble.Definition) (*Graph, error) {
	if len(def.Steps) == 0 {
		return nil, &ValidationError{Ensemble: def.Name, Msg: "definition has no steps"}
	}

	stepUnit := map[string]string{}
	units := map[string]*unit{}
	var order []string

	for i := range def.Steps {
		step := &def.Steps[i]
		if _, dup := stepUnit[step.ID]; dup {
			return nil, &ValidationError{Ensemble: def.Name, Msg: fmt.Sprintf("duplicate step id %q", step.ID)}
		}
		key := step.ID
		if step.ParallelGroup != "" {
			key = "group:" + step.ParallelGroup
		}
		stepUnit[step.ID] = key

		u, ok := units[key]
		if !ok {
			u = &unit{key: key, group: step.ParallelGroup, deps: map[string]bool{}}
			units[key] = u
			order = append(order, key)
		}
		u.steps = append(u.steps, step)
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		from := stepUnit[step.ID]
		for _, dep := range step.DependsOn {
			target, ok := stepUnit[dep]
			if !ok {
				return nil, &ValidationError{
					Ensemble: def.Name,
					Msg:      fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
				}
			}
			if target == from {
				if step.ParallelGroup != "" {
					return nil, &ValidationError{
						Ensemble: def.Name,
						Msg:      fmt.Sprintf("step %q depends on %q within the same parallel group", step.ID, dep),
					}
				}
				return nil, &ValidationError{
					Ensemble: def.Name,
					Msg:      fmt.Sprintf("step %q depends on itself", step.ID),
				}
			}
			units[from].deps[target] = true
		}
	}

	// Kahn's algorithm over units, taking ready units in declaration
	// order one batch at a time.
	done := map[string]bool{}
	var batches []Batch
	for len(done) < len(units) {
		var next *unit
		for _, key := range order {
			if done[key] {
				continue
			}
			ready := true
			for dep := range units[key].deps {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = units[key]
				break
			}
		}
		if next == nil {
			return nil, &CycleError{Ensemble: def.Name, Path: cyclePath(units, done)}
		}
		done[next.key] = true
		batches = append(batches, Batch{Group: next.group, Steps: next.steps})
	}

	return &Graph{def: def, batches: batches}, nil
}

// cyclePath walks the unresolved units to name one cycle for the error.
func cyclePath(units map[string]*unit, done map[string]bool) []string {
	// Start from any unresolved unit and follow unresolved dependencies
	// until a key repeats.
	var start string
	for key := range units {
		if !done[key] {
			start = key
			break
		}
	}
	seen := map[string]int{}
	var path []string
	key := start
	for {
		if at, ok := seen[key]; ok {
			return append(path[at:], key)
		}
		seen[key] = len(path)
		path = append(path, key)
		advanced := false
		for dep := range units[key].deps {
			if !done[dep] {
				key = dep
				advanced = true
				break
			}
		}
		if !advanced {
			return path
		}
	}
}
