// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

// Dump is the serializable form of a Store, used by suspension snapshots.
// It must round-trip exactly: Restore(s.Dump()) observes the same schema,
// values, grants, version, and audit log as the original.
type Dump struct {
	Schema  Schema           `json:"schema"`
	Values  map[string]any   `json:"values"`
	Grants  map[string]Grant `json:"grants,omitempty"`
	Version int              `json:"version"`
	Audit   []AuditEntry     `json:"audit,omitempty"`
}

// Dump externalizes the store into plain data.
func (s *Store) Dump() *Dump {
	grants := make(map[string]Grant, len(s.grants))
	for m, g := range s.grants {
		grants[m] = g
	}
	return &Dump{
		Schema:  s.Schema(),
		Values:  s.Snapshot(),
		Grants:  grants,
		Version: s.version,
		Audit:   s.audit.snapshot(),
	}
}

// Restore rebuilds a Store from a Dump.
func Restore(d *Dump) *Store {
	s := Declare(d.Schema)
	s.grants = make(map[string]Grant, len(d.Grants))
	for m, g := range d.Grants {
		s.grants[m] = g
	}
	for k, v := range d.Values {
		s.values[k] = v
	}
	s.version = d.Version
	s.audit.entries = append(s.audit.entries, d.Audit...)
	return s
}
