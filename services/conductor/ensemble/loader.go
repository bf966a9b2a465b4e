// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ensemble

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is shared across loads; validator instances cache struct
// metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a YAML ensemble definition.
//
// Description:
//
//	Decodes the document, applies struct-tag validation (required fields,
//	threshold ranges, enum values), then the semantic checks struct tags
//	cannot express (duplicate step ids, threshold ordering, dangling
//	suspendable/grant references). Graph-level validation (cycles,
//	dangling dependsOn) happens later when the flow graph is built.
//
// Outputs:
//
//	*Definition - The validated definition.
//	error - Decode or validation failure, wrapped with the ensemble name
//	        when known.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode ensemble definition: %w", err)
	}

	if err := validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("validate ensemble %q: %w", def.Name, err)
	}
	if err := def.validateSemantics(); err != nil {
		return nil, fmt.Errorf("validate ensemble %q: %w", def.Name, err)
	}
	return &def, nil
}

// LoadFile reads and parses a definition from disk.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ensemble definition %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return def, nil
}
