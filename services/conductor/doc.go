// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conductor is the ensemble execution engine: it schedules
// multi-step workflows over a dependency graph, binds step inputs by
// template interpolation against shared state, gates step quality with
// scored retries, and can suspend an execution indefinitely behind a
// single-use resume token.
//
// Subpackages, leaf first:
//
//   - state: immutable, schema-validated shared context with per-member
//     grants and an access audit log.
//   - interp: the ${...} template language and its boolean expressions.
//   - ensemble: the YAML definition language and its loader.
//   - member: the pluggable unit-of-work contract and builtins.
//   - scoring: the quality-gated retry loop and metric rollups.
//   - flow: graph compilation, the batch scheduler, and the serializable
//     execution context.
//   - suspend: durable snapshot storage under single-use tokens.
//
// This package ties them into a Service with the two caller operations,
// ExecuteEnsemble and ResumeExecution, plus HTTP handlers and a
// hot-reloading definition store.
package conductor
