// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package interp resolves template expressions against an execution context.
//
// The grammar has three forms:
//
//	${identifier(.identifier|[index])*}     variable access
//	{{#if expr}}...{{else}}...{{/if}}       conditional block
//	{{#each path}}...{{/each}}              loop block binding this and index
//
// Boolean expressions inside {{#if}} (and step conditions) support ==, !=,
// >, <, >=, <=, && and || over paths, number literals, quoted strings,
// true, false and null, with JavaScript-style truthiness for bare paths.
//
// Resolution is a pure function of the template and context: no I/O, no
// side effects. Undefined variables resolve to the Undefined sentinel
// unless the resolver is strict, in which case resolution fails with a
// MissingVariableError naming the exact path.
//
// Templates are parsed with a small recursive-descent parser into an AST
// rather than regex substitution, so nested paths and block handling are
// independently testable.
package interp

import (
	"errors"
	"fmt"
	"strings"
)

// Undefined is the sentinel returned for variables absent from the context
// in non-strict mode. It renders as an empty string inside mixed templates.
var Undefined = undefined{}

type undefined struct{}

func (undefined) String() string { return "undefined" }

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Context is the variable namespace a template resolves against.
type Context map[string]any

// MissingVariableError names the exact path that failed strict resolution.
type MissingVariableError struct {
	Path string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable: %s", e.Path)
}

// ParseError reports a malformed template or expression.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// ErrMissingVariable matches any MissingVariableError via errors.Is.
var ErrMissingVariable = errors.New("missing variable")

func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}

// Resolver resolves templates and expressions. The zero value is a lenient
// resolver; set Strict to fail on undefined variables.
//
// Thread Safety: Resolver is stateless and safe for concurrent use.
type Resolver struct {
	// Strict makes resolution fail with MissingVariableError instead of
	// yielding the Undefined sentinel.
	Strict bool
}

// Resolve evaluates a template against the context.
//
// Description:
//
//	A template consisting of exactly one ${...} expression returns the
//	referenced value with its original type. Any other template returns
//	the concatenated string rendering, with Undefined values rendered as
//	empty strings.
//
// Outputs:
//
//	any - The resolved value.
//	error - *ParseError on malformed input, *MissingVariableError in
//	        strict mode.
func (r Resolver) Resolve(template string, ctx Context) (any, error) {
	nodes, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	// Single bare expression keeps its type.
	if len(nodes) == 1 {
		if expr, ok := nodes[0].(*exprNode); ok {
			return r.evalPath(expr.path, ctx)
		}
	}

	var sb strings.Builder
	if err := r.render(nodes, ctx, &sb); err != nil {
		return nil, err
	}
	return sb.String(), nil
}

// ResolveString is Resolve with the result forced to a string.
func (r Resolver) ResolveString(template string, ctx Context) (string, error) {
	v, err := r.Resolve(template, ctx)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// ResolveAny walks an arbitrary JSON-shaped value, resolving every string
// leaf as a template. Maps and slices are copied, never mutated. Used to
// bind a step's input template map in one call.
func (r Resolver) ResolveAny(value any, ctx Context) (any, error) {
	switch v := value.(type) {
	case string:
		return r.Resolve(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.ResolveAny(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.ResolveAny(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// EvalBool parses and evaluates a boolean expression, applying truthiness
// to the result. Used for step conditions and {{#if}} blocks.
func (r Resolver) EvalBool(expr string, ctx Context) (bool, error) {
	node, err := parseExpression(expr)
	if err != nil {
		return false, err
	}
	v, err := r.evalExpr(node, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (r Resolver) render(nodes []templateNode, ctx Context, sb *strings.Builder) error {
	for _, node := range nodes {
		switch n := node.(type) {
		case *textNode:
			sb.WriteString(n.text)
		case *exprNode:
			v, err := r.evalPath(n.path, ctx)
			if err != nil {
				return err
			}
			sb.WriteString(stringify(v))
		case *ifNode:
			v, err := r.evalExpr(n.cond, ctx)
			if err != nil {
				return err
			}
			body := n.body
			if !truthy(v) {
				body = n.elseBody
			}
			if err := r.render(body, ctx, sb); err != nil {
				return err
			}
		case *eachNode:
			items, err := r.evalPath(n.path, ctx)
			if err != nil {
				return err
			}
			list, ok := items.([]any)
			if !ok {
				if IsUndefined(items) || items == nil {
					continue // nothing to iterate
				}
				return &ParseError{Input: n.raw, Msg: fmt.Sprintf("each target is %T, not a list", items)}
			}
			for i, item := range list {
				child := make(Context, len(ctx)+2)
				for k, v := range ctx {
					child[k] = v
				}
				child["this"] = item
				child["index"] = i
				if err := r.render(n.body, child, sb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// evalPath walks a parsed path through the context.
func (r Resolver) evalPath(p *pathExpr, ctx Context) (any, error) {
	var current any = map[string]any(ctx)

	for i, seg := range p.segments {
		if seg.isIndex {
			list, ok := current.([]any)
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return r.missing(p.render(i + 1))
			}
			current = list[seg.index]
			continue
		}

		m, ok := asStringMap(current)
		if !ok {
			return r.missing(p.render(i + 1))
		}
		v, ok := m[seg.name]
		if !ok {
			return r.missing(p.render(i + 1))
		}
		current = v
	}
	return current, nil
}

func (r Resolver) missing(path string) (any, error) {
	if r.Strict {
		return nil, &MissingVariableError{Path: path}
	}
	return Undefined, nil
}

func (r Resolver) evalExpr(node exprAST, ctx Context) (any, error) {
	switch n := node.(type) {
	case *literalNode:
		return n.value, nil
	case *pathExpr:
		return r.evalPath(n, ctx)
	case *binaryNode:
		return r.evalBinary(n, ctx)
	default:
		return nil, fmt.Errorf("unknown expression node %T", node)
	}
}

func (r Resolver) evalBinary(n *binaryNode, ctx Context) (any, error) {
	lhs, err := r.evalExpr(n.lhs, ctx)
	if err != nil {
		return nil, err
	}

	// Short-circuit logical operators.
	switch n.op {
	case "&&":
		if !truthy(lhs) {
			return false, nil
		}
		rhs, err := r.evalExpr(n.rhs, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rhs), nil
	case "||":
		if truthy(lhs) {
			return true, nil
		}
		rhs, err := r.evalExpr(n.rhs, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(rhs), nil
	}

	rhs, err := r.evalExpr(n.rhs, ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(lhs, rhs), nil
	case "!=":
		return !looseEqual(lhs, rhs), nil
	case ">", "<", ">=", "<=":
		return compare(n.op, lhs, rhs)
	default:
		return nil, fmt.Errorf("unknown operator %q", n.op)
	}
}

func compare(op string, lhs, rhs any) (bool, error) {
	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}

	ls, lok := lhs.(string)
	rs, rok := rhs.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}

	return false, fmt.Errorf("cannot compare %T %s %T", lhs, op, rhs)
}

func looseEqual(lhs, rhs any) bool {
	if IsUndefined(lhs) {
		lhs = nil
	}
	if IsUndefined(rhs) {
		rhs = nil
	}
	if lf, ok := toFloat(lhs); ok {
		if rf, ok := toFloat(rhs); ok {
			return lf == rf
		}
	}
	return lhs == rhs
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Context:
		return m, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case undefined:
		return ""
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}
