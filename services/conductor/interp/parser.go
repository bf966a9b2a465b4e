// Copyright (C) 2026 Overture AI (oss@overture.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package interp

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// --- Template AST ---

type templateNode interface{ templateNode() }

type textNode struct{ text string }

type exprNode struct{ path *pathExpr }

type ifNode struct {
	cond     exprAST
	body     []templateNode
	elseBody []templateNode
}

type eachNode struct {
	raw  string
	path *pathExpr
	body []templateNode
}

func (*textNode) templateNode() {}
func (*exprNode) templateNode() {}
func (*ifNode) templateNode()   {}
func (*eachNode) templateNode() {}

// --- Expression AST ---

type exprAST interface{ exprAST() }

type pathSegment struct {
	name    string
	index   int
	isIndex bool
}

type pathExpr struct{ segments []pathSegment }

type literalNode struct{ value any }

type binaryNode struct {
	op  string
	lhs exprAST
	rhs exprAST
}

func (*pathExpr) exprAST()    {}
func (*literalNode) exprAST() {}
func (*binaryNode) exprAST()  {}

// render formats the first n segments back into dotted-path notation,
// used for MissingVariableError messages.
func (p *pathExpr) render(n int) string {
	var sb strings.Builder
	for i := 0; i < n && i < len(p.segments); i++ {
		seg := p.segments[i]
		if seg.isIndex {
			fmt.Fprintf(&sb, "[%d]", seg.index)
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(seg.name)
	}
	return sb.String()
}

// --- Template parser ---

// parseTemplate splits a template into literal text, ${...} expressions,
// and {{#if}}/{{#each}} blocks. Block tags nest arbitrarily.
func parseTemplate(input string) ([]templateNode, error) {
	p := &templateParser{input: input}
	return p.parseUntil("")
}

type templateParser struct {
	input string
	pos   int

	// stopped records which closing tag terminated the last parseUntil call.
	stopped string
}

// parseUntil consumes nodes until the named closing tag ("/if", "/each",
// "else") or end of input. The closing tag itself is not consumed; callers
// check stoppedAt.
func (p *templateParser) parseUntil(stop string) ([]templateNode, error) {
	var nodes []templateNode
	textStart := p.pos

	flush := func(end int) {
		if end > textStart {
			nodes = append(nodes, &textNode{text: p.input[textStart:end]})
		}
	}

	for p.pos < len(p.input) {
		rest := p.input[p.pos:]

		switch {
		case strings.HasPrefix(rest, "${"):
			flush(p.pos)
			end := strings.Index(rest, "}")
			if end < 0 {
				return nil, &ParseError{Input: p.input, Pos: p.pos, Msg: "unterminated ${ expression"}
			}
			pathSrc := rest[2:end]
			path, err := parsePath(pathSrc)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, &exprNode{path: path})
			p.pos += end + 1
			textStart = p.pos

		case strings.HasPrefix(rest, "{{"):
			tag, tagLen, err := p.readTag(rest)
			if err != nil {
				return nil, err
			}

			if tag == stop || (stop != "" && tag == "else" && stop == "/if") {
				flush(p.pos)
				p.stopped = tag
				return nodes, nil
			}

			switch {
			case strings.HasPrefix(tag, "#if "):
				flush(p.pos)
				cond, err := parseExpression(strings.TrimSpace(tag[4:]))
				if err != nil {
					return nil, err
				}
				p.pos += tagLen
				body, elseBody, err := p.parseIfBody()
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, &ifNode{cond: cond, body: body, elseBody: elseBody})
				textStart = p.pos

			case strings.HasPrefix(tag, "#each "):
				flush(p.pos)
				target := strings.TrimSpace(tag[6:])
				path, err := parsePath(target)
				if err != nil {
					return nil, err
				}
				p.pos += tagLen
				body, err := p.parseUntil("/each")
				if err != nil {
					return nil, err
				}
				if p.stopped != "/each" {
					return nil, &ParseError{Input: p.input, Pos: p.pos, Msg: "unterminated {{#each}} block"}
				}
				p.consumeTag()
				nodes = append(nodes, &eachNode{raw: target, path: path, body: body})
				textStart = p.pos

			default:
				return nil, &ParseError{Input: p.input, Pos: p.pos, Msg: fmt.Sprintf("unknown tag {{%s}}", tag)}
			}

		default:
			p.pos++
		}
	}

	flush(p.pos)
	p.stopped = ""
	if stop != "" {
		return nil, &ParseError{Input: p.input, Pos: p.pos, Msg: fmt.Sprintf("missing {{%s}}", stop)}
	}
	return nodes, nil
}

func (p *templateParser) parseIfBody() (body, elseBody []templateNode, err error) {
	body, err = p.parseUntil("/if")
	if err != nil {
		return nil, nil, err
	}
	if p.stopped == "else" {
		p.consumeTag()
		elseBody, err = p.parseUntil("/if")
		if err != nil {
			return nil, nil, err
		}
	}
	if p.stopped != "/if" {
		return nil, nil, &ParseError{Input: p.input, Pos: p.pos, Msg: "unterminated {{#if}} block"}
	}
	p.consumeTag()
	return body, elseBody, nil
}

// readTag returns the trimmed content of the {{...}} tag starting at rest
// and the total tag length including braces, without consuming it.
func (p *templateParser) readTag(rest string) (string, int, error) {
	end := strings.Index(rest, "}}")
	if end < 0 {
		return "", 0, &ParseError{Input: p.input, Pos: p.pos, Msg: "unterminated {{ tag"}
	}
	return strings.TrimSpace(rest[2:end]), end + 2, nil
}

// consumeTag advances past the tag at the current position.
func (p *templateParser) consumeTag() {
	rest := p.input[p.pos:]
	if end := strings.Index(rest, "}}"); end >= 0 {
		p.pos += end + 2
	}
}

// --- Path parser ---

// parsePath parses identifier(.identifier|[index])* notation.
func parsePath(src string) (*pathExpr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &ParseError{Input: src, Msg: "empty path"}
	}

	var segments []pathSegment
	i := 0
	expectIdent := true

	for i < len(src) {
		switch {
		case src[i] == '.':
			if expectIdent {
				return nil, &ParseError{Input: src, Pos: i, Msg: "unexpected '.'"}
			}
			expectIdent = true
			i++

		case src[i] == '[':
			close := strings.IndexByte(src[i:], ']')
			if close < 0 {
				return nil, &ParseError{Input: src, Pos: i, Msg: "unterminated index"}
			}
			idx, err := strconv.Atoi(src[i+1 : i+close])
			if err != nil {
				return nil, &ParseError{Input: src, Pos: i, Msg: "index must be an integer"}
			}
			segments = append(segments, pathSegment{index: idx, isIndex: true})
			expectIdent = false
			i += close + 1

		default:
			if !expectIdent {
				return nil, &ParseError{Input: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", src[i])}
			}
			start := i
			for i < len(src) && isIdentChar(rune(src[i])) {
				i++
			}
			if i == start {
				return nil, &ParseError{Input: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", src[i])}
			}
			segments = append(segments, pathSegment{name: src[start:i]})
			expectIdent = false
		}
	}

	if expectIdent {
		return nil, &ParseError{Input: src, Pos: i, Msg: "path ends with '.'"}
	}
	return &pathExpr{segments: segments}, nil
}

func isIdentChar(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// --- Expression parser ---
//
// Precedence, lowest first: ||, &&, comparison. Parentheses group.

func parseExpression(src string) (exprAST, error) {
	lex := &lexer{input: src}
	if err := lex.run(); err != nil {
		return nil, err
	}
	p := &exprParser{tokens: lex.tokens, input: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, &ParseError{Input: src, Pos: p.peek().pos, Msg: fmt.Sprintf("unexpected token %q", p.peek().text)}
	}
	return node, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func (l *lexer) run() error {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t':
			l.pos++

		case c == '(':
			l.tokens = append(l.tokens, token{kind: tokLParen, text: "(", pos: l.pos})
			l.pos++

		case c == ')':
			l.tokens = append(l.tokens, token{kind: tokRParen, text: ")", pos: l.pos})
			l.pos++

		case c == '\'' || c == '"':
			end := strings.IndexByte(l.input[l.pos+1:], c)
			if end < 0 {
				return &ParseError{Input: l.input, Pos: l.pos, Msg: "unterminated string literal"}
			}
			l.tokens = append(l.tokens, token{kind: tokString, text: l.input[l.pos+1 : l.pos+1+end], pos: l.pos})
			l.pos += end + 2

		case strings.HasPrefix(l.input[l.pos:], "&&"), strings.HasPrefix(l.input[l.pos:], "||"),
			strings.HasPrefix(l.input[l.pos:], "=="), strings.HasPrefix(l.input[l.pos:], "!="),
			strings.HasPrefix(l.input[l.pos:], ">="), strings.HasPrefix(l.input[l.pos:], "<="):
			l.tokens = append(l.tokens, token{kind: tokOp, text: l.input[l.pos : l.pos+2], pos: l.pos})
			l.pos += 2

		case c == '>' || c == '<':
			l.tokens = append(l.tokens, token{kind: tokOp, text: string(c), pos: l.pos})
			l.pos++

		case c >= '0' && c <= '9' || c == '-' && l.pos+1 < len(l.input) && l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9':
			start := l.pos
			l.pos++
			for l.pos < len(l.input) && (l.input[l.pos] >= '0' && l.input[l.pos] <= '9' || l.input[l.pos] == '.') {
				l.pos++
			}
			l.tokens = append(l.tokens, token{kind: tokNumber, text: l.input[start:l.pos], pos: start})

		case isIdentChar(rune(c)):
			start := l.pos
			for l.pos < len(l.input) && (isIdentChar(rune(l.input[l.pos])) || l.input[l.pos] == '.' || l.input[l.pos] == '[' || l.input[l.pos] == ']') {
				l.pos++
			}
			l.tokens = append(l.tokens, token{kind: tokIdent, text: l.input[start:l.pos], pos: start})

		default:
			return &ParseError{Input: l.input, Pos: l.pos, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return nil
}

type exprParser struct {
	tokens []token
	input  string
	pos    int
}

func (p *exprParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *exprParser) peek() token {
	if p.atEnd() {
		return token{pos: len(p.input)}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) parseOr() (exprAST, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() && p.peek().kind == tokOp && p.peek().text == "||" {
		p.pos++
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: "||", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseAnd() (exprAST, error) {
	lhs, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() && p.peek().kind == tokOp && p.peek().text == "&&" {
		p.pos++
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: "&&", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parseComparison() (exprAST, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() && p.peek().kind == tokOp {
		op := p.peek().text
		switch op {
		case "==", "!=", ">", "<", ">=", "<=":
			p.pos++
			rhs, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &binaryNode{op: op, lhs: lhs, rhs: rhs}, nil
		}
	}
	return lhs, nil
}

func (p *exprParser) parsePrimary() (exprAST, error) {
	if p.atEnd() {
		return nil, &ParseError{Input: p.input, Pos: len(p.input), Msg: "unexpected end of expression"}
	}

	tok := p.peek()
	switch tok.kind {
	case tokLParen:
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.atEnd() || p.peek().kind != tokRParen {
			return nil, &ParseError{Input: p.input, Pos: p.peek().pos, Msg: "missing closing parenthesis"}
		}
		p.pos++
		return node, nil

	case tokNumber:
		p.pos++
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &ParseError{Input: p.input, Pos: tok.pos, Msg: "invalid number literal"}
		}
		return &literalNode{value: f}, nil

	case tokString:
		p.pos++
		return &literalNode{value: tok.text}, nil

	case tokIdent:
		p.pos++
		switch tok.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null":
			return &literalNode{value: nil}, nil
		}
		path, err := parsePath(tok.text)
		if err != nil {
			return nil, err
		}
		return path, nil

	default:
		return nil, &ParseError{Input: p.input, Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q", tok.text)}
	}
}
