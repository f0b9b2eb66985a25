package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type node interface {
	eval(vars map[string]any) any
}

type literal struct{ value any }

type variable struct{ path []string }

type unary struct{ operand node }

type binary struct {
	op          string
	left, right node
}

// Program is a parsed expression, safe for concurrent evaluation.
type Program struct {
	source string
	root   node
}

// Source returns the original expression text.
func (p *Program) Source() string {
	return p.source
}

// Compile parses src.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}

	return &Program{source: src, root: root}, nil
}

// Eval evaluates the program against vars. The result is a bool, float64,
// string or nil.
func (p *Program) Eval(vars map[string]any) any {
	return p.root.eval(vars)
}

// EvalBool evaluates the program and applies truthiness to the result.
func (p *Program) EvalBool(vars map[string]any) bool {
	return Truthy(p.Eval(vars))
}

// Evaluate compiles and evaluates src in one call.
func Evaluate(src string, vars map[string]any) (any, error) {
	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}

	return prog.Eval(vars), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}

	return tok
}

func (p *parser) matchOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != tokOp && tok.kind != tokIdent {
		return "", false
	}

	text := tok.text
	if tok.kind == tokIdent {
		text = strings.ToLower(text)
	}

	for _, op := range ops {
		if text == op {
			p.next()

			return op, true
		}
	}

	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for {
		if _, ok := p.matchOp("||", "or"); !ok {
			return left, nil
		}

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		left = &binary{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for {
		if _, ok := p.matchOp("&&", "and"); !ok {
			return left, nil
		}

		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		left = &binary{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.matchOp("!", "not"); ok {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		return &unary{operand: operand}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	op, ok := p.matchOp("==", "!=", "<=", ">=", "<", ">", "contains")
	if !ok {
		return left, nil
	}

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	return &binary{op: op, left: left, right: right}, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
		}

		return &literal{value: f}, nil
	case tokString:
		return &literal{value: tok.text}, nil
	case tokIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return &literal{value: true}, nil
		case "false":
			return &literal{value: false}, nil
		case "null", "nil":
			return &literal{value: nil}, nil
		}

		if isKeywordOp(tok.text) {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected operator %q", tok.text)}
		}

		if strings.HasPrefix(tok.text, ".") || strings.HasSuffix(tok.text, ".") || strings.Contains(tok.text, "..") {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid variable path %q", tok.text)}
		}

		return &variable{path: strings.Split(tok.text, ".")}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "missing closing parenthesis"}
		}

		return inner, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}
}

func (l *literal) eval(map[string]any) any {
	return l.value
}

// Variable paths may be written with or without a leading "vars." or
// "variables." root.
func (v *variable) eval(vars map[string]any) any {
	if val, ok := lookup(vars, v.path); ok {
		return normalize(val)
	}

	if len(v.path) > 1 && (v.path[0] == "vars" || v.path[0] == "variables") {
		if val, ok := lookup(vars, v.path[1:]); ok {
			return normalize(val)
		}
	}

	return nil
}

func lookup(vars map[string]any, path []string) (any, bool) {
	var current any = vars

	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func (u *unary) eval(vars map[string]any) any {
	return !Truthy(u.operand.eval(vars))
}

func (b *binary) eval(vars map[string]any) any {
	switch b.op {
	case "&&":
		return Truthy(b.left.eval(vars)) && Truthy(b.right.eval(vars))
	case "||":
		return Truthy(b.left.eval(vars)) || Truthy(b.right.eval(vars))
	}

	left, right := b.left.eval(vars), b.right.eval(vars)

	switch b.op {
	case "==":
		return equal(left, right)
	case "!=":
		return !equal(left, right)
	case "contains":
		return contains(left, right)
	default:
		return compare(b.op, left, right)
	}
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify renders a value the way outcomes are matched.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ab, ok := a.(bool); ok {
		return ab == Truthy(b)
	}

	if bb, ok := b.(bool); ok {
		return bb == Truthy(a)
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)

	if aok && bok {
		return an == bn
	}

	return strings.EqualFold(Stringify(a), Stringify(b))
}

func compare(op string, a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)

	var cmp int

	switch {
	case aok && bok:
		switch {
		case an < bn:
			cmp = -1
		case an > bn:
			cmp = 1
		}
	case a == nil || b == nil:
		return false
	default:
		cmp = strings.Compare(Stringify(a), Stringify(b))
	}

	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if equal(normalize(item), needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}

		return false
	case nil:
		return false
	default:
		return strings.Contains(strings.ToLower(Stringify(h)), strings.ToLower(Stringify(needle)))
	}
}

// Truthy reports the boolean interpretation of an evaluated value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return parsed
		}

		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
