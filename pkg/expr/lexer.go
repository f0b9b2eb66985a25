// Package expr implements the restricted expression language used by
// CONDITION nodes. It supports literals, variable paths, comparisons and
// boolean logic only: there are no function calls, assignments or loops.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var tokens []token

	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '"' || r == '\'':
			start := i
			quote := r
			i++

			var sb strings.Builder

			closed := false

			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2

					continue
				}

				if runes[i] == quote {
					closed = true
					i++

					break
				}

				sb.WriteRune(runes[i])
				i++
			}

			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
			}

			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && numberAllowed(tokens)):
			start := i
			i++

			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}

			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i

			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}

			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		default:
			matched := false

			for _, op := range twoCharOps {
				if i+1 < len(runes) && string(runes[i:i+2]) == op {
					tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
					i += 2
					matched = true

					break
				}
			}

			if matched {
				continue
			}

			if r == '<' || r == '>' || r == '!' {
				tokens = append(tokens, token{kind: tokOp, text: string(r), pos: i})
				i++

				continue
			}

			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}

	tokens = append(tokens, token{kind: tokEOF, pos: len(runes)})

	return tokens, nil
}

// A leading '-' is a sign only where an operand is expected.
func numberAllowed(prev []token) bool {
	if len(prev) == 0 {
		return true
	}

	last := prev[len(prev)-1]

	return last.kind == tokOp || last.kind == tokLParen ||
		(last.kind == tokIdent && isKeywordOp(last.text))
}

func isKeywordOp(word string) bool {
	switch strings.ToLower(word) {
	case "and", "or", "not", "contains":
		return true
	default:
		return false
	}
}
