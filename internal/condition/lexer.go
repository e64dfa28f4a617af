// Package condition implements the boolean expression language used by
// branching plan steps. Expressions are evaluated against a prior step
// result and always yield a boolean or a descriptive validation error,
// never a silent default.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError describes a malformed expression.
type SyntaxError struct {
	// Pos is the byte offset where the error was detected.
	Pos int
	// Msg describes what went wrong.
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition syntax error at offset %d: %s", e.Pos, e.Msg)
}

// tokenKind classifies lexer tokens.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOp
	tokenDot
	tokenLParen
	tokenRParen
)

// token is one lexical unit of an expression.
type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes an expression string.
func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '.':
			tokens = append(tokens, token{kind: tokenDot, text: ".", pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case c == '\'' || c == '"':
			s, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: s, pos: i})
			i = next
		case c == '=' || c == '!' || c == '<' || c == '>':
			op, next, err := lexOperator(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenOp, text: op, pos: i})
			i = next
		case c == '-' || (c >= '0' && c <= '9'):
			n, next, err := lexNumber(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenNumber, text: n, pos: i})
			i = next
		case c == '_' || unicode.IsLetter(rune(c)):
			start := i
			for i < len(input) && (input[i] == '_' || unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i]))) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: input[start:i], pos: start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(input)})
	return tokens, nil
}

// lexString reads a quoted string starting at pos.
func lexString(input string, pos int) (string, int, error) {
	quote := input[pos]
	var sb strings.Builder
	i := pos + 1
	for i < len(input) {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			sb.WriteByte(input[i+1])
			i += 2
			continue
		}
		if c == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, &SyntaxError{Pos: pos, Msg: "unterminated string literal"}
}

// lexOperator reads a comparison operator starting at pos.
func lexOperator(input string, pos int) (string, int, error) {
	rest := input[pos:]
	for _, op := range []string{"==", "!=", ">=", "<="} {
		if strings.HasPrefix(rest, op) {
			return op, pos + 2, nil
		}
	}
	switch input[pos] {
	case '>', '<':
		return string(input[pos]), pos + 1, nil
	}
	return "", 0, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", input[pos])}
}

// lexNumber reads a numeric literal starting at pos.
func lexNumber(input string, pos int) (string, int, error) {
	i := pos
	if input[i] == '-' {
		i++
	}
	start := i
	for i < len(input) && (input[i] >= '0' && input[i] <= '9' || input[i] == '.') {
		i++
	}
	text := input[pos:i]
	if start == i {
		return "", 0, &SyntaxError{Pos: pos, Msg: "expected digits after '-'"}
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return "", 0, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	return text, i, nil
}
