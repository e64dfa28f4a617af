package condition

import (
	"fmt"
	"strconv"
)

// expression is a parsed condition: comparisons joined left-to-right by
// and/or connectives. There is no operator precedence; the connectives
// are applied as a strict left-to-right fold.
type expression struct {
	comparisons []comparisonNode
	// connectives[i] joins comparisons[i] and comparisons[i+1] ("and" or "or").
	connectives []string
}

// comparisonNode is one comparison clause.
type comparisonNode interface{ isComparison() }

// boolLiteral is a bare "true" or "false" clause.
type boolLiteral bool

// nullCheck is an "accessor is_null" / "accessor is_not_null" clause.
type nullCheck struct {
	acc     *accessor
	negated bool
}

// binaryComparison is an "accessor OP value" clause.
type binaryComparison struct {
	acc *accessor
	op  string
	// value is the literal right operand: string, float64, bool, or nil.
	value any
}

func (boolLiteral) isComparison()       {}
func (*nullCheck) isComparison()        {}
func (*binaryComparison) isComparison() {}

// accessor is a dotted path rooted at "result", optionally wrapped in len().
type accessor struct {
	// path holds the dotted field names after "result".
	path []string
	// length, when set, means this accessor is len(<length>).
	length *accessor
	// text is the original source form, used in error messages.
	text string
}

// parser consumes a token stream.
type parser struct {
	tokens []token
	pos    int
}

// parse compiles an expression string.
func parse(input string) (*expression, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}

	expr := &expression{}
	cmp, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	expr.comparisons = append(expr.comparisons, cmp)

	for {
		tok := p.peek()
		if tok.kind == tokenEOF {
			break
		}
		if tok.kind != tokenIdent || (tok.text != "and" && tok.text != "or") {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q, expected 'and' or 'or'", tok.text)}
		}
		p.next()
		cmp, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		expr.connectives = append(expr.connectives, tok.text)
		expr.comparisons = append(expr.comparisons, cmp)
	}

	return expr, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

// parseComparison parses one comparison clause.
func (p *parser) parseComparison() (comparisonNode, error) {
	tok := p.peek()
	if tok.kind == tokenIdent && (tok.text == "true" || tok.text == "false") {
		p.next()
		return boolLiteral(tok.text == "true"), nil
	}

	acc, err := p.parseAccessor()
	if err != nil {
		return nil, err
	}

	tok = p.next()
	switch {
	case tok.kind == tokenIdent && tok.text == "is_null":
		return &nullCheck{acc: acc}, nil
	case tok.kind == tokenIdent && tok.text == "is_not_null":
		return &nullCheck{acc: acc, negated: true}, nil
	case tok.kind == tokenIdent && tok.text == "contains":
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &binaryComparison{acc: acc, op: "contains", value: val}, nil
	case tok.kind == tokenOp:
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &binaryComparison{acc: acc, op: tok.text, value: val}, nil
	default:
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q, expected operator", tok.text)}
	}
}

// parseAccessor parses "result.<field>..." or "len(<accessor>)".
func (p *parser) parseAccessor() (*accessor, error) {
	tok := p.next()
	if tok.kind != tokenIdent {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q, expected accessor", tok.text)}
	}

	if tok.text == "len" {
		if open := p.next(); open.kind != tokenLParen {
			return nil, &SyntaxError{Pos: open.pos, Msg: "expected '(' after len"}
		}
		inner, err := p.parseAccessor()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "expected ')' to close len"}
		}
		return &accessor{length: inner, text: "len(" + inner.text + ")"}, nil
	}

	if tok.text != "result" {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("accessor must start with 'result', got %q", tok.text)}
	}

	acc := &accessor{text: "result"}
	for p.peek().kind == tokenDot {
		p.next()
		field := p.next()
		if field.kind != tokenIdent {
			return nil, &SyntaxError{Pos: field.pos, Msg: "unterminated accessor: expected field name after '.'"}
		}
		acc.path = append(acc.path, field.text)
		acc.text += "." + field.text
	}
	if len(acc.path) == 0 {
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unterminated accessor: expected '.' after 'result'"}
	}
	return acc, nil
}

// parseValue parses a literal right operand.
func (p *parser) parseValue() (any, error) {
	tok := p.next()
	switch tok.kind {
	case tokenString:
		return tok.text, nil
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
		}
		return f, nil
	case tokenIdent:
		switch tok.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected token %q, expected value", tok.text)}
}
