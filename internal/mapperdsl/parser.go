package mapperdsl

import (
	"fmt"
	"strconv"
)

type parser struct {
	toks []token
	pos  int
}

func newParser(toks []token) *parser { return &parser{toks: toks} }

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.peek().kind != k {
		return token{}, fmt.Errorf("mapperdsl: expected %s at line %d, got %q", what, p.peek().line, p.peek().text)
	}
	return p.next(), nil
}

// parseScript parses a sequence of statements until EOF.
func (p *parser) parseScript() ([]Stmt, error) {
	var stmts []Stmt
	for p.peek().kind != tkEOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	if p.peek().kind == tkAt {
		p.next()
		name, err := p.expect(tkIdent, "field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkEquals, "'='"); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return assignStmt{isField: true, target: name.text, expr: expr}, nil
	}

	if p.peek().kind == tkIdent {
		// Lookahead: "ident =" is an assignment; otherwise it's an
		// expression statement (print(...) is the only practical case).
		save := p.pos
		name := p.next()
		if p.peek().kind == tkEquals {
			p.next()
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return assignStmt{isField: false, target: name.text, expr: expr}, nil
		}
		p.pos = save
	}

	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return exprStmt{expr: expr}, nil
}

// parseExpr parses one value-producing expression: primary, optionally
// chained through `~ "regex"` and `.prop` accessors.
func (p *parser) parseExpr() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tkTilde:
			p.next()
			strTok, err := p.expect(tkString, "regex literal")
			if err != nil {
				return nil, err
			}
			e = &regexMatchExpr{source: e, pattern: strTok.text}
		case tkDot:
			p.next()
			propTok := p.next()
			e = propExpr{base: e, prop: propTok.text}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tkString:
		p.next()
		return literalExpr{v: Str(t.text)}, nil
	case tkNumber:
		p.next()
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("mapperdsl: bad number literal %q", t.text)
		}
		return literalExpr{v: Num(n)}, nil
	case tkAt:
		p.next()
		name, err := p.expect(tkIdent, "field name")
		if err != nil {
			return nil, err
		}
		return fieldExpr{name: name.text}, nil
	case tkIdent:
		switch t.text {
		case "null":
			p.next()
			return nullExpr{}, nil
		case "match":
			return p.parseMatch()
		case "map":
			return p.parseMap()
		default:
			p.next()
			if p.peek().kind == tkLParen {
				return p.parseCall(t.text)
			}
			return varExpr{name: t.text}, nil
		}
	case tkLParen:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("mapperdsl: unexpected token %q at line %d", t.text, t.line)
	}
}

func (p *parser) parseCall(name string) (Expr, error) {
	if _, err := p.expect(tkLParen, "'('"); err != nil {
		return nil, err
	}
	var args []Expr
	for p.peek().kind != tkRParen {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.peek().kind == tkComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tkRParen, "')'"); err != nil {
		return nil, err
	}
	return callExpr{name: name, args: args}, nil
}

// parseMatch parses: match { varList => expr , ... , _ => default }
// where varList is "(a, b)" or a single bare name.
func (p *parser) parseMatch() (Expr, error) {
	p.next() // "match"
	if _, err := p.expect(tkLBrace, "'{'"); err != nil {
		return nil, err
	}
	var cases []matchCase
	for p.peek().kind != tkRBrace {
		var c matchCase
		if p.peek().kind == tkUnderscore {
			p.next()
			c.isDefault = true
		} else if p.peek().kind == tkLParen {
			p.next()
			for p.peek().kind != tkRParen {
				name, err := p.expect(tkIdent, "variable name")
				if err != nil {
					return nil, err
				}
				c.vars = append(c.vars, name.text)
				if p.peek().kind == tkComma {
					p.next()
					continue
				}
				break
			}
			if _, err := p.expect(tkRParen, "')'"); err != nil {
				return nil, err
			}
		} else {
			name, err := p.expect(tkIdent, "variable name or '_'")
			if err != nil {
				return nil, err
			}
			c.vars = []string{name.text}
		}
		if _, err := p.expect(tkFatArrow, "'=>'"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.result = result
		cases = append(cases, c)
		if p.peek().kind == tkComma {
			p.next()
		}
	}
	if _, err := p.expect(tkRBrace, "'}'"); err != nil {
		return nil, err
	}
	return matchExpr{cases: cases}, nil
}

// parseMap parses: map keyExpr { literal(|literal)* => expr , range => expr , _ => default }
func (p *parser) parseMap() (Expr, error) {
	p.next() // "map"
	key, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tkLBrace, "'{'"); err != nil {
		return nil, err
	}
	var cases []mapCase
	for p.peek().kind != tkRBrace {
		c, err := p.parseMapCase()
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
		if p.peek().kind == tkComma {
			p.next()
		}
	}
	if _, err := p.expect(tkRBrace, "'}'"); err != nil {
		return nil, err
	}
	return mapExpr{key: key, cases: cases}, nil
}

func (p *parser) parseMapCase() (mapCase, error) {
	var c mapCase
	if p.peek().kind == tkUnderscore {
		p.next()
		c.isDefault = true
	} else if isRangeStart(p) {
		rng, err := p.parseRange()
		if err != nil {
			return c, err
		}
		c.rng = &rng
	} else {
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return c, err
			}
			c.literals = append(c.literals, lit)
			if p.peek().kind == tkIdent && p.peek().text == "or" {
				p.next()
				continue
			}
			break
		}
	}
	if _, err := p.expect(tkFatArrow, "'=>'"); err != nil {
		return c, err
	}
	result, err := p.parseExpr()
	if err != nil {
		return c, err
	}
	c.result = result
	return c, nil
}

// isRangeStart looks ahead for "a..", "..b", or "a..b" patterns, which
// begin with either a number immediately followed by ".." or a bare "..".
func isRangeStart(p *parser) bool {
	if p.peek().kind == tkDotDot {
		return true
	}
	if p.peek().kind == tkNumber && p.toks[min(p.pos+1, len(p.toks)-1)].kind == tkDotDot {
		return true
	}
	return false
}

func (p *parser) parseRange() (mapRange, error) {
	var r mapRange
	if p.peek().kind == tkNumber {
		n, err := strconv.ParseFloat(p.next().text, 64)
		if err != nil {
			return r, err
		}
		r.hasLow = true
		r.low = n
	}
	if _, err := p.expect(tkDotDot, "'..'"); err != nil {
		return r, err
	}
	if p.peek().kind == tkNumber {
		n, err := strconv.ParseFloat(p.next().text, 64)
		if err != nil {
			return r, err
		}
		r.hasHigh = true
		r.high = n
	}
	return r, nil
}

func (p *parser) parseLiteral() (Value, error) {
	switch p.peek().kind {
	case tkString:
		return Str(p.next().text), nil
	case tkNumber:
		n, err := strconv.ParseFloat(p.next().text, 64)
		if err != nil {
			return Null(), err
		}
		return Num(n), nil
	default:
		return Null(), fmt.Errorf("mapperdsl: expected literal at line %d, got %q", p.peek().line, p.peek().text)
	}
}
