// Package filterdsl implements the filter expression language (C3):
// boolean combinations of regex field tests over a playlist item, with
// named templates that expand recursively at load time.
//
// The parser is a hand-written recursive-descent tokenizer + parser, the
// same technique the teacher uses for the HDHomeRun discovery packet TLVs
// (internal/hdhomerun/packet.go) and the M3U attribute line (internal/
// indexer/m3u.go) — no parser-combinator or PEG library is pulled in, since
// nothing in the example pack reaches for one for a grammar this small.
package filterdsl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ivgateway/ivproxy/internal/model"
)

// allowedFields is the closed set of fields a regex atom may test, per
// spec.md §4.3.
var allowedFields = map[string]bool{
	"Name": true, "Title": true, "Caption": true,
	"Group": true, "Url": true, "Input": true,
}

// Expr is a compiled filter expression. Evaluate is pure: it depends only
// on the expression and the item (spec invariant: filters have no side
// effects and no hidden state).
type Expr interface {
	Evaluate(it model.Item) bool
}

type notExpr struct{ inner Expr }

func (e notExpr) Evaluate(it model.Item) bool { return !e.inner.Evaluate(it) }

type andExpr struct{ left, right Expr }

func (e andExpr) Evaluate(it model.Item) bool { return e.left.Evaluate(it) && e.right.Evaluate(it) }

type orExpr struct{ left, right Expr }

func (e orExpr) Evaluate(it model.Item) bool { return e.left.Evaluate(it) || e.right.Evaluate(it) }

type regexAtom struct {
	field string
	re    *regexp.Regexp
}

func (e regexAtom) Evaluate(it model.Item) bool {
	v, ok := it.Field(e.field)
	if !ok {
		return false
	}
	return e.re.MatchString(v)
}

type typeAtom struct{ want model.ItemType }

func (e typeAtom) Evaluate(it model.Item) bool { return it.Type == e.want }

// Templates maps a template name (without the surrounding !…!) to its raw
// source text. Compile resolves !NAME! references recursively and fails at
// load time if a cycle is present, per spec.md §4.3.
type Templates map[string]string

// Compile parses src, expanding template references from templates, and
// returns the resulting Expr. src itself may also be referenced as a
// template by callers that pre-register it under a name.
func Compile(src string, templates Templates) (Expr, error) {
	expanded, err := expandTemplates(src, templates, map[string]bool{})
	if err != nil {
		return nil, err
	}
	p := &parser{toks: tokenize(expanded)}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("filterdsl: unexpected trailing token %q", p.toks[p.pos].text)
	}
	return e, nil
}

// expandTemplates replaces every !NAME! occurrence in src with its
// registered body, recursively, detecting cycles via the active set.
func expandTemplates(src string, templates Templates, active map[string]bool) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(src) {
		if src[i] == '!' {
			end := strings.IndexByte(src[i+1:], '!')
			if end < 0 {
				return "", fmt.Errorf("filterdsl: unterminated template reference in %q", src)
			}
			name := src[i+1 : i+1+end]
			if active[name] {
				return "", fmt.Errorf("filterdsl: template cycle detected at %q", name)
			}
			body, ok := templates[name]
			if !ok {
				return "", fmt.Errorf("filterdsl: unknown template %q", name)
			}
			active[name] = true
			expanded, err := expandTemplates(body, templates, active)
			if err != nil {
				return "", err
			}
			delete(active, name)
			out.WriteString("(")
			out.WriteString(expanded)
			out.WriteString(")")
			i += end + 2
			continue
		}
		out.WriteByte(src[i])
		i++
	}
	return out.String(), nil
}

// --- tokenizer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokLParen
	tokRParen
	tokTilde
	tokEquals
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) []token {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '~':
			toks = append(toks, token{tokTilde, "~"})
			i++
		case c == '=':
			toks = append(toks, token{tokEquals, "="})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' && j+1 < len(s) && (s[j+1] == '"' || s[j+1] == '\\') {
					sb.WriteByte(s[j+1])
					j += 2
					continue
				}
				sb.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r()~=", rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks
}

// --- recursive-descent parser: OR > AND > NOT > atom ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("filterdsl: expected ')', got %q", p.peek().text)
		}
		p.next()
		return e, nil
	}

	if p.peek().kind != tokIdent {
		return nil, fmt.Errorf("filterdsl: expected field name, got %q", p.peek().text)
	}
	field := p.next().text

	if field == "Type" {
		if p.peek().kind != tokEquals {
			return nil, fmt.Errorf("filterdsl: expected '=' after Type")
		}
		p.next()
		if p.peek().kind != tokIdent {
			return nil, fmt.Errorf("filterdsl: expected type value, got %q", p.peek().text)
		}
		valTok := p.next().text
		want, err := model.NormalizeItemType(strings.ToLower(valTok))
		if err != nil {
			return nil, fmt.Errorf("filterdsl: %w", err)
		}
		return typeAtom{want}, nil
	}

	if !allowedFields[field] {
		return nil, fmt.Errorf("filterdsl: unknown field %q", field)
	}
	if p.peek().kind != tokTilde {
		return nil, fmt.Errorf("filterdsl: expected '~' after field %q", field)
	}
	p.next()
	if p.peek().kind != tokString {
		return nil, fmt.Errorf("filterdsl: expected regex literal after '~'")
	}
	pattern := p.next().text
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("filterdsl: invalid regex %q: %w", pattern, err)
	}
	return regexAtom{field: field, re: re}, nil
}
