package mapperdsl

import (
	"fmt"
	"regexp"

	"github.com/ivgateway/ivproxy/internal/model"
)

// Context is the execution environment for one item: its field set, the
// script's variable bindings, and a trace sink for the print() builtin.
type Context struct {
	Item  *model.Item
	Vars  map[string]Value
	Trace func(string)
}

func newContext(it *model.Item) *Context {
	return &Context{Item: it, Vars: make(map[string]Value)}
}

// Expr is any value-producing node.
type Expr interface {
	Eval(ctx *Context) (Value, error)
}

// Stmt is any effect-producing node (assignment).
type Stmt interface {
	Exec(ctx *Context) error
}

// --- literals and references ---

type literalExpr struct{ v Value }

func (e literalExpr) Eval(ctx *Context) (Value, error) { return e.v, nil }

type nullExpr struct{}

func (nullExpr) Eval(ctx *Context) (Value, error) { return Null(), nil }

type varExpr struct{ name string }

func (e varExpr) Eval(ctx *Context) (Value, error) {
	v, ok := ctx.Vars[e.name]
	if !ok {
		return Null(), nil
	}
	return v, nil
}

type fieldExpr struct{ name string }

func (e fieldExpr) Eval(ctx *Context) (Value, error) {
	v, ok := ctx.Item.Field(e.name)
	if !ok {
		return Null(), nil
	}
	return Str(v), nil
}

// propExpr accesses res.name or res.1 on a match-result-producing base.
type propExpr struct {
	base Expr
	prop string
}

func (e propExpr) Eval(ctx *Context) (Value, error) {
	base, err := e.base.Eval(ctx)
	if err != nil {
		return Null(), err
	}
	if base.Kind != KindMatch || base.Match == nil {
		return Null(), nil
	}
	if n, ok := atoiIndex(e.prop); ok {
		if n >= 0 && n < len(base.Match.Indexed) {
			return Str(base.Match.Indexed[n]), nil
		}
		return Null(), nil
	}
	if s, ok := base.Match.Named[e.prop]; ok {
		return Str(s), nil
	}
	return Null(), nil
}

func atoiIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// --- regex match ---

type regexMatchExpr struct {
	source  Expr
	pattern string
	re      *regexp.Regexp
}

func (e *regexMatchExpr) Eval(ctx *Context) (Value, error) {
	src, err := e.source.Eval(ctx)
	if err != nil {
		return Null(), err
	}
	if e.re == nil {
		re, err := regexp.Compile(e.pattern)
		if err != nil {
			return Null(), fmt.Errorf("mapperdsl: invalid regex %q: %w", e.pattern, err)
		}
		e.re = re
	}
	text := src.AsString()
	idx := e.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return Null(), nil
	}
	names := e.re.SubexpNames()
	mr := &MatchResult{}
	mr.Whole = text[idx[0]:idx[1]]
	mr.Named = make(map[string]string)
	for i := 1; i*2 < len(idx); i++ {
		var g string
		if idx[i*2] >= 0 {
			g = text[idx[i*2]:idx[i*2+1]]
		}
		mr.Indexed = append(mr.Indexed, g)
		if i < len(names) && names[i] != "" {
			mr.Named[names[i]] = g
		}
	}
	// index 0 placeholder so Indexed[1] is group 1, matching res.1 access.
	mr.Indexed = append([]string{mr.Whole}, mr.Indexed...)
	return Value{Kind: KindMatch, Match: mr}, nil
}

// --- call expressions (builtins) ---

type callExpr struct {
	name string
	args []Expr
}

func (e callExpr) Eval(ctx *Context) (Value, error) {
	vals := make([]Value, len(e.args))
	for i, a := range e.args {
		v, err := a.Eval(ctx)
		if err != nil {
			return Null(), err
		}
		vals[i] = v
	}
	return callBuiltin(ctx, e.name, vals)
}

// --- match{} expression ---

type matchCase struct {
	vars    []string // names checked for truthiness; empty+isDefault = "_"
	isDefault bool
	result  Expr
}

type matchExpr struct {
	cases []matchCase
}

func (e matchExpr) Eval(ctx *Context) (Value, error) {
	for _, c := range e.cases {
		if c.isDefault {
			return c.result.Eval(ctx)
		}
		allTruthy := true
		for _, name := range c.vars {
			v, ok := ctx.Vars[name]
			if !ok || !v.Truthy() {
				allTruthy = false
				break
			}
		}
		if allTruthy {
			return c.result.Eval(ctx)
		}
	}
	return Null(), nil
}

// --- map{} expression ---

type mapRange struct {
	hasLow, hasHigh bool
	low, high       float64
}

func (r mapRange) contains(n float64) bool {
	if r.hasLow && n < r.low {
		return false
	}
	if r.hasHigh && n >= r.high {
		return false
	}
	return true
}

type mapCase struct {
	literals  []Value // OR'd literal matches, e.g. "a"|"b" => expr
	rng       *mapRange
	isDefault bool
	result    Expr
}

type mapExpr struct {
	key   Expr
	cases []mapCase
}

func (e mapExpr) Eval(ctx *Context) (Value, error) {
	key, err := e.key.Eval(ctx)
	if err != nil {
		return Null(), err
	}
	for _, c := range e.cases {
		if c.isDefault {
			return c.result.Eval(ctx)
		}
		if c.rng != nil {
			n, err := key.AsNumber()
			if err == nil && c.rng.contains(n) {
				return c.result.Eval(ctx)
			}
			continue
		}
		for _, lit := range c.literals {
			if valuesEqual(lit, key) {
				return c.result.Eval(ctx)
			}
		}
	}
	return Null(), nil
}

func valuesEqual(a, b Value) bool {
	return a.AsString() == b.AsString()
}

// --- statements ---

type assignStmt struct {
	isField bool
	target  string
	expr    Expr
}

func (s assignStmt) Exec(ctx *Context) error {
	v, err := s.expr.Eval(ctx)
	if err != nil {
		return err
	}
	if s.isField {
		if !ctx.Item.SetField(s.target, v.AsString()) {
			return fmt.Errorf("mapperdsl: unknown field @%s", s.target)
		}
		return nil
	}
	ctx.Vars[s.target] = v
	return nil
}

// exprStmt evaluates an expression for its side effect only (print()).
type exprStmt struct{ expr Expr }

func (s exprStmt) Exec(ctx *Context) error {
	_, err := s.expr.Eval(ctx)
	return err
}
