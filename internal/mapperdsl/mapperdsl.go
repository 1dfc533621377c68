// Package mapperdsl implements the mapper scripting language (C4): field
// and variable assignment, match{}/map{} branching, regex capture bundles,
// the builtin function set, per-target counters, and create_alias cloning.
//
// Parsing follows the same hand-written recursive-descent technique as
// internal/filterdsl, sharing the teacher's general parsing texture
// (internal/hdhomerun/packet.go, internal/indexer/m3u.go) rather than a
// grammar library.
package mapperdsl

import (
	"fmt"

	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/rewrite"
)

// Script is a compiled mapper program, ready to run against items.
type Script struct {
	stmts []Stmt
}

// Compile parses src into a runnable Script.
func Compile(src string) (*Script, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	stmts, err := newParser(toks).parseScript()
	if err != nil {
		return nil, err
	}
	return &Script{stmts: stmts}, nil
}

// Run executes the script against it, mutating it's fields in place via
// @field assignments. trace receives print() builtin output, or may be nil.
func (s *Script) Run(it *model.Item, trace func(string)) error {
	ctx := newContext(it)
	ctx.Trace = trace
	for _, st := range s.stmts {
		if err := st.Exec(ctx); err != nil {
			return fmt.Errorf("mapperdsl: %w", err)
		}
	}
	return nil
}

// CounterField is the closed set of fields a Counter may drive.
type CounterField string

const (
	CounterTitle CounterField = "title"
	CounterName  CounterField = "name"
	CounterChno  CounterField = "chno"
)

// CounterModifier controls how the counter's numeric token combines with
// the target field's existing value.
type CounterModifier string

const (
	ModifierAssign CounterModifier = "assign"
	ModifierSuffix CounterModifier = "suffix"
	ModifierPrefix CounterModifier = "prefix"
)

// Counter advances a per-mapping numeric sequence across items in a
// target, in item order, scoped to the counter itself (spec.md §4.4).
type Counter struct {
	Filter  string // optional filterdsl expression source; empty = always applies
	Initial int
	Field   CounterField
	Modifier CounterModifier
	Concat  string // separator between existing value and counter token, for suffix/prefix
	Padding int    // zero-pad width; 0 = no padding

	current int
	started bool
}

// Next advances and returns the counter's numeric token as a zero-padded
// string, per Padding.
func (c *Counter) Next() string {
	if !c.started {
		c.current = c.Initial
		c.started = true
	} else {
		c.current++
	}
	return padNumber(c.current, c.Padding)
}

func padNumber(n, width int) string {
	s := fmt.Sprintf("%d", n)
	if width <= len(s) {
		return s
	}
	return pad(s, width, '0', ">")
}

// Apply writes the counter's next token into the item's target field
// according to Modifier.
func (c *Counter) Apply(it *model.Item) {
	token := c.Next()
	var cur string
	switch c.Field {
	case CounterTitle:
		cur = it.Title
	case CounterName:
		cur = it.Name
	case CounterChno:
		cur = fmt.Sprintf("%d", it.Chno)
	}

	var next string
	switch c.Modifier {
	case ModifierSuffix:
		next = cur + c.Concat + token
	case ModifierPrefix:
		next = token + c.Concat + cur
	default: // assign
		next = token
	}

	switch c.Field {
	case CounterTitle:
		it.Title = next
	case CounterName:
		it.Name = next
	case CounterChno:
		fmt.Sscanf(next, "%d", &it.Chno)
	}
}

// CreateAlias produces the domain-separated clone spec.md §4.4 describes:
// when create_alias is true, a successful mapper match emits both the
// original item and a clone whose virtual ID differs only by domain
// separation, using the same BLAKE3 derivation as the identity/rewrite
// layer (C1) so the two stay derivable from the same inputs forever.
func CreateAlias(it model.Item, aliasDomain rewrite.Cluster) model.Item {
	clone := it
	inputName, providerID := it.ProviderKey()
	clone.VirtualID = rewrite.DeriveVirtualID(inputName, providerID, aliasDomain)
	return clone
}
