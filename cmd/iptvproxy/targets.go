package main

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/ivgateway/ivproxy/internal/config"
	"github.com/ivgateway/ivproxy/internal/filterdsl"
	"github.com/ivgateway/ivproxy/internal/mapperdsl"
	"github.com/ivgateway/ivproxy/internal/model"
	"github.com/ivgateway/ivproxy/internal/pipeline"
	"github.com/ivgateway/ivproxy/internal/registry"
	"github.com/ivgateway/ivproxy/internal/rewrite"
)

// targetState holds one target's compiled pipeline.Target plus the latest
// post-pipeline snapshot. Snapshot updates swap the atomic.Value wholesale
// rather than mutate in place, matching spec.md's "hot-reload swaps by
// generation counter, never by mutation in place" composition-root rule.
type targetState struct {
	cfg    config.TargetConfig
	target pipeline.Target

	snapshot atomic.Value // holds *targetSnapshot
}

type targetSnapshot struct {
	items []model.Item
	byID  map[uint64]model.Item
	runID int64
}

func (ts *targetState) load() *targetSnapshot {
	v, _ := ts.snapshot.Load().(*targetSnapshot)
	if v == nil {
		return &targetSnapshot{byID: map[uint64]model.Item{}}
	}
	return v
}

func (ts *targetState) store(items []model.Item, runID int64) {
	byID := make(map[uint64]model.Item, len(items))
	for _, it := range items {
		byID[it.VirtualID] = it
	}
	ts.snapshot.Store(&targetSnapshot{items: items, byID: byID, runID: runID})
}

// buildTarget compiles a config.TargetConfig into a pipeline.Target,
// resolving filter/mapper DSL source text at startup so a malformed
// target definition fails loudly before the server starts accepting
// requests, not on first refresh.
func buildTarget(tc config.TargetConfig) (pipeline.Target, error) {
	t := pipeline.Target{
		Name:             tc.Name,
		ProcessingOrder:  pipeline.Order(tc.ProcessingOrder),
		RemoveDuplicates: tc.RemoveDuplicates,
		IgnoreLogo:       tc.IgnoreLogo,
		SortLess:         defaultSortLess,
	}

	if tc.IncludeFilter != "" {
		expr, err := filterdsl.Compile(tc.IncludeFilter, nil)
		if err != nil {
			return t, fmt.Errorf("target %s: include_filter: %w", tc.Name, err)
		}
		t.IncludeFilter = expr
	}
	if tc.OutputFilter != "" {
		expr, err := filterdsl.Compile(tc.OutputFilter, nil)
		if err != nil {
			return t, fmt.Errorf("target %s: output_filter: %w", tc.Name, err)
		}
		t.OutputFilter = expr
	}

	for _, r := range tc.Renames {
		rule, err := buildRenameRule(r)
		if err != nil {
			return t, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		t.Renames = append(t.Renames, rule)
	}

	for _, m := range tc.Mappings {
		entry, err := buildMappingEntry(m)
		if err != nil {
			return t, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		t.Mappings = append(t.Mappings, entry)
	}

	return t, nil
}

// defaultSortLess orders items deterministically by (type, group, caption)
// when a target declares no sort of its own; determinism matters more
// than any particular ordering (spec.md's byte-identical-output
// invariant).
func defaultSortLess(a, b model.Item) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Caption() < b.Caption()
}

// buildRenameRule compiles a "rename field To from field From, gated by
// Filter" rule: the literal reading of RenameRuleConfig as a field-to-field
// copy, matching the word "rename" more directly than a find/replace on
// one field would.
func buildRenameRule(r config.RenameRuleConfig) (pipeline.RenameRule, error) {
	var filter filterdsl.Expr
	if r.Filter != "" {
		expr, err := filterdsl.Compile(r.Filter, nil)
		if err != nil {
			return pipeline.RenameRule{}, fmt.Errorf("rename filter: %w", err)
		}
		filter = expr
	}
	from, to := r.From, r.To
	return pipeline.RenameRule{
		Field: to,
		Value: func(it model.Item) string {
			if filter != nil && !filter.Evaluate(it) {
				existing, _ := it.Field(to)
				return existing
			}
			v, _ := it.Field(from)
			return v
		},
	}, nil
}

func buildMappingEntry(m config.MappingEntryConfig) (pipeline.MappingEntry, error) {
	var filter filterdsl.Expr
	if m.Filter != "" {
		expr, err := filterdsl.Compile(m.Filter, nil)
		if err != nil {
			return pipeline.MappingEntry{}, fmt.Errorf("mapping filter: %w", err)
		}
		filter = expr
	}
	script, err := mapperdsl.Compile(m.Script)
	if err != nil {
		return pipeline.MappingEntry{}, fmt.Errorf("mapping script: %w", err)
	}
	return pipeline.MappingEntry{
		Filter:      filter,
		Script:      script,
		CreateAlias: m.CreateAlias,
		AliasDomain: uint8(aliasDomainFromName(m.AliasDomain)),
	}, nil
}

func aliasDomainFromName(name string) rewrite.Cluster {
	switch name {
	case "vod", "movie":
		return rewrite.ClusterVOD
	case "series":
		return rewrite.ClusterSeries
	default:
		return rewrite.ClusterLive
	}
}

// assignChno numbers live items by sort position within the target and
// persists each assignment to the identity registry so chno survives
// restarts (spec.md §4.6: "channel numbers are assigned deterministically
// from (sort position, counter rules)"). Mapper-declared chno counters
// already ran during the Map stage and take precedence: this only fills
// in items a mapping left at zero.
func assignChno(reg *registry.Registry, items []model.Item) {
	n := 0
	for i := range items {
		if items[i].Type != model.TypeLive {
			continue
		}
		if items[i].Chno == 0 {
			n++
			items[i].Chno = n
		}
		inputName, providerID := items[i].ProviderKey()
		if err := reg.AssignChno(inputName, providerID, items[i].Chno); err != nil {
			log.Printf("registry: assign chno %s/%s: %v", inputName, providerID, err)
		}
	}
}
