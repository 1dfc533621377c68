package pipeline

import (
	"testing"

	"github.com/ivgateway/ivproxy/internal/filterdsl"
	"github.com/ivgateway/ivproxy/internal/mapperdsl"
	"github.com/ivgateway/ivproxy/internal/model"
)

func TestRunDropsFilteredItems(t *testing.T) {
	expr, err := filterdsl.Compile(`Group ~ "^DE.*"`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	items := []model.Item{
		{Group: "DE Sports", URL: "http://a/1"},
		{Group: "US Sports", URL: "http://a/2"},
	}
	out, err := Run(items, Target{Name: "t1", IncludeFilter: expr})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 || out[0].Group != "DE Sports" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestRunAppliesMappingAndOutputFilter(t *testing.T) {
	script, err := mapperdsl.Compile(`@Group = concat("X-", @Group)`)
	if err != nil {
		t.Fatalf("Compile mapper: %v", err)
	}
	outFilter, err := filterdsl.Compile(`Group ~ "^X-DE.*"`, nil)
	if err != nil {
		t.Fatalf("Compile filter: %v", err)
	}
	items := []model.Item{
		{Group: "DE", URL: "http://a/1"},
		{Group: "US", URL: "http://a/2"},
	}
	out, err := Run(items, Target{
		Name:            "t1",
		ProcessingOrder: DefaultOrder,
		Mappings:        []MappingEntry{{Script: script}},
		OutputFilter:    outFilter,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 1 || out[0].Group != "X-DE" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestRunRemoveDuplicatesByURL(t *testing.T) {
	items := []model.Item{
		{URL: "http://a/1"},
		{URL: "http://a/1"},
		{URL: "http://a/2"},
	}
	out, err := Run(items, Target{Name: "t1", RemoveDuplicates: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 items after dedup, got %d", len(out))
	}
}

func TestRunIgnoreLogoClearsLogoFields(t *testing.T) {
	items := []model.Item{{URL: "http://a/1", Logo: "http://logo", LogoSmall: "http://small"}}
	out, err := Run(items, Target{Name: "t1", IgnoreLogo: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out[0].Logo != "" || out[0].LogoSmall != "" {
		t.Fatalf("expected logo fields cleared, got %+v", out[0])
	}
}

func TestRunIsDeterministicAcrossRuns(t *testing.T) {
	items := []model.Item{
		{URL: "http://a/2", Name: "B"},
		{URL: "http://a/1", Name: "A"},
	}
	target := Target{
		Name:     "t1",
		SortLess: func(a, b model.Item) bool { return a.Name < b.Name },
	}
	out1, err := Run(append([]model.Item{}, items...), target)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out2, err := Run(append([]model.Item{}, items...), target)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out1) != len(out2) {
		t.Fatalf("length mismatch between runs")
	}
	for i := range out1 {
		if out1[i] != out2[i] {
			t.Fatalf("run %d mismatch: %+v vs %+v", i, out1[i], out2[i])
		}
	}
}
