package mapperdsl

import (
	"testing"

	"github.com/ivgateway/ivproxy/internal/model"
)

func TestAssignmentsAndConcat(t *testing.T) {
	script, err := Compile(`@Title = concat("A", "-", "B")`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	it := model.Item{}
	if err := script.Run(&it, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it.Title != "A-B" {
		t.Fatalf("got Title=%q, want A-B", it.Title)
	}
}

func TestYearBucketingMapperLikeS5(t *testing.T) {
	src := `
year = @Caption ~ "\((\d{4})\)"
yearNum = number(year.1)
@Group = map yearNum {
	..2020 => concat("FR | MOVIES < 2020"),
	2020..2100 => concat("FR | MOVIES ", year.1)
}
`
	script, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	it1 := model.Item{Group: "FR Movies", Title: "Master (2018)"}
	if err := script.Run(&it1, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it1.Group != "FR | MOVIES < 2020" {
		t.Fatalf("got Group=%q, want 'FR | MOVIES < 2020'", it1.Group)
	}

	it2 := model.Item{Group: "FR Movies", Title: "Master (2021)"}
	if err := script.Run(&it2, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it2.Group != "FR | MOVIES 2021" {
		t.Fatalf("got Group=%q, want 'FR | MOVIES 2021'", it2.Group)
	}
}

func TestMatchExpression(t *testing.T) {
	src := `
hasLogo = @Logo
@Group = match {
	(hasLogo) => "has-logo",
	_ => "no-logo"
}
`
	script, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	it := model.Item{Logo: "http://x/logo.png"}
	if err := script.Run(&it, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it.Group != "has-logo" {
		t.Fatalf("got Group=%q, want has-logo", it.Group)
	}
}

func TestCounterSuffix(t *testing.T) {
	c := &Counter{Initial: 1, Field: CounterTitle, Modifier: ModifierSuffix, Concat: " #", Padding: 2}
	it := model.Item{Title: "Channel"}
	c.Apply(&it)
	if it.Title != "Channel #01" {
		t.Fatalf("got %q, want 'Channel #01'", it.Title)
	}
	c.Apply(&it)
	if it.Title != "Channel #01 #02" {
		t.Fatalf("got %q, want 'Channel #01 #02'", it.Title)
	}
}

func TestPadBuiltinPositions(t *testing.T) {
	if got := pad("5", 3, '0', ">"); got != "005" {
		t.Fatalf("pad right-align got %q", got)
	}
	if got := pad("5", 3, '0', "<"); got != "500" {
		t.Fatalf("pad left-align got %q", got)
	}
}
