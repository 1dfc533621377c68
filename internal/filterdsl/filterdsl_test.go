package filterdsl

import (
	"testing"

	"github.com/ivgateway/ivproxy/internal/model"
)

func TestCompileAndEvaluate(t *testing.T) {
	expr, err := Compile(`((Group ~ "^DE.*") AND (NOT Title ~ ".*Shopping.*")) OR (Group ~ "^AU.*")`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	cases := []struct {
		item model.Item
		want bool
	}{
		{model.Item{Group: "DE Sports", Title: "News HD"}, true},
		{model.Item{Group: "DE Shop", Title: "Big Shopping"}, false},
		{model.Item{Group: "AU 4K", Title: "Anything"}, true},
	}
	for _, c := range cases {
		got := expr.Evaluate(c.item)
		if got != c.want {
			t.Errorf("Evaluate(%+v) = %v, want %v", c.item, got, c.want)
		}
	}
}

func TestCompileTypeAtomWithMovieAlias(t *testing.T) {
	expr, err := Compile(`Type = movie`, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !expr.Evaluate(model.Item{Type: model.TypeVOD}) {
		t.Fatal("expected movie alias to match TypeVOD")
	}
	if expr.Evaluate(model.Item{Type: model.TypeLive}) {
		t.Fatal("expected live item not to match")
	}
}

func TestCompileUnknownFieldFails(t *testing.T) {
	if _, err := Compile(`Bogus ~ "x"`, nil); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestTemplateExpansion(t *testing.T) {
	templates := Templates{
		"SPORTS": `Group ~ "^Sport.*"`,
	}
	expr, err := Compile(`!SPORTS! OR Group ~ "^News.*"`, templates)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !expr.Evaluate(model.Item{Group: "Sport1"}) {
		t.Fatal("expected template-expanded clause to match")
	}
}

func TestTemplateCycleDetected(t *testing.T) {
	templates := Templates{
		"A": `!B! OR Group ~ "^X.*"`,
		"B": `!A!`,
	}
	if _, err := Compile(`!A!`, templates); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestTemplateUnknownNameFails(t *testing.T) {
	if _, err := Compile(`!MISSING!`, Templates{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
