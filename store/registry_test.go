package store_test

import (
	"strings"
	"testing"

	"github.com/jacentio/prism/store"
)

func TestNewMirrorRules(t *testing.T) {
	r := store.NewMirrorRules()
	if r == nil {
		t.Fatal("expected non-nil MirrorRules")
	}
}

func TestMirrorRules_Register(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{
		Collection: "users",
		Templates:  []string{"index/byEmail/entries/:id"},
	})

	rules := r.All()
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Collection != "users" {
		t.Errorf("expected collection 'users', got %q", rules[0].Collection)
	}
}

func TestMirrorRules_TemplatesFor(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{
		Collection: "users",
		Templates:  []string{"teams/t1/members/:id", "orgs/o1/members/:id"},
	})

	templates := r.TemplatesFor("users")
	if len(templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(templates))
	}
	if templates[0] != "teams/t1/members/:id" {
		t.Errorf("expected first template preserved, got %q", templates[0])
	}
}

func TestMirrorRules_TemplatesFor_Unregistered(t *testing.T) {
	r := store.NewMirrorRules()

	if ts := r.TemplatesFor("nothing"); len(ts) != 0 {
		t.Errorf("expected no templates for unregistered collection, got %v", ts)
	}
}

func TestMirrorRules_RegisterAppends(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{Collection: "users", Templates: []string{"a/b/c/:id"}})
	r.Register(store.Rule{Collection: "users", Templates: []string{"d/e/f/:id"}})

	templates := r.TemplatesFor("users")
	if len(templates) != 2 {
		t.Fatalf("expected templates from both registrations, got %v", templates)
	}
	if len(r.All()) != 2 {
		t.Errorf("expected both rules recorded, got %d", len(r.All()))
	}
}

func TestMirrorRules_PathsFor(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{
		Collection: "users",
		Templates:  []string{"teams/t1/members/:id", "orgs/o1/members/:id"},
	})

	paths := r.PathsFor("users", "u42")
	want := []string{"teams/t1/members/u42", "orgs/o1/members/u42"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, paths)
	}
}

func TestMirrorRules_PathsFor_Unregistered(t *testing.T) {
	r := store.NewMirrorRules()

	if paths := r.PathsFor("nothing", "u1"); paths != nil {
		t.Errorf("expected nil for unregistered collection, got %v", paths)
	}
}

func TestMirrorRules_HasRule(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{Collection: "users", Templates: []string{"a/b/c/:id"}})

	if !r.HasRule("users") {
		t.Error("expected rule for users")
	}
	if r.HasRule("orders") {
		t.Error("expected no rule for orders")
	}
	if r.HasRule("") {
		t.Error("expected no rule for empty collection")
	}
}

func TestMirrorRules_HasRule_EmptyTemplates(t *testing.T) {
	r := store.NewMirrorRules()

	// A rule with no templates mirrors nothing and reports as absent.
	r.Register(store.Rule{Collection: "users"})

	if r.HasRule("users") {
		t.Error("expected a template-less rule to report no mirrors")
	}
}

func TestMirrorRules_All_Order(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{Collection: "a", Templates: []string{"x/y/z/:id"}})
	r.Register(store.Rule{Collection: "b", Templates: []string{"x/y/z/:id"}})
	r.Register(store.Rule{Collection: "c", Templates: []string{"x/y/z/:id"}})

	rules := r.All()
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(rules))
	}
	for i, want := range []string{"a", "b", "c"} {
		if rules[i].Collection != want {
			t.Errorf("expected rules[%d] for %q, got %q", i, want, rules[i].Collection)
		}
	}
}

func TestMirrorRules_Empty(t *testing.T) {
	r := store.NewMirrorRules()

	if len(r.All()) != 0 {
		t.Errorf("expected no rules, got %d", len(r.All()))
	}
	if r.HasRule("anything") {
		t.Error("expected no rule in empty registry")
	}
}

func TestMirrorRules_SubcollectionSource(t *testing.T) {
	r := store.NewMirrorRules()

	r.Register(store.Rule{
		Collection: "teams/t1/members",
		Templates:  []string{"directory/global/members/:id"},
	})

	paths := r.PathsFor("teams/t1/members", "u1")
	if len(paths) != 1 || paths[0] != "directory/global/members/u1" {
		t.Errorf("expected nested source collection supported, got %v", paths)
	}
}
