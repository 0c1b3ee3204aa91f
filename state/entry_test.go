package state

import (
	"testing"
)

func TestValueKindValid(t *testing.T) {
	tests := []struct {
		kind  ValueKind
		valid bool
	}{
		{KindScalar, true},
		{KindList, true},
		{KindSet, true},
		{KindHash, true},
		{KindScoreMap, true},
		{ValueKind(""), false},
		{ValueKind("blob"), false},
		{ValueKind("Scalar"), false},
	}
	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.valid {
			t.Errorf("ValueKind(%q).Valid() = %v, want %v", tt.kind, got, tt.valid)
		}
	}
}

func TestValueValidateRejectsUnknownKind(t *testing.T) {
	v := Value{Kind: ValueKind("graph")}
	if err := v.Validate(); err == nil {
		t.Fatal("Validate() accepted a kind outside the closed set")
	}
	if err := ScalarValue("x").Validate(); err != nil {
		t.Errorf("Validate() rejected a scalar: %v", err)
	}
}

func TestCanonicalSortsOrderIndependentContainers(t *testing.T) {
	a := SetValue("c", "a", "b").canonical()
	b := SetValue("b", "c", "a").canonical()
	if len(a.Set) != 3 || a.Set[0] != "a" || a.Set[1] != "b" || a.Set[2] != "c" {
		t.Errorf("canonical set not sorted: %v", a.Set)
	}
	for i := range a.Set {
		if a.Set[i] != b.Set[i] {
			t.Errorf("canonical forms differ at %d: %v vs %v", i, a.Set, b.Set)
		}
	}

	s := ScoreMapValue(
		ScoredMember{Member: "z", Score: 1},
		ScoredMember{Member: "a", Score: 2},
	).canonical()
	if s.ScoreMap[0].Member != "a" || s.ScoreMap[1].Member != "z" {
		t.Errorf("canonical score-map not sorted by member: %v", s.ScoreMap)
	}
}

func TestCanonicalPreservesListOrder(t *testing.T) {
	v := ListValue("third", "first", "second").canonical()
	want := []string{"third", "first", "second"}
	for i := range want {
		if v.List[i] != want[i] {
			t.Fatalf("canonical list reordered data: got %v, want %v", v.List, want)
		}
	}
}

func TestCanonicalDoesNotAliasInput(t *testing.T) {
	orig := SetValue("b", "a")
	c := orig.canonical()
	c.Set[0] = "mutated"
	if orig.Set[0] == "mutated" || orig.Set[1] == "mutated" {
		t.Error("canonical() aliased the input slice")
	}

	h := HashValue(map[string]string{"k": "v"})
	ch := h.canonical()
	ch.Hash["k"] = "mutated"
	if h.Hash["k"] == "mutated" {
		t.Error("canonical() aliased the input map")
	}
}
