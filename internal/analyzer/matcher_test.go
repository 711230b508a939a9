package analyzer

import (
	"slices"
	"strings"
	"testing"
)

func TestFindTermMatches(t *testing.T) {
	content := "A barn owl hunts at night. Owls are silent fliers! Is the OWL nocturnal? Hawks are not."
	got := FindTermMatches(content, []string{"owl", "hawk", "eagle", " "})

	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %+v", got)
	}
	if got[0].Term != "owl" || got[0].Count != 3 {
		t.Errorf("owl match = %+v", got[0])
	}
	want := []string{"A barn owl hunts at night.", "Owls are silent fliers!", "Is the OWL nocturnal?"}
	if !slices.Equal(got[0].Sentences, want) {
		t.Errorf("owl sentences = %q", got[0].Sentences)
	}
	if got[1].Term != "hawk" || got[1].Count != 1 || got[1].Sentences[0] != "Hawks are not." {
		t.Errorf("hawk match = %+v", got[1])
	}
}

func TestFindTermMatches_Empty(t *testing.T) {
	if got := FindTermMatches("", []string{"owl"}); got != nil {
		t.Errorf("expected nil for empty content, got %v", got)
	}
	if got := FindTermMatches("owl", nil); got != nil {
		t.Errorf("expected nil for no terms, got %v", got)
	}
}

func TestMetadataText(t *testing.T) {
	got := MetadataText(map[string]any{"page_title": "Trams of Lisbon", "alt": " Yellow tram. ", "width": 400, "name": ""})
	if got != "Yellow tram. Trams of Lisbon." {
		t.Errorf("MetadataText() = %q", got)
	}
	if got := MetadataText(map[string]any{"width": 400}); got != "" {
		t.Errorf("expected no text, got %q", got)
	}
}

func TestContainsAny(t *testing.T) {
	if !ContainsAny("Flooded street in Lisbon", []string{"rain", "lisbon"}) {
		t.Error("expected a match on lisbon")
	}
	if ContainsAny("Flooded street", []string{"", "porto"}) {
		t.Error("unexpected match")
	}
}

func TestSplitIntoSentences_TrailingText(t *testing.T) {
	got := splitIntoSentences("One. Two")
	if len(got) != 2 || got[1].original != "Two" {
		t.Errorf("unexpected split %+v", got)
	}
}
