package utils

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"ws-1", "*", true},
		{"", "*", true},
		{"ws-1", "ws-1", true},
		{"ws-1", "ws-2", false},
		{"ws-1", "ws-*", true},
		{"org-1", "ws-*", false},
		{"ws-", "ws-*", true},
		{"anything", "", false},
		{"", "", true},
	}
	for _, tt := range tests {
		if got := Match(tt.value, tt.pattern); got != tt.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tt.value, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"org-1", "ws-*"}
	if !MatchAny("ws-7", patterns) {
		t.Fatalf("ws-7 should match ws-*")
	}
	if !MatchAny("org-1", patterns) {
		t.Fatalf("org-1 should match exactly")
	}
	if MatchAny("org-2", patterns) {
		t.Fatalf("org-2 matches nothing")
	}
	if MatchAny("ws-7", nil) {
		t.Fatalf("empty pattern list matches nothing")
	}
}
