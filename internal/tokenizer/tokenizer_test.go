package tokenizer

import "testing"

func TestHeuristicCount(t *testing.T) {
	e := HeuristicEstimator{}

	cases := []struct {
		text    string
		padding int
		want    int
	}{
		{"", 0, 0},
		{"", 10, 10},
		{"abcd", 0, 1},
		{"abcde", 0, 2},
		{"abcdefgh", 0, 2},
		{"abcd", 64, 65},
	}
	for _, c := range cases {
		if got := e.CountTokens(c.text, c.padding); got != c.want {
			t.Fatalf("CountTokens(%q, %d) = %d, want %d", c.text, c.padding, got, c.want)
		}
	}
}

func TestHeuristicCountsRunesNotBytes(t *testing.T) {
	e := HeuristicEstimator{}
	// Four runes regardless of UTF-8 width.
	if got := e.CountTokens("äöüß", 0); got != 1 {
		t.Fatalf("CountTokens = %d, want 1", got)
	}
}
