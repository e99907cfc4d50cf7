package match

import "testing"

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		comment  string
		keywords []string
		want     bool
	}{
		{
			name:     "exact substring",
			comment:  "send me the link please",
			keywords: []string{"link"},
			want:     true,
		},
		{
			name:     "case insensitive",
			comment:  "LINK PLEASE",
			keywords: []string{"link"},
			want:     true,
		},
		{
			name:     "whitespace stripped",
			comment:  "l i n k please",
			keywords: []string{"link"},
			want:     true,
		},
		{
			name:     "typo substitution digits",
			comment:  "pric3 check",
			keywords: []string{"price"},
			want:     true,
		},
		{
			name:     "dropped character in word",
			comment:  "Please send the ling!",
			keywords: []string{"link"},
			want:     true,
		},
		{
			name:     "keyword contained in longer word",
			comment:  "hii there",
			keywords: []string{"hi"},
			want:     true,
		},
		{
			name:     "word contained in keyword",
			comment:  "more inf please",
			keywords: []string{"info"},
			want:     true,
		},
		{
			name:     "no match",
			comment:  "xyz",
			keywords: []string{"link"},
			want:     false,
		},
		{
			name:     "unrelated text",
			comment:  "what a great day outside",
			keywords: []string{"price"},
			want:     false,
		},
		{
			name:     "second keyword matches",
			comment:  "dm me the deets",
			keywords: []string{"price", "dm"},
			want:     true,
		},
		{
			name:     "keyword trimmed before compare",
			comment:  "send info now",
			keywords: []string{"  info  "},
			want:     true,
		},
		{
			name:     "empty keyword list",
			comment:  "anything at all",
			keywords: nil,
			want:     false,
		},
		{
			name:     "blank keyword ignored",
			comment:  "anything at all",
			keywords: []string{"   "},
			want:     false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Matches(tc.comment, tc.keywords); got != tc.want {
				t.Fatalf("Matches(%q, %v) = %v, want %v", tc.comment, tc.keywords, got, tc.want)
			}
		})
	}
}

func TestCloseEnough(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		word    string
		keyword string
		want    bool
	}{
		{name: "single mismatch short word", word: "ling", keyword: "link", want: true},
		{name: "two mismatches long word", word: "prices", keyword: "priced", want: true},
		{name: "length difference too large", word: "pricing", keyword: "pric", want: false},
		{name: "transposition counts twice", word: "lnik", keyword: "link", want: false},
		{name: "identical", word: "info", keyword: "info", want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := closeEnough(tc.word, tc.keyword); got != tc.want {
				t.Fatalf("closeEnough(%q, %q) = %v, want %v", tc.word, tc.keyword, got, tc.want)
			}
		})
	}
}
