package rag

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/koopa0/lore/internal/store"
)

func TestParseRanking(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		n     int
		want  []int
	}{
		{"full permutation", "2,1,3", 3, []int{1, 0, 2}},
		{"whitespace and period", " 3 , 1 , 2.", 3, []int{2, 0, 1}},
		{"partial mention appends rest", "2", 3, []int{1, 0, 2}},
		{"duplicates keep first mention", "2,2,1", 3, []int{1, 0, 2}},
		{"out of range skipped", "5,2,0,1", 3, []int{1, 0, 2}},
		{"garbage between numbers", "2, banana, 1", 3, []int{1, 0, 2}},
		{"no numbers at all", "banana", 3, nil},
		{"empty reply", "", 3, nil},
		{"prose only", "The most relevant document is the second one.", 3, nil},
		{"zero candidates", "1,2", 0, nil},
		{"single candidate", "1", 1, []int{0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseRanking(tc.reply, tc.n)
			if !slices.Equal(got, tc.want) {
				t.Errorf("parseRanking(%q, %d) = %v, want %v", tc.reply, tc.n, got, tc.want)
			}
		})
	}
}

func FuzzParseRanking(f *testing.F) {
	f.Add("2,1,3", 3)
	f.Add("banana", 5)
	f.Add("1, 2. 3", 4)
	f.Add("", 0)
	f.Add("0,-1,999999", 3)
	f.Fuzz(func(t *testing.T, reply string, n int) {
		if n > 1000 {
			n = 1000
		}
		got := parseRanking(reply, n)
		if got == nil {
			return
		}
		// A non-nil result must be a permutation of [0, n).
		if len(got) != n {
			t.Fatalf("len = %d, want %d", len(got), n)
		}
		seen := make(map[int]bool, n)
		for _, idx := range got {
			if idx < 0 || idx >= n {
				t.Fatalf("index %d out of range [0, %d)", idx, n)
			}
			if seen[idx] {
				t.Fatalf("index %d repeated", idx)
			}
			seen[idx] = true
		}
	})
}

func TestRerankReorders(t *testing.T) {
	idx, records := testCorpus(t, 3)
	gen := newStubGenerator()
	gen.reply("Ranking:", "3,1,2")
	gen.reply("Answer:", "final answer")
	engine := testEngine(t, idx, records, gen, func(c *Config) { c.EnableRerank = true })

	resp, err := engine.Query(context.Background(), Request{Query: "which order"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"parent_2", "parent_0", "parent_1"}
	for i, w := range want {
		if resp.Sources[i].ID != w {
			t.Errorf("source[%d] = %s, want %s", i, resp.Sources[i].ID, w)
		}
	}
}

func TestRerankUnusableReplyKeepsOrder(t *testing.T) {
	idx, records := testCorpus(t, 3)
	gen := newStubGenerator()
	gen.reply("Ranking:", "no idea, sorry")
	engine := testEngine(t, idx, records, gen, func(c *Config) { c.EnableRerank = true })

	resp, err := engine.Query(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"parent_0", "parent_1", "parent_2"}
	for i, w := range want {
		if resp.Sources[i].ID != w {
			t.Errorf("source[%d] = %s, want %s", i, resp.Sources[i].ID, w)
		}
	}
}

func TestRerankCallFailureKeepsOrder(t *testing.T) {
	idx, records := testCorpus(t, 3)
	gen := newStubGenerator()
	gen.errOn = "Ranking:"
	gen.err = errors.New("rerank down")
	engine := testEngine(t, idx, records, gen, func(c *Config) { c.EnableRerank = true })

	resp, err := engine.Query(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Sources[0].ID != "parent_0" {
		t.Errorf("top source = %s, want retrieval order kept", resp.Sources[0].ID)
	}
	if resp.Answer == apologyAnswer {
		t.Errorf("answer degraded: rerank failure must not fail generation")
	}
}

func TestRerankPromptTruncatesLongDocuments(t *testing.T) {
	long := strings.Repeat("x", 2*rerankDocLimit)
	parents := []store.Chunk{{ID: "p", Content: long}}
	prompt := rerankPrompt("q", parents)
	if strings.Contains(prompt, long) {
		t.Error("prompt carries untruncated document text")
	}
	if !strings.Contains(prompt, strings.Repeat("x", rerankDocLimit)) {
		t.Error("prompt missing truncated document text")
	}
}
