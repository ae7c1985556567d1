package novelty

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/paremia/trawl/pkg/phrase"
)

// generatedText repeats one six-token sentence three times, which is the
// recurring phrase the scorer should surface. The trailing sentence is noise.
const generatedText = "The algorithm always wins the day. " +
	"The algorithm always wins the day. " +
	"The algorithm always wins the day. " +
	"People forget things."

// referenceText shares vocabulary with generatedText but never the phrase.
const referenceText = "People forget things all the time. The day was long."

// setupScorer builds a store with a generated and a reference corpus already
// extracted, and returns a scorer over them with default configuration.
func setupScorer(t *testing.T) (context.Context, *Scorer, phrase.CorpusInfo, phrase.CorpusInfo) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := phrase.SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	store, err := phrase.NewStore(db, phrase.NewDefaultTokenizer())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	ctx := context.Background()
	gen := phrase.CorpusInfo{Name: "gen", Kind: phrase.KindGenerated, MinN: 2, MaxN: 6}
	ref := phrase.CorpusInfo{Name: "ref", Kind: phrase.KindReference, MinN: 2, MaxN: 6}
	for i, c := range []phrase.CorpusInfo{gen, ref} {
		if err := store.InsertCorpus(ctx, c); err != nil {
			t.Fatalf("setup: InsertCorpus(%s) failed: %v", c.Name, err)
		}
		c, err = store.GetCorpusInfo(ctx, c.Name)
		if err != nil {
			t.Fatalf("setup: GetCorpusInfo(%s) failed: %v", c.Name, err)
		}
		if i == 0 {
			gen = c
		} else {
			ref = c
		}
	}
	if _, err := store.Extract(ctx, gen, strings.NewReader(generatedText)); err != nil {
		t.Fatalf("setup: Extract(gen) failed: %v", err)
	}
	if _, err := store.Extract(ctx, ref, strings.NewReader(referenceText)); err != nil {
		t.Fatalf("setup: Extract(ref) failed: %v", err)
	}

	return ctx, NewScorer(store, nil), gen, ref
}

// blockAll is a Stoplist that rejects every phrase.
type blockAll struct{}

func (blockAll) Blocked(string) bool { return true }
