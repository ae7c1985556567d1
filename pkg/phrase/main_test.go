package phrase

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new file-backed SQLite database and a Store for
// testing. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db, NewDefaultTokenizer())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// testCorpusText has one four-token phrase ("the internet never forgets")
// recurring across both sentences, which several tests rely on.
const testCorpusText = "The internet never forgets a password. The internet never forgets a face."

// setupTestDBWithCorpus is a convenience helper that also creates a generated
// corpus and extracts testCorpusText into it.
func setupTestDBWithCorpus(t *testing.T) (context.Context, *Store, CorpusInfo) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "test_gen", Kind: KindGenerated, MinN: 2, MaxN: 4}

	if err := s.InsertCorpus(ctx, corpus); err != nil {
		t.Fatalf("setup: InsertCorpus() failed: %v", err)
	}
	corpus, err := s.GetCorpusInfo(ctx, corpus.Name)
	if err != nil {
		t.Fatalf("setup: GetCorpusInfo() failed: %v", err)
	}
	if _, err := s.Extract(ctx, corpus, strings.NewReader(testCorpusText)); err != nil {
		t.Fatalf("setup: Extract() failed: %v", err)
	}
	return ctx, s, corpus
}

// setupTestDBBench creates a database for benchmarking.
func setupTestDBBench(b *testing.B) (*sql.DB, *Store) {
	dbFile := filepath.Join(b.TempDir(), "bench.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=OFF&_cache_size=-16000&_mmap_size=268435456")
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		b.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db, NewDefaultTokenizer())
	if err != nil {
		b.Fatalf("NewStore() error = %v", err)
	}
	b.Cleanup(s.Close)

	return db, s
}
