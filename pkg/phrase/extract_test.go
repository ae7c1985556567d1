package phrase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "extract_test", Kind: KindGenerated, MinN: 2, MaxN: 4}

	if err := s.InsertCorpus(ctx, corpus); err != nil {
		t.Fatalf("InsertCorpus failed: %v", err)
	}
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	stats, err := s.Extract(ctx, corpus, strings.NewReader(testCorpusText))
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	if stats.Sentences != 2 {
		t.Errorf("expected 2 sentences processed, got %d", stats.Sentences)
	}
	// Each six-token sentence yields 5+4+3 windows for n in [2,4].
	if stats.Windows != 24 {
		t.Errorf("expected 24 windows counted, got %d", stats.Windows)
	}

	// The recurring four-token window must have frequency 2.
	freq, err := s.FrequencyOf(ctx, corpus, []string{"the", "internet", "never", "forgets"})
	if err != nil {
		t.Fatalf("FrequencyOf failed: %v", err)
	}
	if freq != 2 {
		t.Errorf("expected 'the internet never forgets' to have frequency 2, got %d", freq)
	}

	// Windows that occurred once in a single sentence stay at 1.
	freq, err = s.FrequencyOf(ctx, corpus, []string{"forgets", "a", "password"})
	if err != nil {
		t.Fatalf("FrequencyOf failed: %v", err)
	}
	if freq != 1 {
		t.Errorf("expected 'forgets a password' to have frequency 1, got %d", freq)
	}

	var countRows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM phrase_counts WHERE corpus_id = ?", corpus.Id).Scan(&countRows); err != nil {
		t.Fatal(err)
	}
	if countRows == 0 {
		t.Error("expected count rows to be created")
	}
}

// failingReader yields its data and then returns err instead of io.EOF.
type failingReader struct {
	data string
	err  error
	pos  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestExtractRollsBackOnReaderError(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "rollback_test", Kind: KindGenerated, MinN: 2, MaxN: 4}

	if err := s.InsertCorpus(ctx, corpus); err != nil {
		t.Fatalf("InsertCorpus failed: %v", err)
	}
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	// The first sentence is complete and would have produced counts; the
	// stream then fails, which must discard the whole transaction.
	reader := &failingReader{
		data: "The internet never forgets a password.\n",
		err:  errors.New("stream truncated"),
	}
	if _, err := s.Extract(ctx, corpus, reader); err == nil {
		t.Fatal("Extract() with failing reader returned nil error")
	}

	var countRows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM phrase_counts WHERE corpus_id = ?", corpus.Id).Scan(&countRows); err != nil {
		t.Fatal(err)
	}
	if countRows != 0 {
		t.Errorf("expected 0 count rows after failed extraction, got %d", countRows)
	}

	var vocabRows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM phrase_vocabulary").Scan(&vocabRows); err != nil {
		t.Fatal(err)
	}
	if vocabRows != 0 {
		t.Errorf("expected vocabulary inserts to roll back, got %d rows", vocabRows)
	}
}

func TestExtractSentenceCapKeepsOverflowToken(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "cap_test", Kind: KindGenerated, MinN: 2, MaxN: 4}

	if err := s.InsertCorpus(ctx, corpus); err != nil {
		t.Fatalf("InsertCorpus failed: %v", err)
	}
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	// 4096 filler tokens hit the sentence cap; the two tokens after it must
	// land in the next buffer, not vanish with the flush.
	input := strings.Repeat("pad ", 4096) + "echo chamber"
	stats, err := s.Extract(ctx, corpus, strings.NewReader(input))
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	if stats.Tokens != 4098 {
		t.Errorf("expected 4098 tokens counted, got %d", stats.Tokens)
	}
	if stats.Sentences != 2 {
		t.Errorf("expected the cap to split the stream into 2 sentences, got %d", stats.Sentences)
	}

	freq, err := s.FrequencyOf(ctx, corpus, []string{"echo", "chamber"})
	if err != nil {
		t.Fatalf("FrequencyOf failed: %v", err)
	}
	if freq != 1 {
		t.Errorf("expected the overflow bigram to have frequency 1, got %d", freq)
	}
}

func TestExtractDoesNotCrossSentences(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "boundary_test", Kind: KindGenerated, MinN: 2, MaxN: 2}
	_ = s.InsertCorpus(ctx, corpus)
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	if _, err := s.Extract(ctx, corpus, strings.NewReader("alpha beta. gamma delta.")); err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	// "beta gamma" spans a boundary and must never be counted.
	freq, err := s.FrequencyOf(ctx, corpus, []string{"beta", "gamma"})
	if err != nil {
		t.Fatalf("FrequencyOf failed: %v", err)
	}
	if freq != 0 {
		t.Errorf("expected cross-sentence window to have frequency 0, got %d", freq)
	}
}

func TestExtractShortSentence(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "short_test", Kind: KindGenerated, MinN: 3, MaxN: 5}
	_ = s.InsertCorpus(ctx, corpus)
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	stats, err := s.Extract(ctx, corpus, strings.NewReader("too short."))
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if stats.Windows != 0 {
		t.Errorf("expected 0 windows from a sentence shorter than MinN, got %d", stats.Windows)
	}
	if stats.Sentences != 1 {
		t.Errorf("expected short sentence to still be counted as processed, got %d", stats.Sentences)
	}
}

func TestExtractAccumulates(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()
	corpus := CorpusInfo{Name: "accum_test", Kind: KindGenerated, MinN: 2, MaxN: 2}
	_ = s.InsertCorpus(ctx, corpus)
	corpus, _ = s.GetCorpusInfo(ctx, corpus.Name)

	for i := 0; i < 3; i++ {
		if _, err := s.Extract(ctx, corpus, strings.NewReader("lurk more first.")); err != nil {
			t.Fatalf("Extract() pass %d failed: %v", i, err)
		}
	}

	freq, err := s.FrequencyOf(ctx, corpus, []string{"lurk", "more"})
	if err != nil {
		t.Fatalf("FrequencyOf failed: %v", err)
	}
	if freq != 3 {
		t.Errorf("expected frequency 3 after three extractions, got %d", freq)
	}
}

func TestInsertPhrase(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	key, err := s.KeyOf(ctx, []string{"never", "forgets"})
	if err != nil {
		t.Fatalf("KeyOf failed: %v", err)
	}
	before, _ := s.Frequency(ctx, corpus, key)

	if err := s.InsertPhrase(ctx, corpus, key); err != nil {
		t.Fatalf("InsertPhrase failed: %v", err)
	}

	after, _ := s.Frequency(ctx, corpus, key)
	if after != before+1 {
		t.Errorf("expected frequency %d after InsertPhrase, got %d", before+1, after)
	}
}

func BenchmarkExtract(b *testing.B) {
	corpus := strings.Repeat("the internet never forgets what you post in anger. ", 200)
	ctx := context.Background()

	for _, maxN := range []int{4, 8, 12} {
		b.Run(fmt.Sprintf("MaxN%d", maxN), func(b *testing.B) {
			_, s := setupTestDBBench(b)
			info := CorpusInfo{Name: "bench_extract", Kind: KindGenerated, MinN: 2, MaxN: maxN}
			if err := s.InsertCorpus(ctx, info); err != nil {
				b.Fatalf("InsertCorpus failed: %v", err)
			}
			info, _ = s.GetCorpusInfo(ctx, info.Name)

			b.SetBytes(int64(len(corpus)))
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := s.Extract(ctx, info, strings.NewReader(corpus)); err != nil {
					b.Fatalf("Extract() failed: %v", err)
				}
			}
		})
	}
}
