package phrase

import (
	"errors"
	"testing"
)

func TestPruneCorpus(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	if err := s.PruneCorpus(ctx, corpus, 1); err != nil {
		t.Fatalf("PruneCorpus() failed: %v", err)
	}

	counts, err := s.TopPhrases(ctx, corpus, TopQuery{})
	if err != nil {
		t.Fatalf("TopPhrases() failed: %v", err)
	}
	if len(counts) != 9 {
		t.Errorf("got %d keys after pruning singletons, want 9", len(counts))
	}
	for _, pc := range counts {
		if pc.Frequency < 2 {
			t.Errorf("key %q survived pruning with frequency %d", pc.Key, pc.Frequency)
		}
	}

	// Pruned counts are gone, not zeroed; the key row itself survives.
	freq, err := s.FrequencyOf(ctx, corpus, []string{"a", "password"})
	if err != nil {
		t.Fatalf("FrequencyOf() failed: %v", err)
	}
	if freq != 0 {
		t.Errorf("pruned phrase has frequency %d, want 0", freq)
	}
}

func TestVocabularyPrune(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	// "password" and "face" each occur in three keys with frequency 1, for a
	// weighted usage of 3. Every other token is well above 4.
	if err := s.VocabularyPrune(ctx, 4); err != nil {
		t.Fatalf("VocabularyPrune() failed: %v", err)
	}

	if _, err := s.LookupToken(ctx, "password"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("LookupToken(password) error = %v, want ErrUnknownToken", err)
	}
	if _, err := s.LookupToken(ctx, "the"); err != nil {
		t.Errorf("LookupToken(the) failed after prune: %v", err)
	}

	// Keys mentioning a pruned token go with it.
	counts, err := s.TopPhrases(ctx, corpus, TopQuery{})
	if err != nil {
		t.Fatalf("TopPhrases() failed: %v", err)
	}
	if len(counts) != 9 {
		t.Errorf("got %d keys after vocabulary prune, want 9", len(counts))
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.VocabSize != 5 {
		t.Errorf("vocabulary size after prune = %d, want 5", stats.VocabSize)
	}
}

func TestVocabularyPruneNoop(t *testing.T) {
	ctx, s, _ := setupTestDBWithCorpus(t)

	if err := s.VocabularyPrune(ctx, 1); err != nil {
		t.Fatalf("VocabularyPrune() failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.VocabSize != 7 {
		t.Errorf("vocabulary size = %d, want 7 untouched tokens", stats.VocabSize)
	}
}
