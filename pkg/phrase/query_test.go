package phrase

import (
	"testing"
)

func TestTopPhrasesOrdering(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	counts, err := s.TopPhrases(ctx, corpus, TopQuery{MinFreq: 2})
	if err != nil {
		t.Fatalf("TopPhrases() failed: %v", err)
	}
	// Shared windows between the two sentences: 4 bigrams, 3 trigrams and
	// 2 four-grams, everything else is a singleton.
	if len(counts) != 9 {
		t.Fatalf("TopPhrases() returned %d keys, want 9", len(counts))
	}

	for i := 1; i < len(counts); i++ {
		prev, cur := counts[i-1], counts[i]
		if cur.Frequency > prev.Frequency {
			t.Errorf("results not sorted by frequency: %d before %d", prev.Frequency, cur.Frequency)
		}
		if cur.Frequency == prev.Frequency && cur.N > prev.N {
			t.Errorf("ties not broken by length: n=%d before n=%d", prev.N, cur.N)
		}
	}

	top := counts[0]
	if top.N != 4 || top.Frequency != 2 {
		t.Fatalf("top result = {n: %d, freq: %d}, want {n: 4, freq: 2}", top.N, top.Frequency)
	}
	text, err := s.PhraseText(ctx, top.Key)
	if err != nil {
		t.Fatalf("PhraseText() failed: %v", err)
	}
	if text != "the internet never forgets" {
		t.Errorf("top phrase = %q, want %q", text, "the internet never forgets")
	}
}

func TestTopPhrasesWindowBounds(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	counts, err := s.TopPhrases(ctx, corpus, TopQuery{MinN: 2, MaxN: 2})
	if err != nil {
		t.Fatalf("TopPhrases() failed: %v", err)
	}
	if len(counts) != 6 {
		t.Errorf("TopPhrases(n=2) returned %d keys, want 6", len(counts))
	}
	for _, pc := range counts {
		if pc.N != 2 {
			t.Errorf("got key of length %d outside requested bounds", pc.N)
		}
	}
}

func TestTopPhrasesLimit(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	counts, err := s.TopPhrases(ctx, corpus, TopQuery{Limit: 3})
	if err != nil {
		t.Fatalf("TopPhrases() failed: %v", err)
	}
	if len(counts) != 3 {
		t.Errorf("TopPhrases(limit=3) returned %d keys, want 3", len(counts))
	}
}

func TestFrequency(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	key, err := s.KeyOf(ctx, []string{"the", "internet", "never", "forgets"})
	if err != nil {
		t.Fatalf("KeyOf() failed: %v", err)
	}
	freq, err := s.Frequency(ctx, corpus, key)
	if err != nil {
		t.Fatalf("Frequency() failed: %v", err)
	}
	if freq != 2 {
		t.Errorf("Frequency() = %d, want 2", freq)
	}

	// A key no extraction ever produced has frequency zero, not an error.
	freq, err = s.Frequency(ctx, corpus, "999998 999999")
	if err != nil {
		t.Fatalf("Frequency() for unseen key failed: %v", err)
	}
	if freq != 0 {
		t.Errorf("Frequency() for unseen key = %d, want 0", freq)
	}
}

func TestFrequencyOf(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	freq, err := s.FrequencyOf(ctx, corpus, []string{"never", "forgets", "a", "password"})
	if err != nil {
		t.Fatalf("FrequencyOf() failed: %v", err)
	}
	if freq != 1 {
		t.Errorf("FrequencyOf() = %d, want 1", freq)
	}

	freq, err = s.FrequencyOf(ctx, corpus, []string{"never", "forgets", "zanzibar"})
	if err != nil {
		t.Fatalf("FrequencyOf() with unknown token failed: %v", err)
	}
	if freq != 0 {
		t.Errorf("FrequencyOf() with unknown token = %d, want 0", freq)
	}
}

func TestTotalFrequency(t *testing.T) {
	ctx, s, corpus := setupTestDBWithCorpus(t)

	// Two six-token sentences produce 5, 4 and 3 windows per length each.
	wants := map[int]int{2: 10, 3: 8, 4: 6, 5: 0}
	for n, want := range wants {
		total, err := s.TotalFrequency(ctx, corpus, n)
		if err != nil {
			t.Fatalf("TotalFrequency(n=%d) failed: %v", n, err)
		}
		if total != want {
			t.Errorf("TotalFrequency(n=%d) = %d, want %d", n, total, want)
		}
	}
}
