package phrase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PhraseCount is a single n-gram count row as returned by TopPhrases.
type PhraseCount struct {
	Key       string // space-joined token IDs
	N         int
	Frequency int
}

// TopQuery bounds a TopPhrases scan. Zero values fall back to the corpus
// window bounds, a frequency floor of 1, and a limit of 100.
type TopQuery struct {
	MinN    int
	MaxN    int
	MinFreq int
	Limit   int
}

// TopPhrases returns the most frequent n-gram keys of a corpus, ordered by
// frequency descending (longer keys first on ties, so a recurring full phrase
// outranks the fragments it contains).
func (s *Store) TopPhrases(ctx context.Context, corpus CorpusInfo, q TopQuery) ([]PhraseCount, error) {
	if q.MinN <= 0 {
		q.MinN = corpus.MinN
	}
	if q.MaxN <= 0 {
		q.MaxN = corpus.MaxN
	}
	if q.MinFreq <= 0 {
		q.MinFreq = 1
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	rows, err := s.stmtTopPhrases.QueryContext(ctx, corpus.Id, q.MinN, q.MaxN, q.MinFreq, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("could not query top phrases for corpus %d: %w", corpus.Id, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var counts []PhraseCount
	for rows.Next() {
		var pc PhraseCount
		if err = rows.Scan(&pc.Key, &pc.N, &pc.Frequency); err != nil {
			return nil, err
		}
		counts = append(counts, pc)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Frequency returns how many times the n-gram identified by keyText was
// counted in the given corpus. Keys are shared across corpora, so a key
// obtained from one corpus can be looked up in another; unseen keys have
// frequency zero.
func (s *Store) Frequency(ctx context.Context, corpus CorpusInfo, keyText string) (int, error) {
	var freq int
	err := s.stmtGetKeyFreq.QueryRowContext(ctx, corpus.Id, keyText).Scan(&freq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The key has never been seen by any extraction.
			return 0, nil
		}
		return 0, err
	}
	return freq, nil
}

// FrequencyOf is a convenience wrapper around KeyOf and Frequency that counts
// a phrase given as words. A phrase containing unknown tokens has frequency
// zero in every corpus.
func (s *Store) FrequencyOf(ctx context.Context, corpus CorpusInfo, words []string) (int, error) {
	keyText, err := s.KeyOf(ctx, words)
	if err != nil {
		if errors.Is(err, ErrUnknownToken) {
			return 0, nil
		}
		return 0, err
	}
	return s.Frequency(ctx, corpus, keyText)
}

// TotalFrequency returns the sum of all window counts of length n in the
// corpus. This is the denominator when converting a raw count into a relative
// frequency.
func (s *Store) TotalFrequency(ctx context.Context, corpus CorpusInfo, n int) (int, error) {
	var total int
	err := s.stmtFreqByN.QueryRowContext(ctx, corpus.Id, n).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}
