package phrase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
)

// ExtractStats reports what a single Extract pass processed.
type ExtractStats struct {
	Sentences int64 `json:"sentences"`
	Tokens    int64 `json:"tokens"`
	Windows   int64 `json:"windows"`
}

// InsertPhrase provides a low-level way to increment the count of a single
// n-gram key for a given corpus. For most use cases, the high-level Extract
// function is recommended as it is significantly more efficient for bulk data.
func (s *Store) InsertPhrase(ctx context.Context, corpus CorpusInfo, keyText string) error {
	var keyID int
	err := s.stmtGetKeyID.QueryRowContext(ctx, keyText).Scan(&keyID)
	if err != nil {
		return fmt.Errorf("could not get key ID for '%s': %w", keyText, err)
	}
	_, err = s.stmtIncCount.ExecContext(ctx, corpus.Id, keyID)
	if err != nil {
		return fmt.Errorf("could not increment count for '%s': %w", keyText, err)
	}
	return nil
}

// countInc Is a struct used for batching count upserts.
type countInc struct {
	keyID int
}

// Extract processes a stream of text from an io.Reader, tokenizes it, and
// counts every n-gram window within the corpus bounds. Windows never cross
// sentence boundaries. The extraction is optimized with in-memory caching and
// database batching so that large generated corpora can be processed in one
// pass, and the entire operation is performed within a single database
// transaction to ensure counts are all-or-nothing per reader.
func (s *Store) Extract(ctx context.Context, corpus CorpusInfo, data io.Reader) (ExtractStats, error) {
	// maxSentenceLength prevents malformed input with no sentence breaks from
	// holding an unbounded token buffer.
	const maxSentenceLength = 4096
	// countBatchSize determines how many count increments are buffered in
	// memory before being written to the database in a single batch.
	const countBatchSize = 1000

	var stats ExtractStats

	if err := corpus.Validate(); err != nil {
		return stats, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	keyCache := make(map[string]int)
	countBatch := make([]countInc, 0, countBatchSize)

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtInsertKey := tx.StmtContext(ctx, s.stmtInsertKey)
	stmtIncBatch, err := tx.PrepareContext(ctx, `INSERT INTO phrase_counts (corpus_id, key_id, frequency) VALUES (?, ?, 1) ON CONFLICT(corpus_id, key_id) DO UPDATE SET frequency = frequency + 1;`)
	if err != nil {
		return stats, fmt.Errorf("failed to prepare batch count statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtIncBatch)

	commitCountBatch := func(batch *[]countInc) error {
		if len(*batch) == 0 {
			return nil
		}
		for _, inc := range *batch {
			if _, err := stmtIncBatch.ExecContext(ctx, corpus.Id, inc.keyID); err != nil {
				return fmt.Errorf("failed during batch upsert of count for key %d: %w", inc.keyID, err)
			}
		}
		*batch = (*batch)[:0]
		return nil
	}

	stream := s.tokenizer.NewStream(data)
	var currentSentence []int
	var token *Token

	for {
		token, err = stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return stats, fmt.Errorf("tokenizer error: %w", err)
		}

		if token.EOS || len(currentSentence) >= maxSentenceLength {
			if len(currentSentence) > 0 {
				windows, err := processSentence(ctx, corpus, currentSentence, keyCache, &countBatch, stmtInsertKey)
				if err != nil {
					return stats, fmt.Errorf("sentence processing error: %w", err)
				}
				stats.Windows += windows
				stats.Sentences++
				currentSentence = currentSentence[:0]
			}

			if len(countBatch) >= countBatchSize {
				if err := commitCountBatch(&countBatch); err != nil {
					return stats, err
				}
			}
		}

		// A token that overflowed the sentence cap has just flushed the
		// buffer above and starts the next one here.
		if !token.EOS {
			var tokenID int
			if err = stmtInsertVocab.QueryRowContext(ctx, token.Text).Scan(&tokenID); err != nil {
				return stats, fmt.Errorf("sql insert vocabulary error for token '%s': %w", token.Text, err)
			}
			currentSentence = append(currentSentence, tokenID)
			stats.Tokens++
		}
	}

	if len(currentSentence) > 0 {
		windows, err := processSentence(ctx, corpus, currentSentence, keyCache, &countBatch, stmtInsertKey)
		if err != nil {
			return stats, fmt.Errorf("final sentence processing error: %w", err)
		}
		stats.Windows += windows
		stats.Sentences++
	}

	if err := commitCountBatch(&countBatch); err != nil {
		return stats, err
	}

	s.logger.InfoContext(ctx, "Extraction completed",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
		slog.Int64("sentences_processed", stats.Sentences),
		slog.Int64("windows_counted", stats.Windows),
	)

	return stats, tx.Commit()
}

// processSentence slides every window length in [MinN, MaxN] across one
// sentence of token IDs, resolving each window to a key ID and queueing a
// count increment for it.
func processSentence(ctx context.Context, corpus CorpusInfo, sentence []int, keyCache map[string]int, countBatch *[]countInc, stmtInsertKey *sql.Stmt) (int64, error) {
	if len(sentence) < corpus.MinN {
		return 0, nil
	}

	var windows int64
	var keyBuf []byte
	for n := corpus.MinN; n <= corpus.MaxN && n <= len(sentence); n++ {
		for i := 0; i+n <= len(sentence); i++ {
			window := sentence[i : i+n]

			keyBuf = keyBuf[:0]
			for j, tokenID := range window {
				if j > 0 {
					keyBuf = append(keyBuf, ' ')
				}
				keyBuf = strconv.AppendInt(keyBuf, int64(tokenID), 10)
			}
			keyText := string(keyBuf)

			keyID, ok := keyCache[keyText]
			if !ok {
				if err := stmtInsertKey.QueryRowContext(ctx, keyText, n).Scan(&keyID); err != nil {
					return windows, fmt.Errorf("failed to get or insert key '%s': %w", keyText, err)
				}
				keyCache[keyText] = keyID
			}

			*countBatch = append(*countBatch, countInc{keyID: keyID})
			windows++
		}
	}
	return windows, nil
}
