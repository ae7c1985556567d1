package phrase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PruneCorpus removes all counts from a specific corpus with a frequency less
// than or equal to `minFreq`. Singleton windows dominate an extracted corpus
// and can never become candidates, so pruning them early keeps the database
// small.
func (s *Store) PruneCorpus(ctx context.Context, corpus CorpusInfo, minFreq int) error {
	res, err := s.stmtPruneCorpus.ExecContext(ctx, corpus.Id, minFreq)
	if err != nil {
		return fmt.Errorf("could not prune corpus %d: %w", corpus.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Corpus pruned",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
		slog.Int("min_frequency", minFreq),
		slog.Int64("counts_removed", rowsAffected),
	)
	return nil
}

// VocabularyPrune performs a database-wide cleanup, removing tokens whose
// total weighted usage across all corpora is below `minFrequency`. This is a
// destructive operation that will also delete all keys and counts that rely on
// the removed tokens. It should be used with caution to reduce the overall
// database size.
func (s *Store) VocabularyPrune(ctx context.Context, minFrequency int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for pruning: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	// Token usage isn't stored directly; it has to be accumulated from the
	// keys that mention each token. We fetch every key with its summed count
	// and do the accounting in Go, which is more portable and clearer than
	// complex, non-SARGable SQL.
	rows, err := tx.QueryContext(ctx, `
SELECT k.key_id, k.key_text, coalesce(SUM(c.frequency), 0)
FROM phrase_keys k LEFT JOIN phrase_counts c ON c.key_id = k.key_id
GROUP BY k.key_id`)
	if err != nil {
		return fmt.Errorf("failed to query key usage: %w", err)
	}

	type keyRow struct {
		id   int
		text string
	}
	var keys []keyRow
	tokenFreq := make(map[int]int)
	for rows.Next() {
		var kr keyRow
		var freq int
		if err := rows.Scan(&kr.id, &kr.text, &freq); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan key usage row: %w", err)
		}
		keys = append(keys, kr)
		for _, idStr := range strings.Split(kr.text, " ") {
			id, _ := strconv.Atoi(idStr)
			tokenFreq[id] += freq
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after iterating key usage rows: %w", err)
	}

	var rareTokenIDs []int
	rareTokenIDSet := make(map[int]struct{})
	for id, freq := range tokenFreq {
		if freq < minFrequency {
			rareTokenIDs = append(rareTokenIDs, id)
			rareTokenIDSet[id] = struct{}{}
		}
	}

	if len(rareTokenIDs) == 0 {
		s.logger.InfoContext(ctx, "No vocabulary to prune",
			slog.Int("min_frequency", minFrequency),
		)
		return tx.Commit() // Nothing to do
	}

	// Any key mentioning a rare token goes with it.
	var affectedKeyIDs []int
	for _, kr := range keys {
		for _, idStr := range strings.Split(kr.text, " ") {
			id, _ := strconv.Atoi(idStr)
			if _, isRare := rareTokenIDSet[id]; isRare {
				affectedKeyIDs = append(affectedKeyIDs, kr.id)
				break // Found a rare token, no need to check others in this key
			}
		}
	}

	// Deletions happen in dependency order: counts -> keys -> vocabulary.
	if err := s.batchDelete(ctx, tx, "phrase_counts", "key_id", intSliceToInterface(affectedKeyIDs)); err != nil {
		return fmt.Errorf("failed to prune counts by key_id: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "phrase_keys", "key_id", intSliceToInterface(affectedKeyIDs)); err != nil {
		return fmt.Errorf("failed to prune affected keys: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "phrase_vocabulary", "token_id", intSliceToInterface(rareTokenIDs)); err != nil {
		return fmt.Errorf("failed to prune rare tokens from vocabulary: %w", err)
	}

	s.logger.InfoContext(ctx, "Vocabulary pruned successfully",
		slog.Int("min_frequency", minFrequency),
		slog.Int("tokens_removed", len(rareTokenIDs)),
		slog.Int("keys_affected", len(affectedKeyIDs)),
	)

	return tx.Commit()
}

// batchDelete is a private helper to robustly delete from a table. It handles empty lists and splits large lists into smaller batches to avoid SQL limits.
func (s *Store) batchDelete(ctx context.Context, tx *sql.Tx, table, column string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	// SQLite's default variable limit is 999, so around half that is good
	const batchSize = 500

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?%s)", table, column, strings.Repeat(",?", len(batch)-1))

		if _, err := tx.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}

// intSliceToInterface is a helper to convert []int to []interface{} for SQL args.
func intSliceToInterface(s []int) []interface{} {
	if s == nil {
		return nil
	}
	i := make([]interface{}, len(s))
	for j, v := range s {
		i[j] = v
	}
	return i
}
