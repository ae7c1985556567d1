package phrase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	// KindGenerated marks a corpus built from model output.
	KindGenerated = "generated"
	// KindReference marks a human-authored corpus used as the novelty baseline.
	KindReference = "reference"
)

// CorpusInfo holds the essential metadata for a corpus, including its unique
// ID, name, kind, and the window-length bounds used during extraction.
type CorpusInfo struct {
	Id   int
	Name string
	Kind string
	MinN int
	MaxN int
}

// Validate checks the corpus metadata for values the schema and extraction
// loop cannot support.
func (c CorpusInfo) Validate() error {
	if c.Name == "" {
		return errors.New("phrase: corpus name is required")
	}
	if c.Kind != KindGenerated && c.Kind != KindReference {
		return fmt.Errorf("phrase: invalid corpus kind %q", c.Kind)
	}
	if c.MinN < 1 || c.MaxN < c.MinN || c.MaxN > MaxWindow {
		return fmt.Errorf("phrase: invalid window bounds [%d, %d]", c.MinN, c.MaxN)
	}
	return nil
}

// ExportedCorpus is the serializable representation of an extracted corpus,
// used for JSON-based import and export.
type ExportedCorpus struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	MinN       int             `json:"min_n"`
	MaxN       int             `json:"max_n"`
	Vocabulary map[string]int  `json:"vocabulary"` // token_text -> token_id
	Keys       map[string]int  `json:"keys"`       // key_text -> key_id
	Counts     []ExportedCount `json:"counts"`
}

// ExportedCount is the serializable representation of a single n-gram count
// within an ExportedCorpus.
type ExportedCount struct {
	KeyID     int `json:"key_id"`
	Frequency int `json:"frequency"`
}

// GetCorpusInfos retrieves metadata for all corpora currently in the database,
// returning them in a map keyed by corpus name.
func (s *Store) GetCorpusInfos(ctx context.Context) (map[string]CorpusInfo, error) {
	rows, err := s.stmtGetCorpora.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	corpora := make(map[string]CorpusInfo)
	for rows.Next() {
		var corpus CorpusInfo
		if err = rows.Scan(&corpus.Id, &corpus.Name, &corpus.Kind, &corpus.MinN, &corpus.MaxN); err != nil {
			return nil, err
		}
		corpora[corpus.Name] = corpus
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return corpora, nil
}

// GetCorpusInfo retrieves the metadata for a single corpus specified by name.
// If multiple corpora are needed, GetCorpusInfos is more efficient.
func (s *Store) GetCorpusInfo(ctx context.Context, corpusName string) (CorpusInfo, error) {
	corpus := CorpusInfo{Name: corpusName}
	err := s.stmtGetCorpus.QueryRowContext(ctx, corpusName).Scan(&corpus.Id, &corpus.Kind, &corpus.MinN, &corpus.MaxN)
	if err != nil {
		return CorpusInfo{}, err
	}
	return corpus, nil
}

// InsertCorpus creates a new corpus entry in the database.
func (s *Store) InsertCorpus(ctx context.Context, corpus CorpusInfo) error {
	if err := corpus.Validate(); err != nil {
		return err
	}
	_, err := s.stmtAddCorpus.ExecContext(ctx, corpus.Name, corpus.Kind, corpus.MinN, corpus.MaxN)
	return err
}

// RemoveCorpus deletes a corpus and all of its counts from the database.
// The operation is performed within a transaction. Keys and vocabulary are
// shared across corpora and are left in place; VocabularyPrune reclaims them.
func (s *Store) RemoveCorpus(ctx context.Context, corpus CorpusInfo) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM phrase_counts WHERE corpus_id = ?", corpus.Id); err != nil {
		return fmt.Errorf("failed to remove counts for corpus %d: %w", corpus.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM phrase_corpora WHERE corpus_id = ?", corpus.Id); err != nil {
		return fmt.Errorf("failed to remove corpus %d: %w", corpus.Id, err)
	}

	s.logger.InfoContext(ctx, "Corpus removed successfully",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
	)

	return tx.Commit()
}

// ExportCorpus serializes a given corpus into a JSON format and writes it to
// the provided io.Writer. This is useful for backups or for transferring
// extracted counts between databases.
func (s *Store) ExportCorpus(ctx context.Context, corpus CorpusInfo, w io.Writer) error {

	rows, err := s.db.QueryContext(ctx, "SELECT key_id, frequency FROM phrase_counts WHERE corpus_id = ?", corpus.Id)
	if err != nil {
		return fmt.Errorf("could not query counts for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var exportedCounts []ExportedCount
	keyIDs := make(map[int]struct{})

	for rows.Next() {
		var count ExportedCount
		if err := rows.Scan(&count.KeyID, &count.Frequency); err != nil {
			return err
		}
		exportedCounts = append(exportedCounts, count)
		keyIDs[count.KeyID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Resolve every key the corpus uses, collecting the token IDs they
	// reference along the way.
	keyIDToText := make(map[string]int)
	tokenIDs := make(map[int]struct{})
	if len(keyIDs) > 0 {
		args := make([]interface{}, 0, len(keyIDs))
		placeholders := make([]string, 0, len(keyIDs))
		for id := range keyIDs {
			args = append(args, id)
			placeholders = append(placeholders, "?")
		}
		query := fmt.Sprintf(`SELECT key_id, key_text FROM phrase_keys WHERE key_id IN (%s)`, strings.Join(placeholders, ","))
		kRows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for kRows.Next() {
			var id int
			var text string
			_ = kRows.Scan(&id, &text)
			keyIDToText[text] = id
			for _, idStr := range strings.Split(text, " ") {
				tokenID, _ := strconv.Atoi(idStr)
				tokenIDs[tokenID] = struct{}{}
			}
		}
		_ = kRows.Close()
	}

	tokenIDToText := make(map[string]int)
	if len(tokenIDs) > 0 {
		args := make([]interface{}, 0, len(tokenIDs))
		placeholders := make([]string, 0, len(tokenIDs))
		for id := range tokenIDs {
			args = append(args, id)
			placeholders = append(placeholders, "?")
		}
		query := fmt.Sprintf(`SELECT token_id, token_text FROM phrase_vocabulary WHERE token_id IN (%s)`, strings.Join(placeholders, ","))
		vRows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for vRows.Next() {
			var id int
			var text string
			_ = vRows.Scan(&id, &text)
			tokenIDToText[text] = id
		}
		_ = vRows.Close()
	}

	exported := ExportedCorpus{
		Name:       corpus.Name,
		Kind:       corpus.Kind,
		MinN:       corpus.MinN,
		MaxN:       corpus.MaxN,
		Vocabulary: tokenIDToText,
		Keys:       keyIDToText,
		Counts:     exportedCounts,
	}

	s.logger.InfoContext(ctx, "Corpus exported",
		slog.String("corpus_name", corpus.Name),
		slog.Int("corpus_id", corpus.Id),
		slog.Int("vocab_items_exported", len(tokenIDToText)),
		slog.Int("keys_exported", len(keyIDToText)),
		slog.Int("counts_exported", len(exportedCounts)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportCorpus reads a JSON representation of a corpus from an io.Reader and
// merges its data into the database. If the corpus name already exists, the
// counts are merged with the existing data (frequencies are added). If the
// corpus does not exist, it is created. The entire operation is transactional
// and handles re-mapping of vocabulary and key IDs.
func (s *Store) ImportCorpus(ctx context.Context, r io.Reader) error {
	var imported ExportedCorpus
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json corpus: %w", err)
	}
	if err := (CorpusInfo{Name: imported.Name, Kind: imported.Kind, MinN: imported.MinN, MaxN: imported.MaxN}).Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var corpusID int
	err = tx.QueryRowContext(ctx, "SELECT corpus_id FROM phrase_corpora WHERE corpus_name = ?", imported.Name).Scan(&corpusID)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, "INSERT INTO phrase_corpora (corpus_name, corpus_kind, min_n, max_n) VALUES (?, ?, ?, ?)",
			imported.Name, imported.Kind, imported.MinN, imported.MaxN)
		if err != nil {
			return fmt.Errorf("failed to insert new corpus '%s': %w", imported.Name, err)
		}
		newID, _ := res.LastInsertId()
		corpusID = int(newID)
	} else if err != nil {
		return fmt.Errorf("failed to query for corpus '%s': %w", imported.Name, err)
	}

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtInsertKey := tx.StmtContext(ctx, s.stmtInsertKey)

	vocabIDMap := make(map[int]int) // old_id -> new_id
	for text, oldID := range imported.Vocabulary {
		var newID int
		if err := stmtInsertVocab.QueryRowContext(ctx, text).Scan(&newID); err != nil {
			return fmt.Errorf("failed to get/insert vocab '%s': %w", text, err)
		}
		vocabIDMap[oldID] = newID
	}

	// Keys need to be re-made with the new vocabulary IDs.
	keyIDMap := make(map[int]int) // old_id -> new_id
	newKeyParts := make([]string, 0, imported.MaxN)

	for oldKeyText, oldKeyID := range imported.Keys {
		oldTokenIDs := strings.Split(oldKeyText, " ")
		newKeyParts = newKeyParts[:0]

		for _, oldTokenIDStr := range oldTokenIDs {
			oldTokenID, _ := strconv.Atoi(oldTokenIDStr)
			newTokenID, ok := vocabIDMap[oldTokenID]
			if !ok {
				return fmt.Errorf("consistency error: old token id %d in key not found in vocab map", oldTokenID)
			}
			newKeyParts = append(newKeyParts, strconv.Itoa(newTokenID))
		}

		newKeyText := strings.Join(newKeyParts, " ")

		var newKeyID int
		if err := stmtInsertKey.QueryRowContext(ctx, newKeyText, len(oldTokenIDs)).Scan(&newKeyID); err != nil {
			return fmt.Errorf("failed to get/insert rebuilt key '%s': %w", newKeyText, err)
		}
		keyIDMap[oldKeyID] = newKeyID
	}

	// Prepare a special query so that if we're updating instead of inserting, we don't overwrite the frequency value
	stmtInsertCount, err := tx.PrepareContext(ctx, `
		INSERT INTO phrase_counts (corpus_id, key_id, frequency) VALUES (?, ?, ?)
		ON CONFLICT(corpus_id, key_id) DO UPDATE SET frequency = frequency + excluded.frequency;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count insert statement: %w", err)
	}
	defer func(stmtInsertCount *sql.Stmt) {
		_ = stmtInsertCount.Close()
	}(stmtInsertCount)

	for _, count := range imported.Counts {
		newKeyID, ok := keyIDMap[count.KeyID]
		if !ok {
			return fmt.Errorf("import consistency error: old key id %d not found in key map", count.KeyID)
		}

		if _, err = stmtInsertCount.ExecContext(ctx, corpusID, newKeyID, count.Frequency); err != nil {
			return fmt.Errorf("failed to insert count for key %d: %w", newKeyID, err)
		}
	}

	s.logger.InfoContext(ctx, "Corpus imported successfully",
		slog.String("corpus_name", imported.Name),
		slog.Int("target_corpus_id", corpusID),
		slog.Int("vocab_items_merged", len(imported.Vocabulary)),
		slog.Int("keys_merged", len(imported.Keys)),
		slog.Int("counts_merged", len(imported.Counts)),
	)

	return tx.Commit()
}
