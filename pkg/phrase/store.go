package phrase

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// MaxWindow is the hard upper bound on n-gram length. Keys are stored as
// space-joined token IDs, so unbounded windows would produce unbounded key
// rows.
const MaxWindow = 64

// SetupSchema initializes the tables used by the phrase store in the provided
// database. This function should be called once on a new database before any
// other operations are performed. It is idempotent and safe to call on an
// already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaVocab = `
CREATE TABLE IF NOT EXISTS phrase_vocabulary (
    token_id INTEGER PRIMARY KEY,
    token_text TEXT NOT NULL UNIQUE
);
`
		schemaKeys = `
CREATE TABLE IF NOT EXISTS phrase_keys (
    key_id INTEGER PRIMARY KEY,
    key_text TEXT NOT NULL UNIQUE,
    n INTEGER NOT NULL
);
`
		schemaCorpora = `
CREATE TABLE IF NOT EXISTS phrase_corpora (
    corpus_id INTEGER PRIMARY KEY,
    corpus_name TEXT NOT NULL UNIQUE,
    corpus_kind TEXT NOT NULL CHECK(corpus_kind IN ('generated', 'reference')),
    min_n INTEGER NOT NULL,
    max_n INTEGER NOT NULL
);
`
		schemaCounts = `
CREATE TABLE IF NOT EXISTS phrase_counts (
    corpus_id INTEGER NOT NULL,
    key_id INTEGER NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (corpus_id, key_id)
);
`
		schemaCountsIdx = `
CREATE INDEX IF NOT EXISTS idx_phrase_counts_freq ON phrase_counts (corpus_id, frequency);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaVocab, schemaKeys, schemaCorpora, schemaCounts, schemaCountsIdx} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store is the main entry point for interacting with the phrase library.
// It holds the database connection, a tokenizer, and prepared SQL statements
// for efficient database interaction.
type Store struct {
	db              *sql.DB
	tokenizer       Tokenizer
	stmtGetCorpus   *sql.Stmt
	stmtGetCorpora  *sql.Stmt
	stmtAddCorpus   *sql.Stmt
	stmtPruneCorpus *sql.Stmt
	stmtCorpusKeys  *sql.Stmt
	stmtCorpusFreq  *sql.Stmt
	stmtFreqByN     *sql.Stmt
	stmtGetTokenID  *sql.Stmt
	stmtGetTokenTxt *sql.Stmt
	stmtGetKeyID    *sql.Stmt
	stmtGetKeyFreq  *sql.Stmt
	stmtTopPhrases  *sql.Stmt
	stmtVocabLen    *sql.Stmt
	stmtKeyLen      *sql.Stmt
	stmtInsertVocab *sql.Stmt
	stmtInsertKey   *sql.Stmt
	stmtIncCount    *sql.Stmt
	logger          *slog.Logger
}

// NewStore creates and returns a new Store. It takes a database connection and
// a Tokenizer implementation. It pre-compiles all necessary SQL statements,
// returning an error if any preparation fails.
func NewStore(db *sql.DB, tokenizer Tokenizer) (*Store, error) {
	stmtGetCorpus, err := db.Prepare(`SELECT corpus_id, corpus_kind, min_n, max_n FROM phrase_corpora WHERE corpus_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetCorpora, err := db.Prepare(`SELECT corpus_id, corpus_name, corpus_kind, min_n, max_n FROM phrase_corpora;`)
	if err != nil {
		return nil, err
	}

	stmtAddCorpus, err := db.Prepare(`INSERT INTO phrase_corpora (corpus_name, corpus_kind, min_n, max_n) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtPruneCorpus, err := db.Prepare(`DELETE FROM phrase_counts WHERE corpus_id = ? AND frequency <= ?;`)
	if err != nil {
		return nil, err
	}

	stmtCorpusKeys, err := db.Prepare(`SELECT COUNT(*) FROM phrase_counts WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCorpusFreq, err := db.Prepare(`SELECT coalesce(SUM(frequency), 0) FROM phrase_counts WHERE corpus_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtFreqByN, err := db.Prepare(`
SELECT coalesce(SUM(c.frequency), 0)
FROM phrase_counts c JOIN phrase_keys k ON k.key_id = c.key_id
WHERE c.corpus_id = ? AND k.n = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetTokenID, err := db.Prepare(`SELECT token_id FROM phrase_vocabulary WHERE token_text = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetTokenTxt, err := db.Prepare(`SELECT token_text FROM phrase_vocabulary WHERE token_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetKeyID, err := db.Prepare(`SELECT key_id FROM phrase_keys WHERE key_text = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetKeyFreq, err := db.Prepare(`
SELECT coalesce(c.frequency, 0)
FROM phrase_keys k LEFT JOIN phrase_counts c ON c.key_id = k.key_id AND c.corpus_id = ?
WHERE k.key_text = ?;`)
	if err != nil {
		return nil, err
	}

	stmtTopPhrases, err := db.Prepare(`
SELECT k.key_text, k.n, c.frequency
FROM phrase_counts c JOIN phrase_keys k ON k.key_id = c.key_id
WHERE c.corpus_id = ? AND k.n BETWEEN ? AND ? AND c.frequency >= ?
ORDER BY c.frequency DESC, k.n DESC, k.key_text
LIMIT ?;`)
	if err != nil {
		return nil, err
	}

	stmtVocabLen, err := db.Prepare(`SELECT COUNT(*) FROM phrase_vocabulary;`)
	if err != nil {
		return nil, err
	}

	stmtKeyLen, err := db.Prepare(`SELECT COUNT(*) FROM phrase_keys;`)
	if err != nil {
		return nil, err
	}

	stmtInsertVocab, err := db.Prepare(`INSERT INTO phrase_vocabulary (token_text) VALUES (?) ON CONFLICT(token_text) DO UPDATE SET token_text=excluded.token_text RETURNING token_id;`)
	if err != nil {
		return nil, err
	}

	stmtInsertKey, err := db.Prepare(`INSERT INTO phrase_keys (key_text, n) VALUES (?, ?) ON CONFLICT(key_text) DO UPDATE SET key_text=excluded.key_text RETURNING key_id;`)
	if err != nil {
		return nil, err
	}

	stmtIncCount, err := db.Prepare(`INSERT INTO phrase_counts (corpus_id, key_id) VALUES (?, ?) ON CONFLICT DO UPDATE SET frequency = frequency + 1;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:              db,
		tokenizer:       tokenizer,
		stmtGetCorpus:   stmtGetCorpus,
		stmtGetCorpora:  stmtGetCorpora,
		stmtAddCorpus:   stmtAddCorpus,
		stmtPruneCorpus: stmtPruneCorpus,
		stmtCorpusKeys:  stmtCorpusKeys,
		stmtCorpusFreq:  stmtCorpusFreq,
		stmtFreqByN:     stmtFreqByN,
		stmtGetTokenID:  stmtGetTokenID,
		stmtGetTokenTxt: stmtGetTokenTxt,
		stmtGetKeyID:    stmtGetKeyID,
		stmtGetKeyFreq:  stmtGetKeyFreq,
		stmtTopPhrases:  stmtTopPhrases,
		stmtVocabLen:    stmtVocabLen,
		stmtKeyLen:      stmtKeyLen,
		stmtInsertVocab: stmtInsertVocab,
		stmtInsertKey:   stmtInsertKey,
		stmtIncCount:    stmtIncCount,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. It should be
// called when the Store is no longer needed to free up database resources.
func (s *Store) Close() {
	_ = s.stmtGetCorpus.Close()
	_ = s.stmtGetCorpora.Close()
	_ = s.stmtAddCorpus.Close()
	_ = s.stmtPruneCorpus.Close()
	_ = s.stmtCorpusKeys.Close()
	_ = s.stmtCorpusFreq.Close()
	_ = s.stmtFreqByN.Close()
	_ = s.stmtGetTokenID.Close()
	_ = s.stmtGetTokenTxt.Close()
	_ = s.stmtGetKeyID.Close()
	_ = s.stmtGetKeyFreq.Close()
	_ = s.stmtTopPhrases.Close()
	_ = s.stmtVocabLen.Close()
	_ = s.stmtKeyLen.Close()
	_ = s.stmtInsertVocab.Close()
	_ = s.stmtInsertKey.Close()
	_ = s.stmtIncCount.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
// Providing a `log/slog.Logger` will enable logging for extraction, pruning,
// and other operations.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetTokenizer replaces the tokenizer used for subsequent extractions.
// Corpora extracted with different tokenizers are not comparable; callers
// should re-extract after changing tokenization rules.
func (s *Store) SetTokenizer(tokenizer Tokenizer) {
	if tokenizer != nil {
		s.tokenizer = tokenizer
	}
}
