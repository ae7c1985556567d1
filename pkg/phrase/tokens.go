package phrase

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Token represents a single tokenized unit of text. It contains the text
// itself and a boolean flag indicating if it marks the end of a sentence.
type Token struct {
	Text string
	EOS  bool
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens. This allows the core extraction logic to be independent of the
// specific tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer for processing an io.Reader.
	NewStream(io.Reader) StreamTokenizer
	// Separator returns the string that should be used to join tokens when
	// rebuilding a phrase for display, using the previous and current tokens.
	Separator(prev, current string) string
}

// StreamTokenizer is an interface for a stateful tokenizer that processes a
// stream of data, returning one token at a time.
type StreamTokenizer interface {
	// Next returns the next token from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() (*Token, error)
}

// ErrUnknownToken is returned when a phrase contains a word that has never
// been seen by any extraction.
var ErrUnknownToken = errors.New("phrase: token not in vocabulary")

// LookupToken looks up a token string in the vocabulary and returns its
// corresponding ID. It returns ErrUnknownToken if the token is not found.
func (s *Store) LookupToken(ctx context.Context, token string) (int, error) {
	var tokenID int
	err := s.stmtGetTokenID.QueryRowContext(ctx, token).Scan(&tokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUnknownToken
		}
		return 0, err
	}
	return tokenID, nil
}

// TokenText looks up a token ID in the vocabulary and returns its
// corresponding text. It returns an error if the ID is not found.
func (s *Store) TokenText(ctx context.Context, id int) (string, error) {
	var tokenText string
	err := s.stmtGetTokenTxt.QueryRowContext(ctx, id).Scan(&tokenText)
	if err != nil {
		return "", err
	}
	return tokenText, nil
}

// KeyOf encodes a word sequence into its key text (space-joined token IDs)
// without inserting anything. It returns ErrUnknownToken if any word is not
// in the vocabulary, which also means the phrase has frequency zero
// everywhere.
func (s *Store) KeyOf(ctx context.Context, words []string) (string, error) {
	var keyBuf []byte
	for i, word := range words {
		id, err := s.LookupToken(ctx, word)
		if err != nil {
			return "", err
		}
		if i > 0 {
			keyBuf = append(keyBuf, ' ')
		}
		keyBuf = strconv.AppendInt(keyBuf, int64(id), 10)
	}
	return string(keyBuf), nil
}

// PhraseText decodes a key text back into a human-readable phrase, joining
// tokens with the tokenizer's separator rules.
func (s *Store) PhraseText(ctx context.Context, keyText string) (string, error) {
	return s.phraseTextWithCache(ctx, keyText, make(map[int]string))
}

// phraseTextWithCache is the cache-aware decode used by bulk operations to
// minimize vocabulary lookups.
func (s *Store) phraseTextWithCache(ctx context.Context, keyText string, cache map[int]string) (string, error) {
	var builder strings.Builder
	var prev string
	for i, idStr := range strings.Split(keyText, " ") {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return "", err
		}
		text, ok := cache[id]
		if !ok {
			text, err = s.TokenText(ctx, id)
			if err != nil {
				return "", err
			}
			cache[id] = text
		}
		if i > 0 {
			builder.WriteString(s.tokenizer.Separator(prev, text))
		}
		builder.WriteString(text)
		prev = text
	}
	return builder.String(), nil
}
