package phrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// drainTokens reads a stream to exhaustion and returns all tokens.
func drainTokens(t *testing.T, st StreamTokenizer) []Token {
	t.Helper()
	var tokens []Token
	for {
		tok, err := st.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return tokens
			}
			t.Fatalf("Next() failed: %v", err)
		}
		tokens = append(tokens, *tok)
	}
}

func TestDefaultTokenizerFoldsCase(t *testing.T) {
	tk := NewDefaultTokenizer()
	tokens := drainTokens(t, tk.NewStream(strings.NewReader("Never Forgets")))

	want := []string{"never", "forgets"}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(tokens), len(want))
	}
	for i, w := range want {
		if tokens[i].Text != w {
			t.Errorf("token %d = %q, want %q", i, tokens[i].Text, w)
		}
	}
}

func TestDefaultTokenizerPreservesCase(t *testing.T) {
	tk := NewDefaultTokenizer(WithCaseFolding(false))
	tokens := drainTokens(t, tk.NewStream(strings.NewReader("Never Forgets")))

	if len(tokens) != 2 || tokens[0].Text != "Never" || tokens[1].Text != "Forgets" {
		t.Errorf("got %v, want case preserved", tokens)
	}
}

func TestDefaultTokenizerSkipsClausePunctuation(t *testing.T) {
	tk := NewDefaultTokenizer()
	tokens := drainTokens(t, tk.NewStream(strings.NewReader("first, second; third")))

	want := []string{"first", "second", "third"}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		if tokens[i].Text != w {
			t.Errorf("token %d = %q, want %q", i, tokens[i].Text, w)
		}
	}
}

func TestDefaultTokenizerKeepsPunctuation(t *testing.T) {
	tk := NewDefaultTokenizer(WithPunctuation(true))
	tokens := drainTokens(t, tk.NewStream(strings.NewReader("first, second")))

	want := []string{"first", ",", "second"}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		if tokens[i].Text != w {
			t.Errorf("token %d = %q, want %q", i, tokens[i].Text, w)
		}
	}
}

func TestDefaultTokenizerEOS(t *testing.T) {
	tk := NewDefaultTokenizer()
	tokens := drainTokens(t, tk.NewStream(strings.NewReader("one two. three!")))

	var eosCount int
	for _, tok := range tokens {
		if tok.EOS {
			eosCount++
		}
	}
	if eosCount != 2 {
		t.Errorf("got %d EOS tokens, want 2", eosCount)
	}
	if !tokens[2].EOS || tokens[2].Text != "." {
		t.Errorf("token 2 = %+v, want EOS period", tokens[2])
	}
}

func TestDefaultTokenizerSeparator(t *testing.T) {
	tk := NewDefaultTokenizer()
	if sep := tk.Separator("one", "two"); sep != " " {
		t.Errorf("Separator(word, word) = %q, want single space", sep)
	}
	if sep := tk.Separator("two", "."); sep != "" {
		t.Errorf("Separator(word, punct) = %q, want empty", sep)
	}
}

func TestLookupTokenAndTokenText(t *testing.T) {
	ctx, s, _ := setupTestDBWithCorpus(t)

	id, err := s.LookupToken(ctx, "internet")
	if err != nil {
		t.Fatalf("LookupToken() failed: %v", err)
	}
	text, err := s.TokenText(ctx, id)
	if err != nil {
		t.Fatalf("TokenText() failed: %v", err)
	}
	if text != "internet" {
		t.Errorf("TokenText(%d) = %q, want %q", id, text, "internet")
	}

	if _, err := s.LookupToken(ctx, "zanzibar"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("LookupToken(zanzibar) error = %v, want ErrUnknownToken", err)
	}
}

func TestKeyOfRoundTrip(t *testing.T) {
	ctx, s, _ := setupTestDBWithCorpus(t)

	key, err := s.KeyOf(ctx, []string{"the", "internet", "never", "forgets"})
	if err != nil {
		t.Fatalf("KeyOf() failed: %v", err)
	}
	text, err := s.PhraseText(ctx, key)
	if err != nil {
		t.Fatalf("PhraseText() failed: %v", err)
	}
	if text != "the internet never forgets" {
		t.Errorf("round trip = %q, want %q", text, "the internet never forgets")
	}
}

func TestKeyOfUnknownToken(t *testing.T) {
	ctx, s, _ := setupTestDBWithCorpus(t)

	if _, err := s.KeyOf(ctx, []string{"the", "zanzibar"}); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("KeyOf() error = %v, want ErrUnknownToken", err)
	}
}
