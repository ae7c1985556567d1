package phrase

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It uses regular expressions to split text into words and punctuation, folds
// case so that "Never" and "never" count as the same token, drops clause
// punctuation, and identifies sentence-ending punctuation as End-Of-Sentence
// (EOS) tokens. Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	separator      string
	foldCase       bool
	keepPunct      bool
	splitRegex     *regexp.Regexp
	eosRegex       *regexp.Regexp
	punctRegex     *regexp.Regexp
	separatorExcRe *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string used for joining tokens when rebuilding a
// phrase for display.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithCaseFolding Controls whether tokens are lowercased before counting.
// Default: true
func WithCaseFolding(fold bool) Option {
	return func(t *DefaultTokenizer) {
		t.foldCase = fold
	}
}

// WithPunctuation Controls whether non-sentence-ending punctuation is emitted
// as tokens. When false (the default), commas and semicolons are skipped so
// that windows span them.
func WithPunctuation(keep bool) Option {
	return func(t *DefaultTokenizer) {
		t.keepPunct = keep
	}
}

// WithSplitRegex sets the regex string to use when splitting input text.
// Default: `[\w']+|[.,!?;]`
func WithSplitRegex(splitRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.splitRegex = regexp.MustCompile(splitRegex)
	}
}

// WithEOSRegex sets the regex string to use when deciding whether a token
// ends a sentence.
// Default: `^[.!?]$`
func WithEOSRegex(eosRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.eosRegex = regexp.MustCompile(eosRegex)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can
// be overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator: " ",
		foldCase:  true,
		keepPunct: false,
		// This regex finds sequences of word characters (letters, numbers, underscore)
		// OR single instances of common punctuation.
		splitRegex: regexp.MustCompile(`[\w']+|[.,!?;]`),
		// This regex checks if a token is one of the sentence-ending punctuation marks.
		eosRegex: regexp.MustCompile(`^[.!?]$`),
		// This regex matches clause punctuation that is dropped unless keepPunct is set.
		punctRegex: regexp.MustCompile(`^[,;]$`),
		// This regex checks for characters that don't get a separator put before them.
		separatorExcRe: regexp.MustCompile(`^[.,!?;]`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Separator Returns the configured separator string, or nothing when the next
// token is punctuation.
func (t *DefaultTokenizer) Separator(_, next string) string {
	if t.separatorExcRe.MatchString(next) {
		return ""
	}
	return t.separator
}

// NewStream Returns the stream processor.
func (t *DefaultTokenizer) NewStream(r io.Reader) StreamTokenizer {
	return &DefaultStreamTokenizer{
		scanner:    bufio.NewScanner(r),
		buffer:     []string{},
		foldCase:   t.foldCase,
		keepPunct:  t.keepPunct,
		splitRegex: t.splitRegex,
		eosRegex:   t.eosRegex,
		punctRegex: t.punctRegex,
	}
}

// DefaultStreamTokenizer is the default implementation of the StreamTokenizer
// interface. It uses a bufio.Scanner and regular expressions to read and
// tokenize a stream.
type DefaultStreamTokenizer struct {
	scanner    *bufio.Scanner
	buffer     []string
	foldCase   bool
	keepPunct  bool
	splitRegex *regexp.Regexp
	eosRegex   *regexp.Regexp
	punctRegex *regexp.Regexp
}

// Next returns the next token from the stream. It returns a Token and a nil
// error on success. When the stream is exhausted, it returns a nil Token and
// io.EOF. Any other error indicates a problem reading from the underlying
// stream.
func (s *DefaultStreamTokenizer) Next() (*Token, error) {
	for {
		for len(s.buffer) == 0 { // Loop until we have tokens
			if !s.scanner.Scan() {
				if err := s.scanner.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			s.buffer = s.splitRegex.FindAllString(s.scanner.Text(), -1)
		}

		word := s.buffer[0]
		s.buffer = s.buffer[1:] // Consume the token

		if s.eosRegex.MatchString(word) {
			return &Token{Text: word, EOS: true}, nil
		}
		if !s.keepPunct && s.punctRegex.MatchString(word) {
			continue // Clause punctuation is noise for phrase windows.
		}
		if s.foldCase {
			word = strings.ToLower(word)
		}
		return &Token{Text: word, EOS: false}, nil
	}
}
