package novelty

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/paremia/trawl/pkg/phrase"
)

// Candidate is a single scored phrase from a generated corpus.
type Candidate struct {
	Phrase  string  `json:"phrase"`
	Key     string  `json:"key"`
	N       int     `json:"n"`
	GenFreq int     `json:"gen_frequency"`
	RefFreq int     `json:"ref_frequency"`
	GenRel  float64 `json:"gen_relative"`
	RefRel  float64 `json:"ref_relative"`
	Score   float64 `json:"score"`
	Stage   int     `json:"stage"`
}

// Stoplist reports whether a decoded phrase should be excluded from scoring.
// Implementations typically hold operator-curated token and phrase lists.
type Stoplist interface {
	Blocked(phrase string) bool
}

// Scorer turns the raw counts of a generated corpus and a reference corpus
// into ranked novelty candidates.
type Scorer struct {
	store    *phrase.Store
	config   *Config
	stoplist Stoplist
	logger   *slog.Logger
}

// NewScorer creates a scorer over the given phrase store. A nil config uses
// DefaultConfig.
func NewScorer(store *phrase.Store, config *Config) *Scorer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scorer{
		store:  store,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the scorer. By default, logs are discarded.
func (s *Scorer) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetStoplist installs a stoplist consulted for every decoded phrase.
func (s *Scorer) SetStoplist(sl Stoplist) {
	s.stoplist = sl
}

// SetConfig replaces the scoring configuration. A nil config uses DefaultConfig.
func (s *Scorer) SetConfig(config *Config) {
	if config == nil {
		config = DefaultConfig()
	}
	s.config = config
}

// Stages returns the verdict stage thresholds currently in effect.
func (s *Scorer) Stages() VerdictStages {
	return s.config.Stages
}

// scoreOptions Is used by Score to configure default options.
type scoreOptions struct {
	minN      int
	maxN      int
	minFreq   int
	scanLimit int
	noMaximal bool
}

// ScoreOption is a function that configures scoring parameters.
type ScoreOption func(*scoreOptions)

// WithWindowBounds restricts scoring to windows of length minN through maxN.
// Defaults to the generated corpus bounds.
func WithWindowBounds(minN, maxN int) ScoreOption {
	return func(o *scoreOptions) { o.minN, o.maxN = minN, maxN }
}

// WithMinFrequency overrides the configured generated-frequency floor.
func WithMinFrequency(n int) ScoreOption {
	return func(o *scoreOptions) { o.minFreq = n }
}

// WithScanLimit caps how many counted keys are pulled from the store before
// filtering. Defaults to ten times the candidate ceiling.
func WithScanLimit(n int) ScoreOption {
	return func(o *scoreOptions) { o.scanLimit = n }
}

// WithoutMaximalFilter disables the containment filter, returning every
// scored window including sub-phrases of longer candidates.
func WithoutMaximalFilter() ScoreOption {
	return func(o *scoreOptions) { o.noMaximal = true }
}

// Score ranks the phrases of the generated corpus against the reference
// corpus. For each counted window it computes the ratio of relative
// frequencies, smoothed on the reference side and weighted by window length,
// then assigns a verdict stage. Results are sorted by score descending and
// capped at the configured candidate ceiling.
func (s *Scorer) Score(ctx context.Context, generated, reference phrase.CorpusInfo, opts ...ScoreOption) ([]Candidate, error) {
	options := &scoreOptions{
		minN:      generated.MinN,
		maxN:      generated.MaxN,
		minFreq:   s.config.MinGenFrequency,
		scanLimit: s.config.MaxCandidates * 10,
	}
	for _, opt := range opts {
		opt(options)
	}
	// An unset bound falls back to the corpus bound, so a caller can narrow
	// one side without having to restate the other.
	if options.minN <= 0 {
		options.minN = generated.MinN
	}
	if options.maxN <= 0 {
		options.maxN = generated.MaxN
	}

	genTotals, refTotals, err := s.loadTotals(ctx, generated, reference, options.minN, options.maxN)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.TopPhrases(ctx, generated, phrase.TopQuery{
		MinN:    options.minN,
		MaxN:    options.maxN,
		MinFreq: options.minFreq,
		Limit:   options.scanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("could not scan generated corpus %q: %w", generated.Name, err)
	}

	var candidates []Candidate
	var stoplisted int
	for _, pc := range counts {
		genTotal := genTotals[pc.N]
		if genTotal == 0 {
			continue
		}
		refTotal := refTotals[pc.N]
		if refTotal == 0 {
			// An empty reference slot still smooths against a denominator
			// of one instead of being treated as infinitely novel.
			refTotal = 1
		}

		refFreq, err := s.store.Frequency(ctx, reference, pc.Key)
		if err != nil {
			return nil, fmt.Errorf("could not count key %q in reference corpus %q: %w", pc.Key, reference.Name, err)
		}

		text, err := s.store.PhraseText(ctx, pc.Key)
		if err != nil {
			return nil, fmt.Errorf("could not decode key %q: %w", pc.Key, err)
		}
		if s.stoplist != nil && s.stoplist.Blocked(text) {
			stoplisted++
			continue
		}

		genRel := float64(pc.Frequency) / float64(genTotal)
		refRel := (float64(refFreq) + s.config.Smoothing) / float64(refTotal)
		score := genRel / refRel * math.Pow(float64(pc.N), s.config.LengthWeight)

		candidates = append(candidates, Candidate{
			Phrase:  text,
			Key:     pc.Key,
			N:       pc.N,
			GenFreq: pc.Frequency,
			RefFreq: refFreq,
			GenRel:  genRel,
			RefRel:  refRel,
			Score:   score,
			Stage:   s.Stage(score),
		})
	}

	if !options.noMaximal {
		candidates = s.Maximal(candidates)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if s.config.MaxCandidates > 0 && len(candidates) > s.config.MaxCandidates {
		candidates = candidates[:s.config.MaxCandidates]
	}

	s.logger.InfoContext(ctx, "Scoring pass complete",
		slog.String("generated", generated.Name),
		slog.String("reference", reference.Name),
		slog.Int("scanned", len(counts)),
		slog.Int("stoplisted", stoplisted),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// loadTotals fetches the per-length window totals of both corpora up front so
// the per-phrase loop never hits the totals statement twice for the same n.
func (s *Scorer) loadTotals(ctx context.Context, generated, reference phrase.CorpusInfo, minN, maxN int) (map[int]int, map[int]int, error) {
	genTotals := make(map[int]int, maxN-minN+1)
	refTotals := make(map[int]int, maxN-minN+1)
	for n := minN; n <= maxN; n++ {
		gt, err := s.store.TotalFrequency(ctx, generated, n)
		if err != nil {
			return nil, nil, fmt.Errorf("could not total corpus %q at n=%d: %w", generated.Name, n, err)
		}
		rt, err := s.store.TotalFrequency(ctx, reference, n)
		if err != nil {
			return nil, nil, fmt.Errorf("could not total corpus %q at n=%d: %w", reference.Name, n, err)
		}
		genTotals[n] = gt
		refTotals[n] = rt
	}
	return genTotals, refTotals, nil
}

// Stage maps a raw novelty score to a discrete verdict from 0-4. It iterates
// from the highest stage (4) to the lowest, respecting the Enabled flag for
// each stage. If no enabled stage threshold is met, it returns the configured
// FallbackLevel.
func (s *Scorer) Stage(score float64) int {
	stages := []StageConfig{
		s.config.Stages.Stage4,
		s.config.Stages.Stage3,
		s.config.Stages.Stage2,
		s.config.Stages.Stage1,
		s.config.Stages.Stage0,
	}

	for i, stage := range stages {
		level := 4 - i
		if stage.Enabled && score >= stage.Threshold {
			return level
		}
	}

	return max(0, min(s.config.FallbackLevel, 4))
}
