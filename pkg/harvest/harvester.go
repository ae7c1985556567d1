package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Completer is the interface a Harvester drives. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds the parameters of a harvesting run.
type Config struct {
	// Target is the total number of unique proverbs the output file should
	// eventually hold, across however many runs it takes.
	Target int `json:"target"`

	// Concurrency bounds the number of in-flight requests.
	Concurrency int `json:"concurrency"`

	// SaveInterval is how many accepted completions pass between progress
	// saves. The final save always happens regardless.
	SaveInterval int `json:"save_interval"`

	// RequestsPerSecond throttles request dispatch. Zero disables the
	// limiter entirely.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// OutputPath is the JSON array file the run reads on resume and writes
	// progress to.
	OutputPath string `json:"output_path"`

	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// DefaultConfig returns the harvesting parameters the proverb corpus was
// originally collected with.
func DefaultConfig() Config {
	return Config{
		Target:            10000,
		Concurrency:       8,
		SaveInterval:      100,
		RequestsPerSecond: 8,
		OutputPath:        "proverbs.json",
		SystemPrompt:      "You are a wizened online denizen and a person who crafts pithy proverbs about modern life.",
		UserPrompt: "Create a proverb about life, especially as it occurs on the internet in social media, " +
			"online forums, and other venues. Every proverb you generate must be a single, complete sentence up to 100 tokens.",
	}
}

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	Target     int  `json:"target"`
	Completed  int  `json:"completed"`
	Duplicates int  `json:"duplicates"`
	Errors     int  `json:"errors"`
	Done       bool `json:"done"`
}

// Harvester accumulates unique completions into the output file until the
// target count is reached.
type Harvester struct {
	client Completer
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	proverbs   []string
	seen       map[string]struct{}
	duplicates int
	errors     int
	sinceSave  int
	done       bool
}

// NewHarvester creates a harvester around the given completions client. Zero
// config fields fall back to DefaultConfig values.
func NewHarvester(client Completer, config Config) *Harvester {
	defaults := DefaultConfig()
	if config.Target <= 0 {
		config.Target = defaults.Target
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.SaveInterval <= 0 {
		config.SaveInterval = defaults.SaveInterval
	}
	if config.OutputPath == "" {
		config.OutputPath = defaults.OutputPath
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaults.SystemPrompt
	}
	if config.UserPrompt == "" {
		config.UserPrompt = defaults.UserPrompt
	}
	return &Harvester{
		client: client,
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:   make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the harvester. By default, logs are discarded.
func (h *Harvester) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// Run resumes from the output file, then dispatches one request per missing
// proverb through a bounded worker pool. Request failures and duplicate
// completions are counted rather than fatal, so a single run may finish short
// of the target; running again picks up where the file left off. The output
// is saved every SaveInterval acceptances and once more before returning,
// even when the context is cancelled mid-run.
func (h *Harvester) Run(ctx context.Context) error {
	if err := h.resume(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	remaining := h.config.Target - len(h.proverbs)
	h.mu.Unlock()
	if remaining <= 0 {
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		h.logger.InfoContext(ctx, "Harvest already complete", slog.Int("target", h.config.Target))
		return nil
	}

	var limiter *rate.Limiter
	if h.config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.config.RequestsPerSecond), h.config.Concurrency)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for i := 0; i < remaining; i++ {
		if gctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			text, err := h.client.Complete(gctx, h.config.SystemPrompt, h.config.UserPrompt)
			if err != nil {
				h.recordError(gctx, err)
				return nil
			}
			h.record(gctx, text)
			return nil
		})
	}
	_ = g.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = len(h.proverbs) >= h.config.Target
	if err := h.saveLocked(); err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "Harvest run finished",
		slog.Int("completed", len(h.proverbs)),
		slog.Int("target", h.config.Target),
		slog.Int("duplicates", h.duplicates),
		slog.Int("errors", h.errors),
	)
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Snapshot returns the current run progress.
func (h *Harvester) Snapshot() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Progress{
		Target:     h.config.Target,
		Completed:  len(h.proverbs),
		Duplicates: h.duplicates,
		Errors:     h.errors,
		Done:       h.done,
	}
}

// resume loads any proverbs an interrupted run already wrote.
func (h *Harvester) resume(ctx context.Context) error {
	data, err := os.ReadFile(h.config.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not read output file %q: %w", h.config.OutputPath, err)
	}

	var existing []string
	if err := json.Unmarshal(data, &existing); err != nil {
		return fmt.Errorf("could not parse output file %q: %w", h.config.OutputPath, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range existing {
		if _, dup := h.seen[p]; dup {
			continue
		}
		h.seen[p] = struct{}{}
		h.proverbs = append(h.proverbs, p)
	}
	h.logger.InfoContext(ctx, "Resuming harvest",
		slog.String("output", h.config.OutputPath),
		slog.Int("existing", len(h.proverbs)),
	)
	return nil
}

// record accepts one completion, dropping duplicates and saving progress at
// the configured interval.
func (h *Harvester) record(ctx context.Context, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if text == "" {
		h.errors++
		return
	}
	if _, dup := h.seen[text]; dup {
		h.duplicates++
		return
	}
	h.seen[text] = struct{}{}
	h.proverbs = append(h.proverbs, text)
	h.sinceSave++

	if h.sinceSave >= h.config.SaveInterval {
		h.sinceSave = 0
		if err := h.saveLocked(); err != nil {
			h.logger.ErrorContext(ctx, "Progress save failed", slog.Any("error", err))
		}
	}
}

func (h *Harvester) recordError(ctx context.Context, err error) {
	h.mu.Lock()
	h.errors++
	count := h.errors
	h.mu.Unlock()
	h.logger.WarnContext(ctx, "Completion request failed",
		slog.Any("error", err),
		slog.Int("total_errors", count),
	)
}

// saveLocked writes the proverb list atomically. Callers must hold h.mu.
func (h *Harvester) saveLocked() error {
	out := h.proverbs
	if out == nil {
		out = []string{}
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("could not encode proverbs: %w", err)
	}
	if err := atomic.WriteFile(h.config.OutputPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("could not write output file %q: %w", h.config.OutputPath, err)
	}
	return nil
}
