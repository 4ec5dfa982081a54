// Package cognition turns document text into validated bibliographic data.
// It owns the resilience policy around the model call: an ordered model
// fallback list and, per model, a rotating pool of credentials with
// exponential backoff once the whole pool is rate limited.
package cognition

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/biblionamer/internal/biblio"
	"github.com/TobiSchelling/biblionamer/internal/llm"
)

// ErrExhausted is returned when every model failed for a document.
var ErrExhausted = errors.New("all models exhausted")

const (
	defaultMaxKeyCycles  = 6
	defaultBackoffBase   = 10 * time.Second
	defaultBackoffMax    = 120 * time.Second
	defaultJitter        = 0.2
	defaultExcerptChars  = 8000
	defaultMinConfidence = 0.7
	defaultMaxTokens     = 1024
)

// Options configures an Orchestrator.
type Options struct {
	Models        []string
	Keys          []string
	MaxKeyCycles  int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	Jitter        float64
	StrictQuota   bool
	ExcerptChars  int
	MinConfidence float64
	MaxTokens     int
}

// Orchestrator is safe for concurrent use. The credential cursor is the only
// state shared between calls.
type Orchestrator struct {
	provider llm.Provider
	opts     Options
	rotator  *Rotator
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	jitter   func() float64
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithJitter overrides the jitter source. It must return values in [-1, 1].
func WithJitter(jitter func() float64) Option {
	return func(o *Orchestrator) {
		if jitter != nil {
			o.jitter = jitter
		}
	}
}

// New creates an orchestrator. At least one model and one credential are required.
func New(provider llm.Provider, opts Options, options ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("cognition: no LLM provider")
	}
	if len(opts.Models) == 0 {
		return nil, errors.New("cognition: no models configured")
	}
	if len(opts.Keys) == 0 {
		return nil, errors.New("cognition: no API credentials configured")
	}
	if opts.MaxKeyCycles <= 0 {
		opts.MaxKeyCycles = defaultMaxKeyCycles
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.ExcerptChars <= 0 {
		opts.ExcerptChars = defaultExcerptChars
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = defaultMinConfidence
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	o := &Orchestrator{
		provider: provider,
		opts:     opts,
		rotator:  NewRotator(len(opts.Keys)),
		logger:   zap.NewNop(),
		sleep:    sleepContext,
		jitter:   func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Rotator exposes the shared credential cursor.
func (o *Orchestrator) Rotator() *Rotator { return o.rotator }

// Confident reports whether v passes the confidence gate.
func (o *Orchestrator) Confident(v biblio.Validated) bool {
	return v.Confidence >= o.opts.MinConfidence
}

// Analyze asks each model in order until one returns parseable metadata.
// The result has the self-correction rule and archetype merge applied.
func (o *Orchestrator) Analyze(ctx context.Context, in Input) (biblio.Validated, error) {
	ex, err := o.Extract(ctx, in)
	if err != nil {
		return biblio.Validated{}, err
	}
	return biblio.Validate(ex, in.Archetype), nil
}

// Extract returns the raw metadata of the first model that answers, before
// any archetype merge.
func (o *Orchestrator) Extract(ctx context.Context, in Input) (biblio.Extracted, error) {
	prompt := BuildPrompt(in, o.opts.ExcerptChars)

	var lastErr error
	for _, model := range o.opts.Models {
		ex, err := o.tryModel(ctx, model, prompt, in.FileName)
		if err == nil {
			return ex, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return biblio.Extracted{}, ctxErr
		}
		lastErr = err
		o.logger.Warn("model abandoned",
			zap.String("file", in.FileName),
			zap.String("model", model),
			zap.Error(err))
	}
	return biblio.Extracted{}, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (o *Orchestrator) tryModel(ctx context.Context, model, prompt, file string) (biblio.Extracted, error) {
	pool := o.rotator.Size()
	failures := 0
	cycles := 0
	allHardQuota := true

	for {
		if err := ctx.Err(); err != nil {
			return biblio.Extracted{}, err
		}

		idx := o.rotator.Current()
		text, err := o.provider.Generate(ctx, llm.Request{
			Model:     model,
			APIKey:    o.opts.Keys[idx],
			Prompt:    prompt,
			MaxTokens: o.opts.MaxTokens,
		})
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return biblio.Extracted{}, errors.New("empty response")
			}
			var ex biblio.Extracted
			if err := llm.DecodeJSON(text, &ex); err != nil {
				return biblio.Extracted{}, err
			}
			o.rotator.Advance()
			o.logger.Debug("analysis complete",
				zap.String("file", file),
				zap.String("model", model),
				zap.Int("key", idx),
				zap.Float64("confidence", ex.Confidence))
			return ex, nil
		}

		if ctx.Err() != nil {
			return biblio.Extracted{}, ctx.Err()
		}
		if llm.Classify(err) == llm.Permanent {
			return biblio.Extracted{}, err
		}

		o.rotator.Advance()
		failures++
		if !llm.IsHardQuota(err) {
			allHardQuota = false
		}
		o.logger.Debug("transient error, rotating credential",
			zap.String("file", file),
			zap.String("model", model),
			zap.Int("key", idx),
			zap.Error(err))
		if failures < pool {
			continue
		}

		// The whole pool failed once.
		cycles++
		failures = 0
		if o.opts.StrictQuota && allHardQuota {
			return biblio.Extracted{}, fmt.Errorf("quota exhausted on all %d credentials: %w", pool, err)
		}
		allHardQuota = true
		if cycles >= o.opts.MaxKeyCycles {
			return biblio.Extracted{}, fmt.Errorf("gave up after %d credential cycles: %w", cycles, err)
		}

		delay := o.backoff(cycles, err)
		o.logger.Warn("credential pool exhausted, backing off",
			zap.String("file", file),
			zap.String("model", model),
			zap.Int("cycle", cycles),
			zap.Duration("delay", delay))
		if err := o.sleep(ctx, delay); err != nil {
			return biblio.Extracted{}, err
		}
	}
}

// backoff returns base*2^(cycle-1), honouring a longer Retry-After, capped
// at the maximum and spread by jitter.
func (o *Orchestrator) backoff(cycle int, err error) time.Duration {
	delay := o.opts.BackoffBase
	for i := 1; i < cycle && delay < o.opts.BackoffMax; i++ {
		delay *= 2
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
		delay = statusErr.RetryAfter
	}
	if delay > o.opts.BackoffMax {
		delay = o.opts.BackoffMax
	}
	if o.opts.Jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + o.opts.Jitter*o.jitter()))
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
