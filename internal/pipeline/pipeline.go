// Package pipeline drives activations: repeated scan, classify, analyze,
// format and rename passes over a directory until it converges.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/biblionamer/internal/attest"
	"github.com/TobiSchelling/biblionamer/internal/biblio"
	"github.com/TobiSchelling/biblionamer/internal/cache"
	"github.com/TobiSchelling/biblionamer/internal/classify"
	"github.com/TobiSchelling/biblionamer/internal/cognition"
	"github.com/TobiSchelling/biblionamer/internal/extract"
	"github.com/TobiSchelling/biblionamer/internal/journal"
	"github.com/TobiSchelling/biblionamer/internal/lifecycle"
	"github.com/TobiSchelling/biblionamer/internal/naming"
	"github.com/TobiSchelling/biblionamer/internal/scan"
	"github.com/TobiSchelling/biblionamer/internal/strategy"
)

// LockFile is held in the target directory during a live activation.
const LockFile = ".biblionamer.lock"

const analysisKeyPrefix = "extracted:"

// ErrLocked means another live activation holds the directory.
var ErrLocked = errors.New("directory is locked by another activation")

// Analyzer produces raw metadata for a document and gates validated results.
type Analyzer interface {
	Extract(ctx context.Context, in cognition.Input) (biblio.Extracted, error)
	Confident(v biblio.Validated) bool
}

// Options configures an activation.
type Options struct {
	Dir             string
	Live            bool
	MaxCycles       int
	Cooldown        time.Duration
	Concurrency     int
	MaxPages        int
	StructuralPages int
	MaxLength       int
	SegmentFloor    int
	MaxWordLength   int
	KeyMode         scan.KeyMode
	LearnMinEntries int
	LearnThreshold  float64
	CacheTTL        time.Duration
}

// Result holds the results of a full activation.
type Result struct {
	Report attest.Report
	Cycles []CycleResult
}

// Pipeline runs activations.
type Pipeline struct {
	opts       Options
	analyzer   Analyzer
	extractor  extract.Extractor
	fs         lifecycle.FS
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
	classifier *classify.Classifier
	formatter  *naming.Formatter
	scanner    *scan.Scanner
}

// Option customizes the pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSleeper overrides how the inter-cycle cooldown waits.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithFS overrides the filesystem used for renames.
func WithFS(fsys lifecycle.FS) Option {
	return func(p *Pipeline) {
		if fsys != nil {
			p.fs = fsys
		}
	}
}

// New creates a new pipeline.
func New(opts Options, analyzer Analyzer, extractor extract.Extractor, options ...Option) *Pipeline {
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = 5
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.LearnMinEntries <= 0 {
		opts.LearnMinEntries = 20
	}
	if opts.LearnThreshold <= 0 {
		opts.LearnThreshold = 0.10
	}
	p := &Pipeline{
		opts:       opts,
		analyzer:   analyzer,
		extractor:  extractor,
		fs:         lifecycle.OSFS{},
		logger:     zap.NewNop(),
		sleep:      sleepContext,
		classifier: classify.New(opts.SegmentFloor, opts.MaxWordLength),
		formatter:  naming.NewFormatter(opts.MaxLength, ""),
		scanner:    scan.New(opts.Dir, naming.DefaultExtension, opts.KeyMode),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// activation is the state shared by the cycles of one run.
type activation struct {
	journal  *journal.Journal
	cache    *cache.Cache
	strategy strategy.Strategy
	renamer  *lifecycle.Manager
}

// Activate runs one activation. In dry-run mode a single pass is made and
// nothing in the directory is written.
func (p *Pipeline) Activate(ctx context.Context) (*Result, error) {
	dir, err := filepath.Abs(p.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("target directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target directory: %s is not a directory", dir)
	}
	p.scanner.Root = dir

	if p.opts.Live {
		lock := flock.New(filepath.Join(dir, LockFile))
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				p.logger.Warn("failed to release lock", zap.Error(err))
			}
		}()
	}

	strat, err := strategy.Load(dir, p.opts.Concurrency)
	if err != nil {
		p.logger.Warn("strategy unreadable, using defaults", zap.Error(err))
	}
	act := &activation{
		journal:  journal.Open(dir, p.logger),
		cache:    cache.Open(dir, p.opts.CacheTTL, p.logger),
		strategy: strat,
	}

	report := attest.Report{
		ID:        uuid.NewString(),
		Directory: dir,
		Live:      p.opts.Live,
		Started:   time.Now(),
		Counts:    make(map[journal.Status]int),
	}
	p.logger.Info("activation started",
		zap.String("id", report.ID),
		zap.String("dir", dir),
		zap.String("mode", report.Mode()),
		zap.Int("concurrency", strat.Concurrency))

	result := &Result{}
	maxCycles := p.opts.MaxCycles
	if !p.opts.Live {
		maxCycles = 1
	}
	for n := 1; n <= maxCycles; n++ {
		if ctx.Err() != nil {
			break
		}
		rec := &cycleRecorder{}
		if p.opts.Live {
			rec.next = act.journal
		}
		act.renamer = lifecycle.New(p.fs, rec, p.logger)

		cr, err := p.runCycle(ctx, act, rec, n)
		if err != nil {
			return nil, err
		}
		result.Cycles = append(result.Cycles, cr)
		for s, c := range cr.Counts {
			report.Counts[s] += c
		}
		report.Renames = append(report.Renames, rec.renames...)

		p.logger.Info("cycle complete",
			zap.Int("cycle", n),
			zap.Int("renames", cr.Renames),
			zap.Bool("failures", cr.HasFailures))

		if !p.opts.Live || !cr.ShouldContinue {
			break
		}
		if n == maxCycles {
			p.logger.Warn("cycle limit reached before convergence", zap.Int("cycles", n))
			break
		}
		if cr.HasFailures && p.opts.Cooldown > 0 {
			p.logger.Info("cooling down before next cycle", zap.Duration("cooldown", p.opts.Cooldown))
			if err := p.sleep(ctx, p.opts.Cooldown); err != nil {
				break
			}
		}
	}
	report.Cycles = len(result.Cycles)

	if p.opts.Live {
		if err := act.cache.Save(); err != nil {
			p.logger.Warn("saving cache failed", zap.Error(err))
		}
		p.learn(act)
	}
	report.Hints = act.strategy.AIPromptHints

	unprocessed, err := p.unprocessed(act, result)
	if err != nil {
		p.logger.Warn("listing unprocessed files failed", zap.Error(err))
	}
	report.Unprocessed = unprocessed
	report.Finished = time.Now()

	if p.opts.Live {
		if err := attest.Write(dir, report); err != nil {
			p.logger.Warn("writing attestation failed", zap.Error(err))
		}
	}
	result.Report = report
	return result, ctx.Err()
}

func (p *Pipeline) runCycle(ctx context.Context, act *activation, rec *cycleRecorder, n int) (CycleResult, error) {
	entities, err := p.scanner.Scan()
	if err != nil {
		return CycleResult{}, err
	}
	entries, err := act.journal.Entries()
	if err != nil {
		return CycleResult{}, err
	}
	state := journal.Fold(entries, p.scanner.Root)

	p.logger.Info("cycle started", zap.Int("cycle", n), zap.Int("files", len(entities)))
	if n == 1 && p.scanner.KeyMode == scan.KeyBasename {
		if nested := countNested(entities, p.scanner.Root); nested > 0 {
			p.logger.Warn("basename journal keys only resolve for flat libraries; nested files will not find their history",
				zap.Int("nested", nested))
		}
	}

	var g errgroup.Group
	g.SetLimit(act.strategy.Concurrency)
	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		var last *journal.Entry
		if entry, ok := state[e.Path]; ok {
			last = &entry
		}
		g.Go(func() error {
			p.processFile(ctx, act, rec, e, last)
			return nil
		})
	}
	_ = g.Wait()
	return rec.result(n), nil
}

func countNested(entities []scan.FileEntity, root string) int {
	n := 0
	for _, e := range entities {
		if e.Dir != root {
			n++
		}
	}
	return n
}

// processFile runs one file through the pipeline. Every outcome is recorded;
// nothing is returned.
func (p *Pipeline) processFile(ctx context.Context, act *activation, rec journal.Writer, e scan.FileEntity, last *journal.Entry) {
	log := p.logger.With(zap.String("file", e.Key))
	started := time.Now()
	record := func(status journal.Status, details string, v *biblio.Validated, newName string) {
		entry := journal.Entry{
			File:       e.Key,
			Status:     status,
			Details:    details,
			DurationMs: time.Since(started).Milliseconds(),
			NewName:    newName,
		}
		if v != nil {
			c := v.Confidence
			entry.Confidence = &c
		}
		if err := rec.Append(entry); err != nil {
			log.Error("journal write failed", zap.Error(err))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("unexpected failure", zap.Any("panic", r))
			record(journal.StatusFailureAI, fmt.Sprintf("unexpected failure: %v", r), nil, "")
		}
	}()

	decision := p.classifier.Classify(e, last)
	switch decision.Decision {
	case classify.AlreadyDone:
		log.Debug("already done", zap.String("reason", decision.Reason))
		record(journal.StatusProcessed, decision.Reason, nil, "")
		return
	case classify.Recover:
		log.Info("recovering cached name", zap.String("to", decision.CachedName))
		p.rename(act, rec, e, decision.CachedName, lifecycle.Outcome{Started: started, Details: "recovered cached name"})
		return
	}
	if decision.Stale {
		log.Warn("ignoring stale journal entry", zap.String("reason", decision.Reason))
	}

	v, err := p.analyze(ctx, act, e)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted")
			return
		}
		status := journal.StatusFailureAI
		if errors.Is(err, errParse) {
			status = journal.StatusFailureParse
		}
		log.Warn("analysis failed", zap.String("status", string(status)), zap.Error(err))
		record(status, err.Error(), nil, "")
		return
	}

	if !p.analyzer.Confident(v) {
		log.Info("low confidence", zap.Float64("confidence", v.Confidence))
		record(journal.StatusSkippedLowConf, fmt.Sprintf("confidence %.2f below threshold", v.Confidence), &v, "")
		return
	}

	base, err := p.formatter.Format(v, e.Type)
	if err != nil {
		record(journal.StatusSkippedNoChange, err.Error(), &v, "")
		return
	}
	newName := base + p.formatter.Extension
	if newName == e.Name {
		record(journal.StatusSkippedNoChange, "name already canonical", &v, "")
		return
	}

	conf := v.Confidence
	p.rename(act, rec, e, newName, lifecycle.Outcome{Confidence: &conf, Started: started})
}

func (p *Pipeline) rename(act *activation, rec journal.Writer, e scan.FileEntity, newName string, out lifecycle.Outcome) {
	if p.opts.Live {
		_, _ = act.renamer.Rename(e, newName, out)
		return
	}

	planned, err := act.renamer.Plan(e, newName)
	entry := journal.Entry{
		File:       e.Key,
		Status:     journal.StatusSuccess,
		Details:    "dry run: would rename",
		DurationMs: time.Since(out.Started).Milliseconds(),
		Confidence: out.Confidence,
		NewName:    planned,
	}
	if err != nil {
		entry.Status = journal.StatusFailureRename
		entry.Details = err.Error()
		entry.NewName = newName
	}
	p.logger.Info("planned rename", zap.String("file", e.Key), zap.String("to", entry.NewName))
	_ = rec.Append(entry)
}

var errParse = errors.New("extraction failed")

// analyze returns the file's metadata merged with its folder archetype. The
// raw model answer is cached by content, so identical files in different
// folders each get their own archetype. Only confident results are cached.
func (p *Pipeline) analyze(ctx context.Context, act *activation, e scan.FileEntity) (biblio.Validated, error) {
	arch := biblio.DeriveArchetype(e.Path)
	key, keyErr := cache.ContentKey(analysisKeyPrefix, e.Path)
	if keyErr == nil {
		var ex biblio.Extracted
		if act.cache.Get(key, &ex) {
			p.logger.Debug("analysis cache hit", zap.String("file", e.Key))
			return biblio.Validate(ex, arch), nil
		}
	}

	pages := extract.PagesFor(e.Type.IsStructural, p.opts.MaxPages, p.opts.StructuralPages)
	text, err := p.extractor.Extract(ctx, e.Path, pages)
	if err != nil {
		return biblio.Validated{}, fmt.Errorf("%w: %v", errParse, err)
	}

	ex, err := p.analyzer.Extract(ctx, cognition.Input{
		FileName:  e.Name,
		Text:      text,
		Archetype: arch,
		Type:      e.Type,
		Hints:     act.strategy.AIPromptHints,
	})
	if err != nil {
		return biblio.Validated{}, err
	}
	v := biblio.Validate(ex, arch)
	if keyErr == nil && p.analyzer.Confident(v) {
		if err := act.cache.Set(key, ex); err != nil {
			p.logger.Warn("caching analysis failed", zap.String("file", e.Key), zap.Error(err))
		}
	}
	return v, nil
}

func (p *Pipeline) learn(act *activation) {
	entries, err := act.journal.Entries()
	if err != nil {
		p.logger.Warn("learning skipped", zap.Error(err))
		return
	}
	if !act.strategy.Learn(entries, p.opts.LearnMinEntries, p.opts.LearnThreshold) {
		return
	}
	p.logger.Info("strategy learned a new hint", zap.Float64("failureRate", strategy.FailureRate(entries)))
	if err := act.strategy.Save(p.scanner.Root); err != nil {
		p.logger.Warn("saving strategy failed", zap.Error(err))
	}
}

// unprocessed lists the files a fresh pass would still analyze or recover.
func (p *Pipeline) unprocessed(act *activation, result *Result) ([]string, error) {
	if len(result.Cycles) == 0 {
		return nil, nil
	}
	entries, err := act.journal.Entries()
	if err != nil {
		return nil, err
	}
	entities, err := p.scanner.Scan()
	if err != nil {
		return nil, err
	}
	state := journal.Fold(entries, p.scanner.Root)

	var out []string
	for _, e := range entities {
		var last *journal.Entry
		if entry, ok := state[e.Path]; ok {
			last = &entry
		}
		if p.classifier.Classify(e, last).Decision != classify.AlreadyDone {
			out = append(out, e.Key)
		}
	}
	sort.Strings(out)
	return out, nil
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
