package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TobiSchelling/biblionamer/internal/attest"
	"github.com/TobiSchelling/biblionamer/internal/cognition"
	"github.com/TobiSchelling/biblionamer/internal/extract"
	"github.com/TobiSchelling/biblionamer/internal/journal"
	"github.com/TobiSchelling/biblionamer/internal/lifecycle"
	"github.com/TobiSchelling/biblionamer/internal/llm"
	"github.com/TobiSchelling/biblionamer/internal/scan"
	"github.com/TobiSchelling/biblionamer/internal/strategy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var fileNameLine = regexp.MustCompile(`File name: (.+)\n`)

// scriptedProvider answers with the response registered for the file named
// in the prompt.
type scriptedProvider struct {
	mu        sync.Mutex
	responses map[string]string
	panics    map[string]bool
	calls     map[string]int
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		responses: make(map[string]string),
		panics:    make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m := fileNameLine.FindStringSubmatch(req.Prompt)
	if m == nil {
		return "", errors.New("no file name in prompt")
	}
	name := m[1]

	s.mu.Lock()
	s.calls[name]++
	resp, ok := s.responses[name]
	boom := s.panics[name]
	s.mu.Unlock()

	if boom {
		panic("provider exploded")
	}
	if !ok {
		return "", &llm.StatusError{Code: 400, Body: "unknown document"}
	}
	return resp, nil
}

func (s *scriptedProvider) set(t *testing.T, name string, v map[string]any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	s.mu.Lock()
	s.responses[name] = string(b)
	s.mu.Unlock()
}

func (s *scriptedProvider) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

type fakeExtractor struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, path string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[filepath.Base(path)] {
		return "", extract.ErrTooShort
	}
	return "Title page text of " + filepath.Base(path), nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type harness struct {
	dir       string
	provider  *scriptedProvider
	extractor *fakeExtractor
	sleeper   *sleepRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		dir:       t.TempDir(),
		provider:  newScriptedProvider(),
		extractor: &fakeExtractor{fail: make(map[string]bool)},
		sleeper:   &sleepRecorder{},
	}
}

func (h *harness) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) run(t *testing.T, opts Options, extra ...Option) *Result {
	t.Helper()
	opts.Dir = h.dir
	if opts.Cooldown == 0 {
		opts.Cooldown = time.Minute
	}
	analyzer, err := cognition.New(h.provider, cognition.Options{
		Models:        []string{"m1"},
		Keys:          []string{"k1", "k2"},
		MinConfidence: 0.7,
	}, cognition.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	options := append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithSleeper(h.sleeper.sleep),
	}, extra...)
	p := New(opts, analyzer, h.extractor, options...)
	res, err := p.Activate(context.Background())
	require.NoError(t, err)
	return res
}

func (h *harness) journal(t *testing.T) []journal.Entry {
	t.Helper()
	entries, err := journal.Open(h.dir, nil).Entries()
	require.NoError(t, err)
	return entries
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		names = append(names, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(names)
	return names
}

func haidt() map[string]any {
	return map[string]any{
		"title":        "The Righteous Mind",
		"authors":      []string{"Jonathan Haidt"},
		"year":         "2012",
		"confidence":   0.9,
		"documentType": "book",
	}
}

func TestLiveRenameEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.file(t, "doc1.pdf", "haidt")
	h.provider.set(t, "doc1.pdf", haidt())

	res := h.run(t, Options{Live: true})

	assert.NoFileExists(t, filepath.Join(h.dir, "doc1.pdf"))
	assert.FileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012.pdf"))

	var successes []journal.Entry
	for _, e := range h.journal(t) {
		if e.Status == journal.StatusSuccess {
			successes = append(successes, e)
		}
	}
	require.Len(t, successes, 1)
	assert.Equal(t, "doc1.pdf", successes[0].File)
	assert.Equal(t, "TheRighteousMind_JonathanHaidt_2012.pdf", successes[0].NewName)
	require.NotNil(t, successes[0].Confidence)
	assert.InDelta(t, 0.9, *successes[0].Confidence, 1e-9)

	// The rename forces a second cycle, which finds the file done.
	require.Len(t, res.Cycles, 2)
	assert.Equal(t, 1, res.Cycles[0].Renames)
	assert.False(t, res.Cycles[1].ShouldContinue)
	assert.Equal(t, 1, res.Cycles[1].Counts[journal.StatusProcessed])
	assert.Equal(t, 1, h.provider.total())
	assert.Empty(t, h.sleeper.delays)

	assert.Equal(t, []attest.Rename{{From: "doc1.pdf", To: "TheRighteousMind_JonathanHaidt_2012.pdf"}}, res.Report.Renames)
	assert.Empty(t, res.Report.Unprocessed)
	assert.FileExists(t, filepath.Join(h.dir, attest.MarkdownFile))
	assert.FileExists(t, filepath.Join(h.dir, attest.HTMLFile))
	assert.NoFileExists(t, filepath.Join(h.dir, "doc1.pdf.bak"))
}

func TestDryRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.file(t, "doc1.pdf", "haidt")
	h.provider.set(t, "doc1.pdf", haidt())
	before := listDir(t, h.dir)

	res := h.run(t, Options{Live: false})

	assert.Equal(t, before, listDir(t, h.dir))
	require.Len(t, res.Cycles, 1)
	assert.Equal(t, []attest.Rename{{From: "doc1.pdf", To: "TheRighteousMind_JonathanHaidt_2012.pdf"}}, res.Report.Renames)
	assert.Equal(t, []string{"doc1.pdf"}, res.Report.Unprocessed)
	assert.False(t, res.Report.Live)
}

func TestArticleWithThreeAuthors(t *testing.T) {
	h := newHarness(t)
	h.file(t, "paper.pdf", "graham")
	h.provider.set(t, "paper.pdf", map[string]any{
		"title":        "Moral Foundations",
		"authors":      []string{"Jesse Graham", "Jonathan Haidt", "Brian Nosek"},
		"year":         "2013",
		"documentType": "article",
		"journal":      "Nature",
		"volume":       "12",
		"confidence":   0.95,
	})

	h.run(t, Options{Live: true})
	assert.FileExists(t, filepath.Join(h.dir, "MoralFoundations_JesseGraham-EtAl_2013_J-Nature_V12.pdf"))
}

func TestLowConfidenceLeavesFileUntouched(t *testing.T) {
	h := newHarness(t)
	h.file(t, "doc1.pdf", "haidt")
	low := haidt()
	low["confidence"] = 0.5
	h.provider.set(t, "doc1.pdf", low)

	res := h.run(t, Options{Live: true, MaxCycles: 2})

	assert.FileExists(t, filepath.Join(h.dir, "doc1.pdf"))
	assert.NoFileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012.pdf"))
	for _, e := range h.journal(t) {
		assert.Equal(t, journal.StatusSkippedLowConf, e.Status)
		assert.Empty(t, e.NewName)
	}

	// Failures trigger the cooldown and another cycle, up to the cap.
	assert.Len(t, res.Cycles, 2)
	assert.Equal(t, []time.Duration{time.Minute}, h.sleeper.delays)
	assert.Equal(t, 2, h.provider.total())
	assert.Equal(t, []string{"doc1.pdf"}, res.Report.Unprocessed)
}

func TestRecoveryRenamesWithoutAnalysis(t *testing.T) {
	h := newHarness(t)
	h.file(t, "scan.pdf", "x")
	require.NoError(t, journal.Open(h.dir, nil).Append(journal.Entry{
		File:    "scan.pdf",
		Status:  journal.StatusFailureRename,
		NewName: "Ethics_AnnAuthor_1999.pdf",
	}))

	h.run(t, Options{Live: true})

	assert.FileExists(t, filepath.Join(h.dir, "Ethics_AnnAuthor_1999.pdf"))
	assert.Zero(t, h.provider.total())
	assert.Zero(t, h.extractor.calls)
}

// flakyFS fails the first rename and behaves normally afterwards.
type flakyFS struct {
	lifecycle.OSFS
	mu     sync.Mutex
	failed bool
}

func (f *flakyFS) Rename(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed {
		f.failed = true
		return errors.New("device busy")
	}
	return f.OSFS.Rename(src, dst)
}

func TestFailedRenameRecoversNextCycle(t *testing.T) {
	h := newHarness(t)
	h.file(t, "doc1.pdf", "haidt")
	h.provider.set(t, "doc1.pdf", haidt())

	res := h.run(t, Options{Live: true}, WithFS(&flakyFS{}))

	assert.FileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012.pdf"))
	assert.NoFileExists(t, filepath.Join(h.dir, "doc1.pdf.bak"))
	assert.Equal(t, 1, h.provider.total())
	assert.Equal(t, 1, h.extractor.calls)

	var statuses []journal.Status
	for _, e := range h.journal(t) {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []journal.Status{
		journal.StatusFailureRename,
		journal.StatusSuccess,
		journal.StatusProcessed,
	}, statuses)
	assert.Len(t, res.Cycles, 3)
	assert.Equal(t, []time.Duration{time.Minute}, h.sleeper.delays)
}

func TestCanonicalFilesAreNoOps(t *testing.T) {
	h := newHarness(t)
	h.file(t, "TheRighteousMind_JonathanHaidt_2012.pdf", "haidt")
	before := listDir(t, h.dir)

	res := h.run(t, Options{Live: true})

	require.Len(t, res.Cycles, 1)
	assert.Zero(t, h.provider.total())
	assert.Zero(t, h.extractor.calls)

	entries := h.journal(t)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusProcessed, entries[0].Status)

	after := listDir(t, h.dir)
	assert.Subset(t, after, before)
}

func TestSecondActivationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.file(t, "doc1.pdf", "haidt")
	h.provider.set(t, "doc1.pdf", haidt())

	h.run(t, Options{Live: true})
	calls := h.provider.total()
	res := h.run(t, Options{Live: true})

	assert.Equal(t, calls, h.provider.total())
	require.Len(t, res.Cycles, 1)
	assert.Zero(t, res.Cycles[0].Renames)
	assert.Empty(t, res.Report.Unprocessed)
}

func TestParseFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.file(t, "empty.pdf", "")
	h.extractor.fail["empty.pdf"] = true

	h.run(t, Options{Live: true, MaxCycles: 1})

	entries := h.journal(t)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusFailureParse, entries[0].Status)
	assert.Zero(t, h.provider.total())
}

func TestPanicIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.file(t, "boom.pdf", "a")
	h.file(t, "doc1.pdf", "b")
	h.provider.panics["boom.pdf"] = true
	h.provider.set(t, "doc1.pdf", haidt())

	h.run(t, Options{Live: true, MaxCycles: 1})

	statuses := make(map[string]journal.Status)
	for _, e := range h.journal(t) {
		statuses[e.File] = e.Status
	}
	assert.Equal(t, journal.StatusFailureAI, statuses["boom.pdf"])
	assert.Equal(t, journal.StatusSuccess, statuses["doc1.pdf"])
}

func TestAIFailureRecorded(t *testing.T) {
	h := newHarness(t)
	h.file(t, "unknown.pdf", "?")

	h.run(t, Options{Live: true, MaxCycles: 1})

	entries := h.journal(t)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StatusFailureAI, entries[0].Status)
	assert.Contains(t, entries[0].Details, "all models exhausted")
}

func TestSameContentUsesCacheAndAvoidsCollision(t *testing.T) {
	h := newHarness(t)
	h.file(t, "a.pdf", "identical bytes")
	h.file(t, "b.pdf", "identical bytes")
	h.provider.set(t, "a.pdf", haidt())
	h.provider.set(t, "b.pdf", haidt())

	h.run(t, Options{Live: true, Concurrency: 1})

	assert.FileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012.pdf"))
	assert.FileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012_2.pdf"))
	assert.Equal(t, 1, h.provider.total())
}

func TestCachedAnalysisTakesArchetypeOfCurrentFolder(t *testing.T) {
	h := newHarness(t)
	h.file(t, "TheRighteousMind_JonathanHaidt_2012/scan-a.pdf", "identical bytes")
	h.file(t, "MoralFoundations_JesseGraham_2013/scan-b.pdf", "identical bytes")
	excerpt := map[string]any{
		"title":        "Chapter One",
		"authors":      []string{},
		"confidence":   0.9,
		"documentType": "book",
	}
	h.provider.set(t, "scan-a.pdf", excerpt)
	h.provider.set(t, "scan-b.pdf", excerpt)

	h.run(t, Options{Live: true, Concurrency: 1})

	assert.FileExists(t, filepath.Join(h.dir, "TheRighteousMind_JonathanHaidt_2012", "ChapterOne_JonathanHaidt_2012.pdf"))
	assert.FileExists(t, filepath.Join(h.dir, "MoralFoundations_JesseGraham_2013", "ChapterOne_JesseGraham_2013.pdf"))
	assert.Equal(t, 1, h.provider.total())
}

func TestBasenameKeysWarnOnNestedLibrary(t *testing.T) {
	h := newHarness(t)
	h.file(t, "TheRighteousMind_JonathanHaidt_2012.pdf", "x")
	h.file(t, "sub/TheRighteousMind_JonathanHaidt_2012.pdf", "y")

	core, logs := observer.New(zap.WarnLevel)
	h.run(t, Options{Live: false, KeyMode: scan.KeyBasename}, WithLogger(zap.New(core)))

	warned := logs.FilterMessageSnippet("flat libraries").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(1), warned[0].ContextMap()["nested"])
}

func TestRelativeKeysDoNotWarn(t *testing.T) {
	h := newHarness(t)
	h.file(t, "sub/TheRighteousMind_JonathanHaidt_2012.pdf", "y")

	core, logs := observer.New(zap.WarnLevel)
	h.run(t, Options{Live: false}, WithLogger(zap.New(core)))

	assert.Zero(t, logs.FilterMessageSnippet("flat libraries").Len())
}

func TestLearningAppendsHint(t *testing.T) {
	h := newHarness(t)
	j := journal.Open(h.dir, nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, j.Append(journal.Entry{File: "old.pdf", Status: journal.StatusFailureAI}))
	}
	h.file(t, "TheRighteousMind_JonathanHaidt_2012.pdf", "x")

	res := h.run(t, Options{Live: true})

	s, err := strategy.Load(h.dir, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{strategy.FailureHint}, s.AIPromptHints)
	assert.Equal(t, s.AIPromptHints, res.Report.Hints)
}

func TestLockedDirectory(t *testing.T) {
	h := newHarness(t)
	lock := flock.New(filepath.Join(h.dir, LockFile))
	ok, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer lock.Unlock()

	analyzer, err := cognition.New(h.provider, cognition.Options{Models: []string{"m"}, Keys: []string{"k"}})
	require.NoError(t, err)
	_, err = New(Options{Dir: h.dir, Live: true}, analyzer, h.extractor).Activate(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestMissingDirectory(t *testing.T) {
	analyzer, err := cognition.New(newScriptedProvider(), cognition.Options{Models: []string{"m"}, Keys: []string{"k"}})
	require.NoError(t, err)
	_, err = New(Options{Dir: filepath.Join(t.TempDir(), "missing")}, analyzer, &fakeExtractor{}).Activate(context.Background())
	assert.Error(t, err)
}
