package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/sitepath"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

func TestMain(m *testing.M) {
	// ratecounter parks one timer goroutine per counter with no way to stop it
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/paulbellamy/ratecounter.(*RateCounter).run.func1"))
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// bookSite is a small site shaped like books.toscrape.com, with cross links, parent links,
// a versioned font reference and an external link that must be ignored.
func bookSite() map[string]string {
	return map[string]string{
		"index.html": `<link rel="stylesheet" href="static/css/styles.css">
<a href="catalogue/page-1.html">books</a> <img src="media/cover.jpg"> <a href='http://example.com/x.html'>out</a>`,
		"static/css/styles.css": `@font-face { src: url('../fonts/fa.woff%3Fv=3.2.1'); }
body { background: url("../img/bg.jpg"); }`,
		"catalogue/page-1.html": `<a href="page-2.html">next</a> <a href="../index.html">home</a>
<img src="../media/cover.jpg"> <a href="./book_1/index.html">book</a>`,
		"catalogue/page-2.html":          `<a href="page-1.html">prev</a> <link href="../static/css/styles.css">`,
		"catalogue/book_1/index.html":    `<a href="../../index.html">home</a> <img src="../../media/book1.jpg"> <a href="../page-2.html">`,
		"media/cover.jpg":                "JPEG-cover",
		"media/book1.jpg":                "JPEG-book1",
		"static/img/bg.jpg":              "JPEG-bg",
		"static/fonts/fa.woff%3Fv=3.2.1": "WOFF",
	}
}

// bookSiteMirror lists the Site Paths the book site should be saved under
var bookSiteMirror = []string{
	"catalogue/book_1/index.html",
	"catalogue/page-1.html",
	"catalogue/page-2.html",
	"index.html",
	"media/book1.jpg",
	"media/cover.jpg",
	"static/css/styles.css",
	"static/fonts/fa.woff",
	"static/img/bg.jpg",
}

// fakeSite serves pages from memory and records every fetch and save
type fakeSite struct {
	policy     sitepath.Policy
	pages      map[string]string
	fetchDelay time.Duration
	panicOn    string
	saveErrOn  string

	mu      sync.Mutex
	fetches map[string]int
	saved   map[string][]byte
}

func newFakeSite(pages map[string]string) *fakeSite {
	return &fakeSite{
		policy:  sitepath.DefaultPolicy(),
		pages:   pages,
		fetches: make(map[string]int),
		saved:   make(map[string][]byte),
	}
}

func (s *fakeSite) CanParseAsText(path string) bool { return s.policy.CanParseAsText(path) }

func (s *fakeSite) fetch(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	s.fetches[path]++
	s.mu.Unlock()

	if path == s.panicOn {
		panic("simulated capability bug")
	}
	if s.fetchDelay > 0 {
		select {
		case <-time.After(s.fetchDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	body, ok := s.pages[path]
	if !ok {
		return "", fmt.Errorf("%w: status 404 Not Found", utils.ErrClientHTTPError)
	}
	return body, nil
}

func (s *fakeSite) FetchText(ctx context.Context, path string) (string, error) {
	return s.fetch(ctx, path)
}

func (s *fakeSite) FetchBinary(ctx context.Context, path string) ([]byte, error) {
	body, err := s.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (s *fakeSite) save(path string, data []byte) error {
	if path == s.saveErrOn {
		return fmt.Errorf("%w: disk full", utils.ErrFilesystem)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[path] = data
	return nil
}

func (s *fakeSite) SaveText(path, text string) error { return s.save(path, []byte(text)) }

func (s *fakeSite) SaveBinary(path string, data []byte) error { return s.save(path, data) }

func (s *fakeSite) savedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.saved))
}

func (s *fakeSite) fetchCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.fetches)
}

// fakeRecorder counts ledger calls per path
type fakeRecorder struct {
	mu      sync.Mutex
	seen    map[string]int
	entries map[string][]models.PathEntry
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{seen: make(map[string]int), entries: make(map[string][]models.PathEntry)}
}

func (r *fakeRecorder) MarkPathSeen(path, runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[path]++
	return r.seen[path] == 1, nil
}

func (r *fakeRecorder) RecordStatus(path string, entry *models.PathEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[path] = append(r.entries[path], *entry)
	return nil
}

func newTestEngine(site *fakeSite, opts Options) *Engine {
	if opts.IdleRetryDelay == 0 {
		opts.IdleRetryDelay = 20 * time.Millisecond
	}
	return NewEngine(site, opts, testLogger())
}

func TestEngine_SeedReturnsQueueDepth(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})

	depth, err := engine.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, depth, "index.html links a stylesheet, a catalogue page and an image")
	assert.Equal(t, models.PathStatusDone, engine.Status("index.html"))
	assert.Equal(t, models.PathStatusPending, engine.Status("catalogue/page-1.html"))

	// A second Seed only reports depth
	again, err := engine.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, again)
	assert.Equal(t, 1, site.fetchCounts()["index.html"])
}

func TestEngine_MirrorsWholeSite(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})

	_, err := engine.Seed(context.Background())
	require.NoError(t, err)
	require.NoError(t, engine.RunWorkers(context.Background(), 4))

	assert.Equal(t, bookSiteMirror, site.savedPaths())
	for path, status := range engine.Snapshot() {
		assert.Equal(t, models.PathStatusDone, status, path)
	}

	p := engine.Progress()
	assert.Equal(t, 9, p.Seen)
	assert.Equal(t, 9, p.Done)
	assert.Equal(t, 0, p.Failed)
	assert.Equal(t, 0, p.Queued)
	assert.Equal(t, 0, p.InFlight())
	assert.Positive(t, p.BytesSaved)
}

func TestEngine_WorkerCountDoesNotChangeResult(t *testing.T) {
	var results [][]string
	for _, n := range []int{1, 32} {
		site := newFakeSite(bookSite())
		engine := newTestEngine(site, Options{})

		_, err := engine.Seed(context.Background())
		require.NoError(t, err)
		require.NoError(t, engine.RunWorkers(context.Background(), n))

		results = append(results, site.savedPaths())
	}
	assert.Equal(t, results[0], results[1])
}

// meshSite links every page to every other page, so each path is discovered many times concurrently.
func meshSite(n int) map[string]string {
	pages := make(map[string]string, n+1)
	var body string
	for i := 0; i < n; i++ {
		body += fmt.Sprintf(`<a href="section/p%d.html"> <img src="img/p%d.jpg">`, i, i)
	}
	pages["index.html"] = body
	for i := 0; i < n; i++ {
		var sub string
		for j := 0; j < n; j++ {
			sub += fmt.Sprintf(`<a href="p%d.html"> <a href="../section/p%d.html"> <img src="../img/p%d.jpg">`, j, j, j)
		}
		pages[fmt.Sprintf("section/p%d.html", i)] = sub
		pages[fmt.Sprintf("img/p%d.jpg", i)] = "JPEG"
	}
	return pages
}

func TestEngine_EachPathFetchedAndEnqueuedOnce(t *testing.T) {
	site := newFakeSite(meshSite(25))
	site.fetchDelay = time.Millisecond
	recorder := newFakeRecorder()
	engine := newTestEngine(site, Options{Recorder: recorder})

	require.NoError(t, engine.RunWorkers(context.Background(), 16))

	counts := site.fetchCounts()
	assert.Len(t, counts, 51)
	for path, n := range counts {
		assert.Equal(t, 1, n, "fetches of %s", path)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for path, n := range recorder.seen {
		assert.Equal(t, 1, n, "enqueues of %s", path)
	}
	for path, entries := range recorder.entries {
		require.Len(t, entries, 1, "completions of %s", path)
		assert.Equal(t, models.PathStatusDone, entries[0].Status)
		assert.Equal(t, engine.RunID(), entries[0].RunID)
	}
}

func TestEngine_FailedItemIsRecordedAndRunContinues(t *testing.T) {
	pages := bookSite()
	delete(pages, "catalogue/page-2.html")
	site := newFakeSite(pages)
	site.saveErrOn = "media/book1.jpg"
	recorder := newFakeRecorder()
	engine := newTestEngine(site, Options{Recorder: recorder})

	require.NoError(t, engine.RunWorkers(context.Background(), 4))

	assert.Equal(t, models.PathStatusFailed, engine.Status("catalogue/page-2.html"))
	assert.Equal(t, models.PathStatusFailed, engine.Status("media/book1.jpg"))
	assert.Equal(t, models.PathStatusDone, engine.Status("static/img/bg.jpg"))

	p := engine.Progress()
	assert.Equal(t, 2, p.Failed)
	assert.Equal(t, p.Seen-2, p.Done)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "Fetch_HTTP_404", recorder.entries["catalogue/page-2.html"][0].ErrorType)
	assert.Equal(t, "Save_Filesystem_Other", recorder.entries["media/book1.jpg"][0].ErrorType)
	assert.Equal(t, "media/cover.jpg", recorder.entries["media/cover.jpg"][0].LocalPath)
}

func TestEngine_VersionSuffixStripped(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})

	require.NoError(t, engine.RunWorkers(context.Background(), 2))

	// Fetched with the suffix, stored without it
	assert.Equal(t, 1, site.fetchCounts()["static/fonts/fa.woff%3Fv=3.2.1"])
	assert.Equal(t, models.PathStatusDone, engine.Status("static/fonts/fa.woff%3Fv=3.2.1"))

	site.mu.Lock()
	defer site.mu.Unlock()
	assert.Equal(t, []byte("WOFF"), site.saved["static/fonts/fa.woff"])
	_, kept := site.saved["static/fonts/fa.woff%3Fv=3.2.1"]
	assert.False(t, kept)

	css := string(site.saved["static/css/styles.css"])
	assert.Contains(t, css, "url('../fonts/fa.woff')")
	assert.NotContains(t, css, sitepath.DefaultVersionSuffix)
}

func TestEngine_OutOfRangeLinkFailsItem(t *testing.T) {
	site := newFakeSite(map[string]string{
		"index.html":  `<a href="docs/a.html">`,
		"docs/a.html": `<a href="b.html"> <a href="../../escape.html">`,
		"docs/b.html": `ok`,
		"escape.html": `never fetched`,
	})
	recorder := newFakeRecorder()
	engine := newTestEngine(site, Options{Recorder: recorder})

	require.NoError(t, engine.RunWorkers(context.Background(), 2))

	assert.Equal(t, models.PathStatusFailed, engine.Status("docs/a.html"))
	// Links offered before the bad one are still crawled
	assert.Equal(t, models.PathStatusDone, engine.Status("docs/b.html"))
	assert.NotContains(t, site.savedPaths(), "docs/a.html")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, "Path_OutOfRange", recorder.entries["docs/a.html"][0].ErrorType)
}

func TestEngine_PanicIsRecoveredAsFailure(t *testing.T) {
	site := newFakeSite(bookSite())
	site.panicOn = "catalogue/page-1.html"
	engine := newTestEngine(site, Options{})

	require.NoError(t, engine.RunWorkers(context.Background(), 3))

	assert.Equal(t, models.PathStatusFailed, engine.Status("catalogue/page-1.html"))
	assert.Equal(t, models.PathStatusDone, engine.Status("static/img/bg.jpg"))
}

func TestEngine_AutoSeedWithoutSeedCall(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})

	require.NoError(t, engine.RunWorkers(context.Background(), 8))

	assert.Equal(t, bookSiteMirror, site.savedPaths())
	assert.Equal(t, 1, site.fetchCounts()["index.html"])
}

func TestEngine_CustomSeedPath(t *testing.T) {
	site := newFakeSite(map[string]string{
		"start/home.html": `<a href="../other.html">`,
		"other.html":      `done`,
	})
	engine := newTestEngine(site, Options{SeedPath: "start/home.html"})

	require.NoError(t, engine.RunWorkers(context.Background(), 2))
	assert.Equal(t, []string{"other.html", "start/home.html"}, site.savedPaths())
}

func TestEngine_WorkersExitWithinIdleDelay(t *testing.T) {
	site := newFakeSite(map[string]string{"index.html": "no links"})
	const idle = 50 * time.Millisecond
	engine := newTestEngine(site, Options{IdleRetryDelay: idle})

	_, err := engine.Seed(context.Background())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, engine.RunWorkers(context.Background(), 8))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, idle)
	assert.Less(t, elapsed, idle+250*time.Millisecond)
}

func TestEngine_CancellationStopsWorkers(t *testing.T) {
	site := newFakeSite(meshSite(10))
	site.fetchDelay = 200 * time.Millisecond
	engine := newTestEngine(site, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := engine.RunWorkers(ctx, 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The in-flight seed was cut short and recorded, never left pending
	assert.Equal(t, models.PathStatusFailed, engine.Status("index.html"))
}

func TestEngine_ProcessOne(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})
	ctx := context.Background()

	require.NoError(t, engine.ProcessOne(ctx, "catalogue/page-2.html"))
	assert.Equal(t, models.PathStatusDone, engine.Status("catalogue/page-2.html"))
	assert.Equal(t, models.PathStatusPending, engine.Status("catalogue/page-1.html"))
	assert.Equal(t, models.PathStatusPending, engine.Status("static/css/styles.css"))

	err := engine.ProcessOne(ctx, "catalogue/page-2.html")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 1, site.fetchCounts()["catalogue/page-2.html"])

	err = engine.ProcessOne(ctx, "missing.css")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrFetch)
	assert.Equal(t, models.PathStatusFailed, engine.Status("missing.css"))
}

func TestEngine_ProcessOneTakesQueuedPathOffQueue(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})
	ctx := context.Background()

	require.NoError(t, engine.ProcessOne(ctx, "catalogue/page-2.html"))
	require.Equal(t, models.PathStatusPending, engine.Status("catalogue/page-1.html"))

	require.NoError(t, engine.ProcessOne(ctx, "catalogue/page-1.html"))
	require.NoError(t, engine.RunWorkers(ctx, 3))

	assert.Equal(t, models.PathStatusDone, engine.Status("catalogue/page-1.html"))
	assert.Equal(t, 1, site.fetchCounts()["catalogue/page-1.html"])
	assert.ElementsMatch(t, bookSiteMirror, site.savedPaths())
}

func TestEngine_ProcessOneRejectsInFlightPath(t *testing.T) {
	site := newFakeSite(bookSite())
	engine := newTestEngine(site, Options{})
	ctx := context.Background()

	require.NoError(t, engine.ProcessOne(ctx, "catalogue/page-2.html"))
	// Simulate a worker holding page-1
	path, ok := engine.frontier.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "catalogue/page-1.html", path)

	err := engine.ProcessOne(ctx, "catalogue/page-1.html")
	assert.ErrorIs(t, err, ErrInFlight)
	assert.Zero(t, site.fetchCounts()["catalogue/page-1.html"])
	assert.Equal(t, models.PathStatusPending, engine.Status("catalogue/page-1.html"))
}

func TestEngine_ParentLinkFromRootDoesNotFailSeed(t *testing.T) {
	site := newFakeSite(map[string]string{
		"index.html": `<link href="../legacy.css"> <a href="page.html">next</a>`,
		"page.html":  `hello`,
	})
	engine := newTestEngine(site, Options{})

	require.NoError(t, engine.RunWorkers(context.Background(), 2))

	assert.Equal(t, models.PathStatusDone, engine.Status("index.html"))
	assert.Equal(t, models.PathStatusDone, engine.Status("page.html"))
	assert.Equal(t, models.PathStatusFailed, engine.Status("../legacy.css"))
	assert.ElementsMatch(t, []string{"index.html", "page.html"}, site.savedPaths())
}

func TestEngine_DelayedWorkerStillProcesses(t *testing.T) {
	logger, hook := test.NewNullLogger()
	site := newFakeSite(bookSite())
	site.fetchDelay = 30 * time.Millisecond
	engine := NewEngine(site, Options{IdleRetryDelay: 100 * time.Millisecond}, logrus.NewEntry(logger))

	// Worker 2 finds the queue empty while worker 1 fetches the seed, then picks up its discoveries.
	require.NoError(t, engine.RunWorkers(context.Background(), 2))

	var delayed, exited int
	for _, entry := range hook.AllEntries() {
		switch entry.Message {
		case "Worker delayed but processed":
			delayed++
		case "Worker exited due to lack of work":
			exited++
		}
	}
	assert.Positive(t, delayed)
	assert.Equal(t, 2, exited)
}

func TestEnsureWrapped(t *testing.T) {
	already := fmt.Errorf("%w: boom", utils.ErrFetch)
	assert.Same(t, already, ensureWrapped(utils.ErrFetch, "a.html", already))

	plain := errors.New("boom")
	wrapped := ensureWrapped(utils.ErrSave, "a.html", plain)
	assert.ErrorIs(t, wrapped, utils.ErrSave)
	assert.ErrorIs(t, wrapped, plain)
}
