package feed

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/rickgao/cosmic-feed/internal/api"
	"github.com/rickgao/cosmic-feed/internal/ingest"
	"github.com/rickgao/cosmic-feed/internal/model"
	"github.com/rickgao/cosmic-feed/internal/store"
)

var base = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func item(id string, secs int) model.Item {
	return model.Item{
		ID:        id,
		ParentID:  "post-1",
		CreatedAt: base.Add(time.Duration(secs) * time.Second),
	}
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeFetcher serves canned pages. While block is open, fetches wait for it
// or for their context and then return their result anyway, like a late
// response.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[int]model.Page
	errs    map[int][]error
	calls   []int
	block   chan struct{}
	started chan int
}

func newFakeFetcher(pages ...model.Page) *fakeFetcher {
	f := &fakeFetcher{
		pages:   make(map[int]model.Page),
		errs:    make(map[int][]error),
		started: make(chan int, 100),
	}
	for _, p := range pages {
		f.pages[p.Cursor] = p
	}
	return f
}

func (f *fakeFetcher) setPage(p model.Page) {
	f.mu.Lock()
	f.pages[p.Cursor] = p
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount(cursor int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cursor {
			n++
		}
	}
	return n
}

func (f *fakeFetcher) FetchPage(ctx context.Context, res model.Resource, parentID string, cursor int) (*model.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	block := f.block
	var err error
	if q := f.errs[cursor]; len(q) > 0 {
		err = q[0]
		f.errs[cursor] = q[1:]
	}
	page, ok := f.pages[cursor]
	f.mu.Unlock()

	select {
	case f.started <- cursor:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	if err != nil {
		return nil, err
	}
	if !ok {
		page = model.Page{Resource: res.Name, ParentID: parentID, Cursor: cursor, Last: true}
	}
	return &page, nil
}

func page(cursor int, last bool, items ...model.Item) model.Page {
	return model.Page{
		Resource: "comments",
		ParentID: "post-1",
		Cursor:   cursor,
		Items:    items,
		Last:     last,
	}
}

// fakeIngestor is driven by the test.
type fakeIngestor struct {
	name       string
	items      chan model.Item
	states     chan bool
	connected  atomic.Bool
	upOnStart  bool
	connectErr error
	closeOnce  sync.Once
}

func newFakeIngestor(name string, upOnStart bool) *fakeIngestor {
	return &fakeIngestor{
		name:      name,
		items:     make(chan model.Item, 16),
		states:    make(chan bool, 1),
		upOnStart: upOnStart,
	}
}

func (i *fakeIngestor) Name() string { return i.name }

func (i *fakeIngestor) Connect(ctx context.Context) error {
	if i.connectErr != nil {
		return i.connectErr
	}
	if i.upOnStart {
		i.setConnected(true)
	}
	return nil
}

func (i *fakeIngestor) setConnected(v bool) {
	i.connected.Store(v)
	select {
	case <-i.states:
	default:
	}
	i.states <- v
}

func (i *fakeIngestor) push(it model.Item) { i.items <- it }

func (i *fakeIngestor) Items() <-chan model.Item { return i.items }
func (i *fakeIngestor) States() <-chan bool      { return i.states }
func (i *fakeIngestor) IsConnected() bool        { return i.connected.Load() }
func (i *fakeIngestor) Stats() ingest.Stats      { return ingest.Stats{Name: i.name} }

func (i *fakeIngestor) Close() error {
	i.closeOnce.Do(func() {
		i.connected.Store(false)
		close(i.items)
	})
	return nil
}

// spyStore counts Apply calls on top of a real store.
type spyStore struct {
	*store.Store
	applies     atomic.Int64
	pageApplies atomic.Int64
}

func newSpyStore() *spyStore {
	return &spyStore{Store: store.New("post-1")}
}

func (s *spyStore) Apply(ev store.Event) {
	s.applies.Add(1)
	if ev.Kind == store.KindPage {
		s.pageApplies.Add(1)
	}
	s.Store.Apply(ev)
}

// fakeWriter records writes.
type fakeWriter struct {
	created model.Item
	marked  []string
	err     error
}

func (w *fakeWriter) CreateItem(ctx context.Context, res model.Resource, parentID string, fields any) (model.Item, error) {
	return w.created, w.err
}

func (w *fakeWriter) MarkRead(ctx context.Context, id string) error {
	if w.err != nil {
		return w.err
	}
	w.marked = append(w.marked, id)
	return nil
}

func testConfig() Config {
	return Config{
		Resource:     model.Comments,
		ParentID:     "post-1",
		FetchTimeout: time.Second,
	}
}

func notificationConfig() Config {
	cfg := testConfig()
	cfg.Resource = model.Notifications
	return cfg
}

// gatedStore blocks its first Apply until release is closed.
type gatedStore struct {
	*spyStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		spyStore: newSpyStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (s *gatedStore) Apply(ev store.Event) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.spyStore.Apply(ev)
}

// lateFetcher ignores cancellation and answers when release is closed.
type lateFetcher struct {
	page    model.Page
	started chan struct{}
	release chan struct{}
}

func (f *lateFetcher) FetchPage(ctx context.Context, res model.Resource, parentID string, cursor int) (*model.Page, error) {
	close(f.started)
	<-f.release
	p := f.page
	return &p, nil
}

func startFeed(t *testing.T, cfg Config, fetcher Fetcher, st Store, ings []ingest.Ingestor, opts ...Option) *Feed {
	t.Helper()
	f, err := New(cfg, fetcher, st, ings, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return f
}

func stopFeed(t *testing.T, f *Feed) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func snapshotIs(f *Feed, want ...string) func() bool {
	return func() bool {
		return slices.Equal(ids(f.Snapshot()), want)
	}
}

func TestFeed_PageThenPushedItems(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c3", 30), item("c2", 20), item("c1", 10)))
	st := newSpyStore()
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, st, []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	eventually(t, "first page", snapshotIs(f, "c3", "c2", "c1"))

	ing.push(item("c4", 40))
	ing.push(item("c2", 20))

	eventually(t, "pushed items applied", func() bool { return st.applies.Load() == 3 })

	if diff := cmp.Diff([]string{"c4", "c3", "c2", "c1"}, ids(f.Snapshot())); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if got := st.Stats().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestFeed_PushBeforePage(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c3", 30), item("c2", 20), item("c1", 10)))
	fetcher.block = make(chan struct{})
	st := newSpyStore()
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, st, []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	<-fetcher.started
	ing.push(item("c2", 20))
	eventually(t, "pushed item", snapshotIs(f, "c2"))

	if !f.State().Loading {
		t.Error("expected Loading while the page is in flight")
	}

	close(fetcher.block)

	eventually(t, "page merged", snapshotIs(f, "c3", "c2", "c1"))
	if got := st.Stats().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestFeed_SameItemFromTwoIngestors(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c1", 10)))
	st := newSpyStore()
	socket := newFakeIngestor("socket", true)
	changes := newFakeIngestor("changefeed", true)

	f := startFeed(t, testConfig(), fetcher, st, []ingest.Ingestor{socket, changes})
	defer stopFeed(t, f)

	socket.push(item("c5", 50))
	changes.push(item("c5", 50))

	eventually(t, "all events applied", func() bool { return st.applies.Load() == 3 })

	if diff := cmp.Diff([]string{"c5", "c1"}, ids(f.Snapshot())); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	state := f.State()
	if !state.Connected["socket"] || !state.Connected["changefeed"] {
		t.Errorf("Connected = %v, want both true", state.Connected)
	}
}

func TestFeed_StopDuringFetchDiscardsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c1", 10)))
	fetcher.block = make(chan struct{}) // never released
	st := newSpyStore()
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, st, []ingest.Ingestor{ing})
	<-fetcher.started

	stopFeed(t, f)

	if got := st.pageApplies.Load(); got != 0 {
		t.Errorf("page applied %d times after stop, want 0", got)
	}
	if st.Len() != 0 {
		t.Errorf("store has %d items, want 0", st.Len())
	}
	if f.State().Loading {
		t.Error("Loading still set after stop")
	}
	if err := f.LoadMore(); !errors.Is(err, ErrStopped) {
		t.Errorf("LoadMore after Stop = %v, want ErrStopped", err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestFeed_LoadMoreUntilExhausted(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(
		page(1, false, item("c4", 40), item("c3", 30)),
		page(2, true, item("c2", 20)),
	)
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	eventually(t, "first page", func() bool {
		s := f.State()
		return !s.Loading && s.NextCursor == 2
	})

	if err := f.LoadMore(); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}
	eventually(t, "exhausted", func() bool { return f.State().Exhausted })
	eventually(t, "second page applied", snapshotIs(f, "c4", "c3", "c2"))

	if err := f.LoadMore(); !errors.Is(err, ErrExhausted) {
		t.Errorf("LoadMore = %v, want ErrExhausted", err)
	}
}

func TestFeed_LoadMoreRetriesFailedCursor(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(
		page(1, false, item("c2", 20)),
		page(2, true, item("c1", 10)),
	)
	fetcher.errs[2] = []error{&api.NetworkError{Op: "fetch comments/post-1 page 2", StatusCode: 503}}
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	eventually(t, "first page", func() bool { return f.State().NextCursor == 2 })

	if err := f.LoadMore(); err != nil {
		t.Fatalf("LoadMore failed: %v", err)
	}
	eventually(t, "fetch error", func() bool { return f.State().Err != nil })

	state := f.State()
	var netErr *api.NetworkError
	if !errors.As(state.Err, &netErr) {
		t.Errorf("Err = %v, want *api.NetworkError", state.Err)
	}
	if state.NextCursor != 2 {
		t.Errorf("NextCursor = %d, want 2", state.NextCursor)
	}

	if err := f.LoadMore(); err != nil {
		t.Fatalf("retry LoadMore failed: %v", err)
	}
	eventually(t, "retry succeeded", func() bool {
		s := f.State()
		return s.Exhausted && s.Err == nil
	})
	eventually(t, "both pages applied", snapshotIs(f, "c2", "c1"))

	if got := fetcher.callCount(2); got != 2 {
		t.Errorf("page 2 fetched %d times, want 2", got)
	}
}

func TestFeed_LoadMoreWhileLoading(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher()
	fetcher.block = make(chan struct{})
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, testConfig(), fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	<-fetcher.started
	if err := f.LoadMore(); !errors.Is(err, ErrLoading) {
		t.Errorf("LoadMore = %v, want ErrLoading", err)
	}
	close(fetcher.block)
}

func TestFeed_DegradedModePollsUntilReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c1", 10)))
	ing := newFakeIngestor("socket", false)

	cfg := testConfig()
	cfg.DegradeAfter = 20 * time.Millisecond
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond

	f := startFeed(t, cfg, fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	eventually(t, "degraded", func() bool { return f.State().Degraded })

	fetcher.setPage(page(1, true, item("c2", 20), item("c1", 10)))
	eventually(t, "polled item", snapshotIs(f, "c2", "c1"))
	if got := fetcher.callCount(1); got < 2 {
		t.Errorf("page 1 fetched %d times, want >= 2", got)
	}

	ing.setConnected(true)
	eventually(t, "recovered", func() bool { return !f.State().Degraded })

	// Polling has stopped.
	n := fetcher.callCount(1)
	time.Sleep(50 * time.Millisecond)
	if got := fetcher.callCount(1); got != n {
		t.Errorf("page 1 fetched %d more times after reconnect", got-n)
	}
}

func TestFeed_NoDegradeWhenDisabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true))
	ing := newFakeIngestor("socket", false)

	f := startFeed(t, testConfig(), fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	time.Sleep(30 * time.Millisecond)
	if f.State().Degraded {
		t.Error("degraded with DegradeAfter = 0")
	}
}

func TestFeed_PostAndMarkRead(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("n1", 10)))
	writer := &fakeWriter{created: item("n2", 20)}
	st := newSpyStore()
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, notificationConfig(), fetcher, st, []ingest.Ingestor{ing}, WithWriter(writer))
	defer stopFeed(t, f)

	eventually(t, "first page", snapshotIs(f, "n1"))

	posted, err := f.Post(context.Background(), map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if posted.ID != "n2" {
		t.Errorf("posted ID = %s, want n2", posted.ID)
	}

	// The push echo of our own post.
	ing.push(item("n2", 20))
	eventually(t, "post and echo applied", func() bool { return st.applies.Load() == 3 })

	if diff := cmp.Diff([]string{"n2", "n1"}, ids(f.Snapshot())); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if err := f.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	eventually(t, "n1 read locally", func() bool {
		got, _ := st.Get("n1")
		return got.Read
	})
	if diff := cmp.Diff([]string{"n1"}, writer.marked); diff != "" {
		t.Errorf("marked mismatch (-want +got):\n%s", diff)
	}
	if st.UnreadCount() != 1 {
		t.Errorf("UnreadCount = %d, want 1", st.UnreadCount())
	}
}

func TestFeed_MarkReadUpstreamFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("n1", 10)))
	writer := &fakeWriter{err: &api.AuthError{Op: "mark", StatusCode: 401}}
	st := newSpyStore()

	f := startFeed(t, notificationConfig(), fetcher, st, []ingest.Ingestor{newFakeIngestor("socket", true)}, WithWriter(writer))
	defer stopFeed(t, f)

	eventually(t, "first page", snapshotIs(f, "n1"))

	var authErr *api.AuthError
	if err := f.MarkRead(context.Background(), "n1"); !errors.As(err, &authErr) {
		t.Errorf("MarkRead = %v, want *api.AuthError", err)
	}
	if got, _ := st.Get("n1"); got.Read {
		t.Error("n1 marked read despite upstream failure")
	}
}

func TestFeed_MarkReadWhileInsertPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("n0", 10)))
	writer := &fakeWriter{}
	st := newGatedStore()
	ing := newFakeIngestor("socket", true)

	f := startFeed(t, notificationConfig(), fetcher, st, []ingest.Ingestor{ing}, WithWriter(writer))
	released := false
	defer func() {
		if !released {
			close(st.release)
		}
		stopFeed(t, f)
	}()

	// The page is being applied; n1 waits in the queue behind it.
	<-st.entered
	ing.push(item("n1", 20))
	eventually(t, "n1 queued", func() bool { return f.State().Pending == 1 })

	if err := f.MarkRead(context.Background(), "n1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	close(st.release)
	released = true

	eventually(t, "n1 applied and read", func() bool {
		got, ok := st.Get("n1")
		return ok && got.Read
	})
	if diff := cmp.Diff([]string{"n1"}, writer.marked); diff != "" {
		t.Errorf("marked mismatch (-want +got):\n%s", diff)
	}
	if st.UnreadCount() != 1 {
		t.Errorf("UnreadCount = %d, want 1", st.UnreadCount())
	}
}

func TestFeed_MarkReadOnlyNotifications(t *testing.T) {
	writer := &fakeWriter{}
	f, err := New(testConfig(), newFakeFetcher(), newSpyStore(), []ingest.Ingestor{newFakeIngestor("socket", true)}, WithWriter(writer))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := f.MarkRead(context.Background(), "c1"); !errors.Is(err, ErrNotReadable) {
		t.Errorf("MarkRead on comments = %v, want ErrNotReadable", err)
	}
	if len(writer.marked) != 0 {
		t.Errorf("upstream called for comments: %v", writer.marked)
	}
}

func TestFeed_MarkReadNotStarted(t *testing.T) {
	writer := &fakeWriter{}
	f, err := New(notificationConfig(), newFakeFetcher(), newSpyStore(), []ingest.Ingestor{newFakeIngestor("socket", true)}, WithWriter(writer))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := f.MarkRead(context.Background(), "n1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("MarkRead before Start = %v, want ErrNotStarted", err)
	}
	if len(writer.marked) != 0 {
		t.Errorf("upstream called before Start: %v", writer.marked)
	}
}

func TestFeed_FetchFinishingDuringStopIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := &lateFetcher{
		page:    page(1, true, item("c1", 10)),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	st := newSpyStore()

	f := startFeed(t, testConfig(), fetcher, st, []ingest.Ingestor{newFakeIngestor("socket", true)})
	<-fetcher.started

	// Teardown has begun but the context is still live.
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()

	close(fetcher.release)
	eventually(t, "fetch finished", func() bool { return !f.State().Loading })

	if n := f.queue.Len(); n != 0 {
		t.Errorf("queued %d events after stop began, want 0", n)
	}

	f.mu.Lock()
	f.stopped = false
	f.mu.Unlock()
	stopFeed(t, f)

	if got := st.pageApplies.Load(); got != 0 {
		t.Errorf("page applied %d times, want 0", got)
	}
}

func TestFeed_StateReportsQueueAndPolls(t *testing.T) {
	defer goleak.VerifyNone(t)

	fetcher := newFakeFetcher(page(1, true, item("c2", 20), item("c1", 10)))
	ing := newFakeIngestor("socket", false)
	cfg := testConfig()
	cfg.DegradeAfter = 5 * time.Millisecond
	cfg.CheckInterval = time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond

	f := startFeed(t, cfg, fetcher, newSpyStore(), []ingest.Ingestor{ing})
	defer stopFeed(t, f)

	eventually(t, "poll cycles", func() bool { return f.State().Polls.Cycles >= 2 })

	ing.setConnected(true)
	eventually(t, "leave fetch-only mode", func() bool { return !f.State().Degraded })

	st := f.State()
	if st.Polls.Cycles < 2 || st.Polls.Fetched < 2 {
		t.Errorf("Polls = %+v, want counters kept after the poller stopped", st.Polls)
	}
	if st.Queue.Pushed < 3 || st.Queue.Pushed != st.Queue.Popped+int64(st.Queue.Len) {
		t.Errorf("Queue = %+v, want pushed = popped + len", st.Queue)
	}
}

func TestFeed_NoWriter(t *testing.T) {
	f, err := New(notificationConfig(), newFakeFetcher(), newSpyStore(), []ingest.Ingestor{newFakeIngestor("socket", true)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := f.Post(context.Background(), nil); !errors.Is(err, ErrNoWriter) {
		t.Errorf("Post = %v, want ErrNoWriter", err)
	}
	if err := f.MarkRead(context.Background(), "x"); !errors.Is(err, ErrNoWriter) {
		t.Errorf("MarkRead = %v, want ErrNoWriter", err)
	}
	if err := f.LoadMore(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("LoadMore = %v, want ErrNotStarted", err)
	}
}

func TestFeed_ConnectErrorTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	good := newFakeIngestor("socket", true)
	bad := newFakeIngestor("changefeed", false)
	bad.connectErr = ingest.ErrClosed

	f, err := New(testConfig(), newFakeFetcher(), newSpyStore(), []ingest.Ingestor{good, bad})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := f.Start(context.Background()); !errors.Is(err, ingest.ErrClosed) {
		t.Fatalf("Start = %v, want ErrClosed", err)
	}
	if good.IsConnected() {
		t.Error("healthy ingestor left open after failed start")
	}
	if err := f.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after failure = %v, want ErrStopped", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(testConfig(), newFakeFetcher(), newSpyStore(), nil); !errors.Is(err, ErrNoIngestors) {
		t.Errorf("New without ingestors = %v, want ErrNoIngestors", err)
	}

	cfg := testConfig()
	cfg.ParentID = ""
	if _, err := New(cfg, newFakeFetcher(), newSpyStore(), []ingest.Ingestor{newFakeIngestor("socket", true)}); err == nil {
		t.Error("expected error for empty parent id")
	}

	f, err := New(Config{Resource: model.Comments, ParentID: "p"}, newFakeFetcher(), newSpyStore(), []ingest.Ingestor{newFakeIngestor("socket", true)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	d := DefaultConfig()
	if f.cfg.FetchTimeout != d.FetchTimeout || f.cfg.PollInterval != d.PollInterval || f.cfg.CheckInterval != d.CheckInterval {
		t.Errorf("defaults not applied: %+v", f.cfg)
	}
}
