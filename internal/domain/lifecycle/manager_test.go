package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

type fakeSurface struct {
	mu       sync.Mutex
	id       string
	loads    []string
	reloads  int
	detached int
	released int
}

func (f *fakeSurface) ID() string { return f.id }

func (f *fakeSurface) Load(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
}

func (f *fakeSurface) Reload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
}

func (f *fakeSurface) Send([]byte) error { return nil }

func (f *fakeSurface) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
}

func (f *fakeSurface) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeSurface) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeSurface) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSurface
}

func (f *fakeFactory) Create(context.Context) (surface.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSurface{id: fmt.Sprintf("surf-%d", len(f.created))}
	f.created = append(f.created, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type stubResolver struct {
	mu    sync.Mutex
	calls int
	fail  error
	gate  chan struct{}
}

func (r *stubResolver) begin() error {
	r.mu.Lock()
	r.calls++
	gate := r.gate
	err := r.fail
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

// setGate makes every resolution block until the channel closes.
func (r *stubResolver) setGate(gate chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
}

func (r *stubResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *stubResolver) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *stubResolver) ResolveApp(_ context.Context, appID string) (*types.AppMetadata, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	return &types.AppMetadata{AppID: appID, Title: "App " + appID}, nil
}

func (r *stubResolver) ResolveBotApp(_ context.Context, botID, appName string) (*types.AppMetadata, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	return &types.AppMetadata{BotID: botID, ShortName: appName, Title: appName}, nil
}

func (r *stubResolver) ResolveLaunchURL(_ context.Context, meta *types.AppMetadata, _ *types.LaunchRequest) (string, error) {
	return "https://apps.example/" + meta.AppID + meta.ShortName, nil
}

func (r *stubResolver) ResolvePageLaunchURL(_ context.Context, rawURL, _ string) (string, error) {
	if err := r.begin(); err != nil {
		return "", err
	}
	return rawURL, nil
}

type recordedEvent struct {
	kind      string
	sessionID string
	state     State
	silent    bool
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) record(ev recordedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) StateChanged(sessionID string, state State) {
	r.record(recordedEvent{kind: "state", sessionID: sessionID, state: state})
}

func (r *recordingEvents) DismissStarted(sessionID string, _, silent bool) {
	r.record(recordedEvent{kind: "dismiss", sessionID: sessionID, silent: silent})
}

func (r *recordingEvents) LoadFailed(sessionID string, _ *types.ResolutionError) {
	r.record(recordedEvent{kind: "load_failed", sessionID: sessionID})
}

func (r *recordingEvents) CloseConfirmationNeeded(sessionID string) {
	r.record(recordedEvent{kind: "confirm", sessionID: sessionID})
}

func (r *recordingEvents) has(kind, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.kind == kind && ev.sessionID == sessionID {
			return true
		}
	}
	return false
}

type managerFixture struct {
	mgr      *Manager
	factory  *fakeFactory
	resolver *stubResolver
	events   *recordingEvents
}

func newFixture(t *testing.T, maxCached int) *managerFixture {
	t.Helper()
	f := &managerFixture{
		factory:  &fakeFactory{},
		resolver: &stubResolver{},
		events:   &recordingEvents{},
	}
	f.mgr = NewManager(Options{
		Resolver:  f.resolver,
		Surfaces:  f.factory,
		Events:    f.events,
		Locale:    "en",
		Theme:     "light",
		MaxCached: maxCached,
	})
	t.Cleanup(f.mgr.Close)
	return f
}

func appRequest(t *testing.T, appID string, opts ...func(*types.LaunchRequestBuilder)) *types.LaunchRequest {
	t.Helper()
	b := types.NewLaunchRequest().App(appID)
	for _, opt := range opts {
		opt(b)
	}
	req, err := b.Build()
	require.NoError(t, err)
	return req
}

func TestAttachReusesLiveSession(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, StateLoading, first.State())

	second, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID(), second.SessionID())
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())
}

func TestAttachFingerprintMismatchReplacesSession(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	first.Ready()

	withStart := func(b *types.LaunchRequestBuilder) { b.StartParam("promo") }
	second, err := f.mgr.Attach(ctx, appRequest(t, "notes", withStart), "chat-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID(), second.SessionID())
	select {
	case <-first.Dismissed():
	default:
		t.Fatal("replaced session never settled")
	}
	assert.True(t, f.events.has("dismiss", first.SessionID()))

	if _, live := f.mgr.Get(first.SessionID()); live {
		t.Fatal("replaced session still registered")
	}
}

func TestDismissCachesAndReattachSkipsResolution(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	first.Ready()
	require.True(t, first.RequestDismiss(false, false, false))
	assert.Equal(t, StateCached, first.State())
	require.Equal(t, 1, f.resolver.callCount())

	second, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)

	// Same surface comes back without another resolution or load.
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())
	assert.Equal(t, 1, f.factory.created[0].loadCount())
	assert.Equal(t, StateReady, second.State())
	assert.NotNil(t, second.Metadata())
}

type attachResult struct {
	s   *Session
	err error
}

func TestAttachAwaitsInFlightPreload(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	gate := make(chan struct{})
	f.resolver.setGate(gate)

	preloadErr := make(chan error, 1)
	go func() { preloadErr <- f.mgr.Preload(ctx, appRequest(t, "notes"), "chat-1") }()
	require.Eventually(t, func() bool { return f.resolver.callCount() == 1 },
		time.Second, time.Millisecond)

	attachReq := appRequest(t, "notes")
	attached := make(chan attachResult, 1)
	go func() {
		s, err := f.mgr.Attach(ctx, attachReq, "chat-1")
		attached <- attachResult{s: s, err: err}
	}()

	// The attach must suspend on the in-flight preload, never adopt its
	// placeholder session.
	select {
	case res := <-attached:
		t.Fatalf("attach finished before the preload settled (state %v)", res.s.State())
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-preloadErr)

	res := <-attached
	require.NoError(t, res.err)
	assert.Equal(t, StateReady, res.s.State())
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())
}

func TestAttachSupersedesInFlightAttach(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	gate := make(chan struct{})
	f.resolver.setGate(gate)

	firstReq := appRequest(t, "notes")
	first := make(chan attachResult, 1)
	go func() {
		s, err := f.mgr.Attach(ctx, firstReq, "chat-1")
		first <- attachResult{s: s, err: err}
	}()
	require.Eventually(t, func() bool { return f.resolver.callCount() == 1 },
		time.Second, time.Millisecond)

	secondReq := appRequest(t, "notes", func(b *types.LaunchRequestBuilder) {
		b.StartParam("fresh")
	})
	second := make(chan attachResult, 1)
	go func() {
		s, err := f.mgr.Attach(ctx, secondReq, "chat-1")
		second <- attachResult{s: s, err: err}
	}()

	// The second attach forces the first session out; its own resolution
	// starts only once that dismissal has settled.
	require.Eventually(t, func() bool { return f.resolver.callCount() == 2 },
		time.Second, time.Millisecond)

	close(gate)

	res1 := <-first
	require.ErrorIs(t, res1.err, ErrSuperseded)
	assert.Nil(t, res1.s)

	res2 := <-second
	require.NoError(t, res2.err)
	assert.Equal(t, StateLoading, res2.s.State())
	assert.Equal(t, 1, f.factory.count())

	handles := f.mgr.Sessions()
	require.Len(t, handles, 1)
	assert.Equal(t, res2.s.SessionID(), handles[0].ID)
}

func TestConcurrentAttachesKeepOneSessionPerIdentity(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	const attempts = 16
	reqs := make([]*types.LaunchRequest, attempts)
	for i := range reqs {
		reqs[i] = appRequest(t, "notes", func(b *types.LaunchRequestBuilder) {
			b.StartParam(fmt.Sprintf("run-%d", i%3))
		})
	}

	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req *types.LaunchRequest) {
			defer wg.Done()
			s, err := f.mgr.Attach(ctx, req, "chat-1")
			if err != nil {
				assert.ErrorIs(t, err, ErrSuperseded)
				return
			}
			assert.NotNil(t, s)
		}(req)
	}
	wg.Wait()

	live := 0
	for _, h := range f.mgr.Sessions() {
		if h.Identity.Key() == "app:notes" {
			live++
		}
	}
	assert.LessOrEqual(t, live, 1)
	assert.LessOrEqual(t, f.factory.count(), f.resolver.callCount())
}

func TestExpiredCacheEntryResolvesFresh(t *testing.T) {
	f := &managerFixture{
		factory:  &fakeFactory{},
		resolver: &stubResolver{},
		events:   &recordingEvents{},
	}
	f.mgr = NewManager(Options{
		Resolver:  f.resolver,
		Surfaces:  f.factory,
		Events:    f.events,
		Locale:    "en",
		Theme:     "light",
		MaxCached: 5,
		CacheTTL:  time.Nanosecond,
	})
	t.Cleanup(f.mgr.Close)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	first.Ready()
	require.True(t, first.RequestDismiss(false, false, false))
	require.Equal(t, StateCached, first.State())

	time.Sleep(time.Millisecond)

	second, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID(), second.SessionID())
	assert.Equal(t, 2, f.resolver.callCount())
	assert.Equal(t, 2, f.factory.count())
	assert.Equal(t, 1, f.factory.created[0].releaseCount())
}

func TestCachedSurfaceNeverCrossesOwners(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	first.Ready()
	require.True(t, first.RequestDismiss(false, false, false))

	_, err = f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-2")
	require.NoError(t, err)

	// Fresh surface for the new owner, stale entry torn down.
	assert.Equal(t, 2, f.factory.count())
	assert.Equal(t, 1, f.factory.created[0].releaseCount())
}

func TestCacheEvictionReleasesOldestSurface(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := f.mgr.Attach(ctx, appRequest(t, fmt.Sprintf("app-%d", i)), "chat-1")
		require.NoError(t, err)
		s.Ready()
		require.True(t, s.RequestDismiss(false, false, false))
	}

	// Oldest cached surface was evicted: detached and released.
	oldest := f.factory.created[0]
	assert.Positive(t, oldest.releaseCount())
	assert.Equal(t, 0, f.factory.created[1].releaseCount())
	assert.Equal(t, 0, f.factory.created[2].releaseCount())
}

func TestMinimizeMaximizeRoundTripPreservesIntent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes", func(b *types.LaunchRequestBuilder) {
		b.AutoExpand(true)
	}), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.Equal(t, StateExpanded, s.State())

	s.UpdateIntent(func(i *types.UIIntent) {
		i.HeaderColor = "#112233"
		i.MainButton = types.MainButton{Visible: true, Text: "Pay"}
	})

	require.NoError(t, s.Minimize())
	assert.Equal(t, StateMinimized, s.State())
	assert.Empty(t, s.SurfaceID())

	require.NoError(t, s.Maximize())
	assert.Equal(t, StateExpanded, s.State())
	assert.NotEmpty(t, s.SurfaceID())

	intent := s.Intent()
	assert.Equal(t, "#112233", intent.HeaderColor)
	assert.Equal(t, "Pay", intent.MainButton.Text)
}

func TestMinimizedSessionReattachesViaSlot(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.NoError(t, s.Minimize())

	again, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)

	assert.Equal(t, s.SessionID(), again.SessionID())
	assert.Equal(t, StateReady, again.State())
	assert.Equal(t, 1, f.factory.count())
}

func TestMinimizedReportsSlotOccupant(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, ok := f.mgr.Minimized()
	assert.False(t, ok)

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.NoError(t, s.Minimize())

	handle, ok := f.mgr.Minimized()
	require.True(t, ok)
	assert.Equal(t, s.SessionID(), handle.ID)
	assert.Equal(t, StateMinimized, handle.State)

	require.NoError(t, s.Maximize())
	_, ok = f.mgr.Minimized()
	assert.False(t, ok)
}

func TestSecondMinimizeEvictsFirst(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.mgr.Attach(ctx, appRequest(t, "notes", func(b *types.LaunchRequestBuilder) {
		b.CacheAllowed(false)
	}), "chat-1")
	require.NoError(t, err)
	first.Ready()
	require.NoError(t, first.Minimize())

	second, err := f.mgr.Attach(ctx, appRequest(t, "calendar"), "chat-1")
	require.NoError(t, err)
	second.Ready()
	require.NoError(t, second.Minimize())

	assert.Equal(t, StateDestroyed, first.State())
	assert.Positive(t, f.factory.created[0].releaseCount())
	assert.Equal(t, StateMinimized, second.State())
}

func TestRevokedAppDismissedSilently(t *testing.T) {
	f := newFixture(t, 5)
	f.resolver.setFail(&types.ResolutionError{Code: types.CodeAppRevoked, Message: "revoked"})

	s, err := f.mgr.Attach(context.Background(), appRequest(t, "gone"), "chat-1")
	assert.Nil(t, s)
	var rerr *types.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Revoked())
	assert.Empty(t, f.mgr.Sessions())
}

func TestRetryableFailureKeepsSessionForReload(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.resolver.setFail(&types.ResolutionError{Code: 500, Message: "backend down"})

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.Error(t, err)
	require.NotNil(t, s)
	assert.True(t, f.events.has("load_failed", s.SessionID()))

	f.resolver.setFail(nil)
	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, StateLoading, s.State())
	s.Ready()
	assert.Equal(t, StateReady, s.State())
}

func TestCloseConfirmationGatesDismissal(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	s.UpdateIntent(func(i *types.UIIntent) { i.CloseConfirmation = true })

	assert.False(t, s.RequestDismiss(false, false, false))
	assert.True(t, f.events.has("confirm", s.SessionID()))
	assert.Equal(t, StateReady, s.State())

	s.ConfirmDismiss()
	assert.Equal(t, StateCached, s.State())
}

func TestForcedDismissSkipsConfirmation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	s.UpdateIntent(func(i *types.UIIntent) { i.CloseConfirmation = true })

	assert.True(t, s.RequestDismiss(true, true, false))
	assert.True(t, settled(s.State()))
}

func TestPreloadThenAttachUsesCachedSurface(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	require.NoError(t, f.mgr.Preload(ctx, appRequest(t, "notes"), "chat-1"))
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())
}

func TestPreloadIsIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	require.NoError(t, f.mgr.Preload(ctx, appRequest(t, "notes"), "chat-1"))
	require.NoError(t, f.mgr.Preload(ctx, appRequest(t, "notes"), "chat-1"))
	assert.Equal(t, 1, f.resolver.callCount())
	assert.Equal(t, 1, f.factory.count())
}

func TestClearCacheForceDismissesEverything(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.True(t, s.RequestDismiss(false, false, false))

	m, err := f.mgr.Attach(ctx, appRequest(t, "calendar"), "chat-1")
	require.NoError(t, err)
	m.Ready()
	require.NoError(t, m.Minimize())

	f.mgr.ClearCache()

	assert.Positive(t, f.factory.created[0].releaseCount())
	assert.Positive(t, f.factory.created[1].releaseCount())
	assert.Equal(t, StateDestroyed, m.State())
}

func TestThemeChangeInvalidatesCachedFingerprint(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.True(t, s.RequestDismiss(false, false, false))

	f.mgr.SetTheme("dark")

	_, err = f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.factory.count())
}

func TestPageLaunchByBareURL(t *testing.T) {
	f := newFixture(t, 5)
	req, err := types.NewLaunchRequest().URL("https://example.com/page").Build()
	require.NoError(t, err)

	s, aerr := f.mgr.Attach(context.Background(), req, "chat-1")
	require.NoError(t, aerr)
	assert.Equal(t, types.IdentityURL, s.Identity().Kind())
	assert.Equal(t, "example.com", s.Metadata().Title)
}

func TestSendRequiresAttachedSurface(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	s, err := f.mgr.Attach(ctx, appRequest(t, "notes"), "chat-1")
	require.NoError(t, err)
	s.Ready()
	require.NoError(t, s.Send([]byte(`{"eventType":"ping"}`)))

	require.NoError(t, s.Minimize())
	assert.ErrorIs(t, s.Send([]byte(`{}`)), surface.ErrNotAttached)
}
