// Package testutil provides shared fakes for engine tests: a scripted
// metadata resolver, an in-memory surface factory, and a mockable
// capability provider.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/embedkit/embedkit/internal/capability"
	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/embedkit/embedkit/internal/surface"
)

// MockResolver is a testify mock of the lifecycle resolver interface.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveApp(ctx context.Context, appID string) (*types.AppMetadata, error) {
	args := m.Called(ctx, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AppMetadata), args.Error(1)
}

func (m *MockResolver) ResolveBotApp(ctx context.Context, botIDOrName, appName string) (*types.AppMetadata, error) {
	args := m.Called(ctx, botIDOrName, appName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AppMetadata), args.Error(1)
}

func (m *MockResolver) ResolveLaunchURL(ctx context.Context, meta *types.AppMetadata, req *types.LaunchRequest) (string, error) {
	args := m.Called(ctx, meta, req)
	return args.String(0), args.Error(1)
}

func (m *MockResolver) ResolvePageLaunchURL(ctx context.Context, rawURL, pageID string) (string, error) {
	args := m.Called(ctx, rawURL, pageID)
	return args.String(0), args.Error(1)
}

// NewMockResolver creates a resolver mock that answers every lookup
// with plausible defaults.
func NewMockResolver(t *testing.T) *MockResolver {
	t.Helper()
	m := new(MockResolver)
	m.On("ResolveApp", mock.Anything, mock.Anything).
		Return(&types.AppMetadata{AppID: "app", ShortName: "app", Title: "App"}, nil).
		Maybe()
	m.On("ResolveBotApp", mock.Anything, mock.Anything, mock.Anything).
		Return(&types.AppMetadata{BotID: "bot", ShortName: "app", Title: "App"}, nil).
		Maybe()
	m.On("ResolveLaunchURL", mock.Anything, mock.Anything, mock.Anything).
		Return("https://apps.example/app", nil).
		Maybe()
	m.On("ResolvePageLaunchURL", mock.Anything, mock.Anything, mock.Anything).
		Return("https://example.com/page", nil).
		Maybe()
	return m
}

// FakeSurface is an in-memory surface recording every operation.
type FakeSurface struct {
	mu       sync.Mutex
	id       string
	loads    []string
	sent     [][]byte
	reloads  int
	detached int
	released int
}

func (f *FakeSurface) ID() string { return f.id }

func (f *FakeSurface) Load(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
}

func (f *FakeSurface) Reload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
}

func (f *FakeSurface) Send(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, raw)
	return nil
}

func (f *FakeSurface) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
}

func (f *FakeSurface) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

// Loads returns the URLs loaded into the surface, in order.
func (f *FakeSurface) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// Sent returns every raw frame delivered through Send.
func (f *FakeSurface) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// Released reports whether the surface was torn down.
func (f *FakeSurface) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released > 0
}

// FakeSurfaceFactory creates FakeSurfaces and remembers them in order.
type FakeSurfaceFactory struct {
	mu       sync.Mutex
	surfaces []*FakeSurface
}

var _ surface.Factory = (*FakeSurfaceFactory)(nil)

func (f *FakeSurfaceFactory) Create(context.Context) (surface.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &FakeSurface{id: fmt.Sprintf("surf-%d", len(f.surfaces))}
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

// Created returns every surface the factory handed out.
func (f *FakeSurfaceFactory) Created() []*FakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSurface(nil), f.surfaces...)
}

// MockCapabilities layers mockable popup, clipboard, and custom-method
// calls over the denying provider; everything else stays denied.
type MockCapabilities struct {
	capability.Unsupported
	mock.Mock
}

func (m *MockCapabilities) ShowPopup(ctx context.Context, popup capability.Popup) (string, error) {
	args := m.Called(ctx, popup)
	return args.String(0), args.Error(1)
}

func (m *MockCapabilities) ReadClipboard(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockCapabilities) InvokeCustomMethod(ctx context.Context, method string, params []byte) ([]byte, error) {
	args := m.Called(ctx, method, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// NewMockCapabilities creates a capability mock whose popup resolves to
// the first button and whose clipboard is empty.
func NewMockCapabilities(t *testing.T) *MockCapabilities {
	t.Helper()
	m := new(MockCapabilities)
	m.On("ShowPopup", mock.Anything, mock.Anything).Return("ok", nil).Maybe()
	m.On("ReadClipboard", mock.Anything).Return("", nil).Maybe()
	m.On("InvokeCustomMethod", mock.Anything, mock.Anything, mock.Anything).
		Return([]byte("{}"), nil).
		Maybe()
	return m
}
