package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedkit/embedkit/internal/infrastructure/config"
	"github.com/embedkit/embedkit/internal/infrastructure/resilience"
	"github.com/embedkit/embedkit/internal/shared/types"
)

func newTestResolver(t *testing.T, handler http.Handler) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ResolverConfig{BaseURL: srv.URL, Timeout: 2}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestResolveAppFetchesMetadata(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/apps/notes", req.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"app_id":     "notes",
			"title":      "Notes",
			"launch_url": "https://apps.example/notes",
		})
	}))

	meta, err := r.ResolveApp(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", meta.AppID)
	assert.Equal(t, "Notes", meta.Title)
	assert.False(t, meta.ResolvedAt.IsZero())
}

func TestResolveBotAppPath(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v1/bots/shopbot/apps/store", req.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"bot_id": "shopbot", "short_name": "store", "title": "Store"})
	}))

	meta, err := r.ResolveBotApp(context.Background(), "shopbot", "store")
	require.NoError(t, err)
	assert.Equal(t, "store", meta.ShortName)
}

func TestRevokedAppMapsToTypedError(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 460, map[string]any{
			"error": map[string]any{"code": 460, "message": "app revoked"},
		})
	}))

	_, err := r.ResolveApp(context.Background(), "gone")
	var rerr *types.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Revoked())
	assert.Equal(t, "app revoked", rerr.Message)
}

func TestErrorStatusWithoutBodyUsesHTTPCode(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := r.ResolveApp(context.Background(), "notes")
	var rerr *types.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusBadGateway, rerr.Code)
	assert.False(t, rerr.Revoked())
}

func TestResolveLaunchURLShortCircuitsWithoutParams(t *testing.T) {
	var hits atomic.Int32
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"url": "https://apps.example/from-service"})
	}))

	meta := &types.AppMetadata{AppID: "notes", LaunchURL: "https://apps.example/notes"}
	plain, err := types.NewLaunchRequest().App("notes").Build()
	require.NoError(t, err)

	u, err := r.ResolveLaunchURL(context.Background(), meta, plain)
	require.NoError(t, err)
	assert.Equal(t, "https://apps.example/notes", u)
	assert.Equal(t, int32(0), hits.Load())

	withParam, err := types.NewLaunchRequest().App("notes").StartParam("promo").Build()
	require.NoError(t, err)

	u, err = r.ResolveLaunchURL(context.Background(), meta, withParam)
	require.NoError(t, err)
	assert.Equal(t, "https://apps.example/from-service", u)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolveLaunchURLSendsRequestContext(t *testing.T) {
	var got launchURLRequest
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"url": "https://apps.example/x"})
	}))

	req, err := types.NewLaunchRequest().
		App("notes").
		StartParam("ref1").
		Param("utm", "chat").
		Peer(types.PeerContext{PeerID: "peer-9"}).
		Build()
	require.NoError(t, err)

	_, err = r.ResolveLaunchURL(context.Background(), &types.AppMetadata{AppID: "notes"}, req)
	require.NoError(t, err)
	assert.Equal(t, "notes", got.AppID)
	assert.Equal(t, "ref1", got.StartParam)
	assert.Equal(t, "chat", got.Params["utm"])
	assert.Equal(t, "peer-9", got.PeerID)
}

func TestResolvePageURLFallsBackToInput(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}))

	u, err := r.ResolvePageLaunchURL(context.Background(), "https://example.com/page", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", u)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 5; i++ {
		_, err := r.ResolveApp(context.Background(), "notes")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, r.breaker.State())

	// While open the failure is local and typed, no request leaves.
	_, err := r.ResolveApp(context.Background(), "notes")
	var rerr *types.ResolutionError
	require.ErrorAs(t, err, &rerr)
}

func TestCancelledContextPassesThrough(t *testing.T) {
	r := newTestResolver(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ResolveApp(ctx, "notes")
	assert.ErrorIs(t, err, context.Canceled)
}
