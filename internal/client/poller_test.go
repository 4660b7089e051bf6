package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers each status poll with the next scripted response,
// repeating the last one.
func scriptedServer(t *testing.T, responses ...func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		idx := int(n - 1)
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		responses[idx](w)
	}))
	t.Cleanup(server.Close)
	return server
}

func jsonResponse(status int, body interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func newTestPoller(server *httptest.Server, lifetime time.Duration, events Events) *Poller {
	p := NewPoller(New(server.URL, "tok"), &Created{
		SessionID: "sess-1",
		ExpiresAt: time.Now().Add(lifetime),
	}, 20*time.Millisecond, 10*time.Millisecond, events)
	p.tickEvery = 10 * time.Millisecond
	return p
}

func TestPollerDetectsCompletion(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusOK, SessionStatus{Status: "active"}),
		jsonResponse(http.StatusOK, SessionStatus{Status: "completed", Scanned: true, ResultRef: ptr("pass-1")}),
	)

	var scannedRef string
	var refreshed bool
	p := newTestPoller(server, time.Minute, Events{
		OnScanned: func(ref string) { scannedRef = ref },
		OnRefresh: func() { refreshed = true },
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "pass-1", scannedRef)
	assert.True(t, refreshed, "refresh fires after the post-scan delay")
}

func TestPollerTreatsGoneAsSuccess(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusGone, map[string]string{"error": "GONE"}),
	)

	var scanned bool
	p := newTestPoller(server, time.Minute, Events{
		OnScanned: func(string) { scanned = true },
	})

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, scanned)
}

func TestPollerTreatsNotFoundAsSuccess(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusNotFound, map[string]string{"error": "NOT_FOUND"}),
	)

	var scanned bool
	p := newTestPoller(server, time.Minute, Events{
		OnScanned: func(string) { scanned = true },
	})

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, scanned)
}

func TestPollerCountdownStopsPolling(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusOK, SessionStatus{Status: "active"}),
	)

	var expired bool
	var ticked bool
	p := newTestPoller(server, 60*time.Millisecond, Events{
		OnTick:    func(time.Duration) { ticked = true },
		OnExpired: func() { expired = true },
	})

	start := time.Now()
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, expired, "local countdown flips to expired")
	assert.True(t, ticked)
	assert.Less(t, time.Since(start), time.Second, "run stops once the countdown hits zero")
}

func TestPollerSurfacesServerCancellation(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusOK, SessionStatus{Status: "cancelled"}),
	)

	var cancelled bool
	p := newTestPoller(server, time.Minute, Events{
		OnCancelled: func() { cancelled = true },
	})

	require.NoError(t, p.Run(context.Background()))
	assert.True(t, cancelled)
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusOK, SessionStatus{Status: "active"}),
	)

	p := newTestPoller(server, time.Minute, Events{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestCancelSwallowsFinalizedRace(t *testing.T) {
	server := scriptedServer(t,
		jsonResponse(http.StatusGone, map[string]string{"error": "GONE"}),
	)

	p := newTestPoller(server, time.Minute, Events{})
	assert.NoError(t, p.Cancel(context.Background()))
}

func TestRenderQR(t *testing.T) {
	png, err := RenderPNG("https://keyfold.test/scan/abc", 256)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	art, err := RenderTerminal("https://keyfold.test/scan/abc")
	require.NoError(t, err)
	assert.NotEmpty(t, art)
}

func ptr(s string) *string { return &s }
