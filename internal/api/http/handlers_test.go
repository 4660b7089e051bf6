package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appAuth "github.com/keyfold/keyfold/internal/application/auth"
	appPairing "github.com/keyfold/keyfold/internal/application/pairing"
	"github.com/keyfold/keyfold/internal/infrastructure/memstore"
	"github.com/keyfold/keyfold/internal/infrastructure/sse"
)

const testToken = "test-token"

var testOwner = uuid.MustParse("7b90d138-4d7a-4041-a626-6eee55188a30")

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store := memstore.New(memstore.Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	hub := sse.NewHub()
	svc := appPairing.NewService(store, memstore.NewPassRepository(), hub, appPairing.Limits{
		DefaultLifetime: 60 * time.Second,
		MinLifetime:     time.Second,
		MaxLifetime:     300 * time.Second,
	}, "https://keyfold.test", zerolog.Nop())
	verifier, err := appAuth.NewStaticVerifier(map[string]string{testToken: testOwner.String()})
	require.NoError(t, err)

	server := httptest.NewServer(NewServer(svc, verifier, hub, zerolog.Nop()).Router())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}, authed bool) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createTestSession(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/sessions", map[string]interface{}{
		"targetKind": "note",
		"targetData": map[string]string{"title": "wifi", "body": "hunter2"},
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["sessionId"].(string)
}

func TestCreateSession(t *testing.T) {
	server := newTestAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/sessions", map[string]interface{}{
		"targetKind":      "login",
		"targetData":      map[string]string{"title": "mail", "username": "a", "password": "b"},
		"lifetimeSeconds": 30,
	}, true)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["sessionId"])
	assert.Equal(t, fmt.Sprintf("https://keyfold.test/scan/%s", body["sessionId"]), body["payload"])
	assert.EqualValues(t, 30, body["lifetimeSeconds"])
	_, err := time.Parse(time.RFC3339, body["expiresAt"].(string))
	assert.NoError(t, err)
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	server := newTestAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/sessions", map[string]interface{}{
		"targetKind": "identity",
		"targetData": map[string]string{},
	}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PARAM", body["error"])
}

func TestCreateSessionRequiresAuth(t *testing.T) {
	server := newTestAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/sessions", map[string]interface{}{
		"targetKind": "note",
		"targetData": map[string]string{"title": "t", "body": "b"},
	}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestStatusFlow(t *testing.T) {
	server := newTestAPI(t)
	id := createTestSession(t, server)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, false, body["scanned"])

	// scanning device completes without auth
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", map[string]string{"scannerRef": "phone-1"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["resultRef"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, true, body["scanned"])
}

func TestCompleteIsIdempotentOverHTTP(t *testing.T) {
	server := newTestAPI(t)
	id := createTestSession(t, server)

	resp, first := doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, second := doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["resultRef"], second["resultRef"])
}

func TestCancelFlow(t *testing.T) {
	server := newTestAPI(t)
	id := createTestSession(t, server)

	resp, body := doJSON(t, http.MethodDelete, server.URL+"/v1/sessions/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	// idempotent
	resp, body = doJSON(t, http.MethodDelete, server.URL+"/v1/sessions/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	// a scan after cancel is rejected
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", nil, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_FINALIZED", body["error"])
}

func TestCancelRequiresAuth(t *testing.T) {
	server := newTestAPI(t)
	id := createTestSession(t, server)

	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/v1/sessions/"+id, nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	server := newTestAPI(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/sessions/never-existed", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestAckRemovesSession(t *testing.T) {
	server := newTestAPI(t)
	id := createTestSession(t, server)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/ack", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+id, nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExpiredCompleteIsGone(t *testing.T) {
	server := newTestAPI(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/sessions", map[string]interface{}{
		"targetKind":      "note",
		"targetData":      map[string]string{"title": "t", "body": "b"},
		"lifetimeSeconds": 1,
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["sessionId"].(string)

	time.Sleep(1500 * time.Millisecond)

	resp, getBody := doJSON(t, http.MethodGet, server.URL+"/v1/sessions/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "expired", getBody["status"])

	resp, cBody := doJSON(t, http.MethodPost, server.URL+"/v1/sessions/"+id+"/complete", nil, false)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "SESSION_EXPIRED", cBody["error"])
}
