package transport

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/memorybank/contextgraph/internal/authgate"
)

// sha256Hex mirrors authgate's internal credential-hashing so tests can
// seed a [authgate.MockStore] under the same key Gate.Authenticate derives.
func sha256Hex(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// seedCredential installs a record for credential's hash using the same
// SHA-256 hex digest [authgate.Gate] computes internally.
func seedCredential(t *testing.T, store *authgate.MockStore, credential, userID, projectID string) {
	t.Helper()
	store.Put(sha256Hex(credential), authgate.Record{UserID: userID, ProjectID: projectID, RateLimit: 1000})
}

func newTestTransport(t *testing.T) (*Transport, *authgate.MockStore) {
	t.Helper()
	store := authgate.NewMockStore()
	gate := authgate.New(store, 0, 0)
	events := NewMemoryEventStore(100)
	tr := New(Config{IdleTTL: time.Hour}, gate, nil, events, nil)
	return tr, store
}

func doRequest(t *testing.T, handler http.Handler, method, credential, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/session", strings.NewReader(""))
	if credential != "" {
		req.Header.Set(authgate.CredentialHeader, credential)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestTransport_ScenarioE_TenantIsolation mirrors the tenant isolation
// scenario: two distinct tenants each open a session; neither can observe
// or operate on the other's session id.
func TestTransport_ScenarioE_TenantIsolation(t *testing.T) {
	tr, store := newTestTransport(t)
	seedCredential(t, store, "cred-a", "userA", "projectA")
	seedCredential(t, store, "cred-b", "userB", "projectB")
	router := tr.Router(nil)

	recA := doRequest(t, router, http.MethodPost, "cred-a", "")
	if recA.Code != http.StatusOK {
		t.Fatalf("create session A: status %d", recA.Code)
	}
	sessionA := recA.Header().Get(SessionIDHeader)
	if sessionA == "" {
		t.Fatalf("expected a session id for tenant A")
	}

	// Tenant B must not be able to reuse tenant A's session id.
	recCross := doRequest(t, router, http.MethodPost, "cred-b", sessionA)
	if recCross.Code != http.StatusNotFound {
		t.Errorf("cross-tenant session access: status %d, want 404", recCross.Code)
	}

	recDeleteCross := doRequest(t, router, http.MethodDelete, "cred-b", sessionA)
	if recDeleteCross.Code != http.StatusNotFound {
		t.Errorf("cross-tenant delete: status %d, want 404", recDeleteCross.Code)
	}

	// Tenant A can still operate on its own session.
	recOwn := doRequest(t, router, http.MethodPost, "cred-a", sessionA)
	if recOwn.Code != http.StatusOK {
		t.Errorf("same-tenant session reuse: status %d, want 200", recOwn.Code)
	}
}

// TestTransport_ScenarioF_SessionResume mirrors the session resume
// scenario: ten events are published to a session's stream, then a
// reconnecting client presents last-event-id=7 and must receive exactly
// events 8, 9, 10, in order.
func TestTransport_ScenarioF_SessionResume(t *testing.T) {
	tr, store := newTestTransport(t)
	seedCredential(t, store, "cred-f", "userF", "projectF")
	router := tr.Router(nil)

	recCreate := doRequest(t, router, http.MethodPost, "cred-f", "")
	sessionID := recCreate.Header().Get(SessionIDHeader)

	sess, err := tr.sessions.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 1; i <= 10; i++ {
		if _, err := tr.Publish(context.Background(), sess, []byte(strings.Repeat("e", 1)+string(rune('0'+i)))); err != nil {
			t.Fatalf("Publish event %d: %v", i, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set(authgate.CredentialHeader, "cred-f")
	req.Header.Set(SessionIDHeader, sessionID)
	req.Header.Set(LastEventIDHeader, "7")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var ids []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
	}

	if len(ids) != 3 {
		t.Fatalf("expected exactly 3 replayed events, got %d (%v)", len(ids), ids)
	}
	if ids[0] != "8" || ids[1] != "9" || ids[2] != "10" {
		t.Errorf("replayed ids = %v, want [8 9 10]", ids)
	}
}

func TestTransport_HostAllowlist_RejectsUnknownHost(t *testing.T) {
	tr, store := newTestTransport(t)
	seedCredential(t, store, "cred-h", "userH", "projectH")
	tr.allowedHosts = map[string]struct{}{"api.example.com": {}}
	router := tr.Router(nil)

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(""))
	req.Header.Set(authgate.CredentialHeader, "cred-h")
	req.Host = "evil.example.com"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestTransport_Delete_UnknownSession(t *testing.T) {
	tr, store := newTestTransport(t)
	seedCredential(t, store, "cred-d", "userD", "projectD")
	router := tr.Router(nil)

	rec := doRequest(t, router, http.MethodDelete, "cred-d", "nonexistent-session")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
