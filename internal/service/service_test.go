package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/memorybank/contextgraph/internal/service"
	"github.com/memorybank/contextgraph/internal/transport"
)

// capturingPublisher records every published response, keyed in order,
// standing in for [*transport.Transport] in tests.
type capturingPublisher struct {
	published []service.Response
}

func (p *capturingPublisher) PublishJSON(ctx context.Context, sess *transport.Session, v any) (int64, error) {
	resp, ok := v.(service.Response)
	if !ok {
		return 0, nil
	}
	p.published = append(p.published, resp)
	return int64(len(p.published)), nil
}

func newTestService(t *testing.T) (*service.Service, *capturingPublisher) {
	t.Helper()
	factory := service.NewFileStoreFactory(t.TempDir())
	pub := &capturingPublisher{}
	return service.New(factory, pub), pub
}

func mustRequest(t *testing.T, method string, params any) []byte {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := service.Request{ID: "req-1", Method: method, Params: raw}
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return payload
}

func lastResponse(t *testing.T, pub *capturingPublisher) service.Response {
	t.Helper()
	if len(pub.published) == 0 {
		t.Fatal("expected a published response, got none")
	}
	return pub.published[len(pub.published)-1]
}

// TestService_AppendReduceRoundTrip covers scenario A: an entity created,
// observed, and linked is immediately visible via search and snapshot,
// dispatched entirely through the JSON-RPC envelope.
func TestService_AppendReduceRoundTrip(t *testing.T) {
	svc, pub := newTestService(t)
	sess := &transport.Session{UserID: "alice", ProjectID: "proj-a"}
	ctx := context.Background()

	if err := svc.Handle(ctx, sess, mustRequest(t, "upsertEntity", map[string]any{
		"name": "Ada Lovelace", "entityType": "person",
	})); err != nil {
		t.Fatalf("upsertEntity: %v", err)
	}
	upsertResp := lastResponse(t, pub)
	if upsertResp.Error != nil {
		t.Fatalf("upsertEntity returned error: %+v", upsertResp.Error)
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "addObservation", map[string]any{
		"entityRef": "Ada Lovelace", "text": "wrote the first algorithm",
	})); err != nil {
		t.Fatalf("addObservation: %v", err)
	}
	if resp := lastResponse(t, pub); resp.Error != nil {
		t.Fatalf("addObservation returned error: %+v", resp.Error)
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "search", map[string]any{
		"query": "algorithm", "limit": 5,
	})); err != nil {
		t.Fatalf("search: %v", err)
	}
	searchResp := lastResponse(t, pub)
	if searchResp.Error != nil {
		t.Fatalf("search returned error: %+v", searchResp.Error)
	}
	if searchResp.Result == nil {
		t.Fatal("search returned nil result")
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "snapshot", map[string]any{})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snapResp := lastResponse(t, pub)
	if snapResp.Error != nil {
		t.Fatalf("snapshot returned error: %+v", snapResp.Error)
	}
}

// TestService_CascadingDelete covers scenario B: deleting an entity removes
// its observations and relations too, all observed through the dispatch
// layer rather than directly against the store.
func TestService_CascadingDelete(t *testing.T) {
	svc, pub := newTestService(t)
	sess := &transport.Session{UserID: "bob", ProjectID: "proj-b"}
	ctx := context.Background()

	for _, name := range []string{"Grace Hopper", "COBOL"} {
		if err := svc.Handle(ctx, sess, mustRequest(t, "upsertEntity", map[string]any{
			"name": name, "entityType": "thing",
		})); err != nil {
			t.Fatalf("upsertEntity(%s): %v", name, err)
		}
		if resp := lastResponse(t, pub); resp.Error != nil {
			t.Fatalf("upsertEntity(%s) returned error: %+v", name, resp.Error)
		}
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "linkEntities", map[string]any{
		"from": "Grace Hopper", "relationType": "created", "to": "COBOL",
	})); err != nil {
		t.Fatalf("linkEntities: %v", err)
	}
	if resp := lastResponse(t, pub); resp.Error != nil {
		t.Fatalf("linkEntities returned error: %+v", resp.Error)
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "addObservation", map[string]any{
		"entityRef": "Grace Hopper", "text": "coined the term debugging",
	})); err != nil {
		t.Fatalf("addObservation: %v", err)
	}
	if resp := lastResponse(t, pub); resp.Error != nil {
		t.Fatalf("addObservation returned error: %+v", resp.Error)
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "deleteEntity", map[string]any{
		"nameOrId": "Grace Hopper",
	})); err != nil {
		t.Fatalf("deleteEntity: %v", err)
	}
	if resp := lastResponse(t, pub); resp.Error != nil {
		t.Fatalf("deleteEntity returned error: %+v", resp.Error)
	}

	if err := svc.Handle(ctx, sess, mustRequest(t, "snapshot", map[string]any{})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap := lastResponse(t, pub)
	if snap.Error != nil {
		t.Fatalf("snapshot returned error: %+v", snap.Error)
	}
	snapJSON, err := json.Marshal(snap.Result)
	if err != nil {
		t.Fatalf("marshal snapshot result: %v", err)
	}
	if strings.Contains(string(snapJSON), "Grace Hopper") {
		t.Errorf("snapshot still references deleted entity: %s", snapJSON)
	}
}

// TestService_UnknownMethodReturnsInvalidInput checks that an unrecognized
// method is reported in-band rather than failing Handle itself.
func TestService_UnknownMethodReturnsInvalidInput(t *testing.T) {
	svc, pub := newTestService(t)
	sess := &transport.Session{UserID: "carol", ProjectID: "proj-c"}

	if err := svc.Handle(context.Background(), sess, mustRequest(t, "doesNotExist", map[string]any{})); err != nil {
		t.Fatalf("Handle returned transport-level error for bad method: %v", err)
	}
	resp := lastResponse(t, pub)
	if resp.Error == nil {
		t.Fatal("expected Error for unknown method, got nil")
	}
	if resp.Error.Kind != "InvalidInput" {
		t.Errorf("Kind: got %q, want InvalidInput", resp.Error.Kind)
	}
}

// TestService_TenantIsolation verifies two sessions scoped to different
// projects never see each other's entities, matching the per-tenant store
// cache in [service.FileStoreFactory].
func TestService_TenantIsolation(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	sessA := &transport.Session{UserID: "dave", ProjectID: "proj-d1"}
	sessB := &transport.Session{UserID: "dave", ProjectID: "proj-d2"}

	if err := svc.Handle(ctx, sessA, mustRequest(t, "upsertEntity", map[string]any{
		"name": "OnlyInD1", "entityType": "thing",
	})); err != nil {
		t.Fatalf("upsertEntity: %v", err)
	}
	if resp := lastResponse(t, pub); resp.Error != nil {
		t.Fatalf("upsertEntity returned error: %+v", resp.Error)
	}

	if err := svc.Handle(ctx, sessB, mustRequest(t, "snapshot", map[string]any{})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap := lastResponse(t, pub)
	snapJSON, err := json.Marshal(snap.Result)
	if err != nil {
		t.Fatalf("marshal snapshot result: %v", err)
	}
	if strings.Contains(string(snapJSON), "OnlyInD1") {
		t.Errorf("tenant isolation violated: %s", snapJSON)
	}
}
