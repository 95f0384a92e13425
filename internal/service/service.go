package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memorybank/contextgraph/internal/transport"
	"github.com/memorybank/contextgraph/pkg/graph"
	"github.com/memorybank/contextgraph/pkg/retrieval"
)

// Request is one JSON-RPC-style message submitted over the session
// transport. Method selects the operation; Params is decoded per method.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is published back onto the session's event stream in reply to
// a Request carrying the same ID.
type Response struct {
	ID     string        `json:"id"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload mirrors the error taxonomy in [graph.ErrorKind] so clients
// can switch on Kind without string matching.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Publisher is the subset of [*transport.Transport] the service needs to
// deliver replies.
type Publisher interface {
	PublishJSON(ctx context.Context, sess *transport.Session, v any) (int64, error)
}

// Service dispatches session messages against per-tenant stores obtained
// from a [StoreFactory], publishing one [Response] per [Request] via a
// [Publisher]. Its [Service.Handle] method satisfies
// [transport.MessageHandler].
type Service struct {
	stores    StoreFactory
	publisher Publisher
	logger    *slog.Logger
}

// New constructs a Service backed by factory, publishing responses through
// pub.
func New(factory StoreFactory, pub Publisher) *Service {
	return &Service{stores: factory, publisher: pub, logger: slog.Default()}
}

// Handle decodes payload as a [Request], dispatches it against the tenant
// stores for (sess.UserID, sess.ProjectID), and publishes the resulting
// [Response] onto sess's event stream. It satisfies [transport.MessageHandler].
// A malformed envelope or an unavailable tenant store is reported back to
// the caller as an error (surfaced as an HTTP 500 by the transport layer);
// a request-level failure (unknown method, bad params, store error) is
// instead carried in the published Response.Error and returns nil here.
func (s *Service) Handle(ctx context.Context, sess *transport.Session, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("service: decode request: %w", err)
	}

	ts, err := s.stores.ForTenant(ctx, sess.UserID, sess.ProjectID)
	if err != nil {
		return fmt.Errorf("service: resolve tenant store: %w", err)
	}

	result, err := dispatch(ctx, ts, req.Method, req.Params)
	resp := Response{ID: req.ID, Result: result}
	if err != nil {
		s.logger.Warn("service: request failed", "method", req.Method, "err", err)
		resp = Response{ID: req.ID, Error: toErrorPayload(err)}
	}

	if _, err := s.publisher.PublishJSON(ctx, sess, resp); err != nil {
		return fmt.Errorf("service: publish response: %w", err)
	}
	return nil
}

var _ transport.MessageHandler = (*Service)(nil).Handle

func toErrorPayload(err error) *ErrorPayload {
	var se *graph.StoreError
	if errors.As(err, &se) {
		return &ErrorPayload{Kind: string(se.Kind), Message: se.Error()}
	}
	return &ErrorPayload{Kind: "Internal", Message: err.Error()}
}

// dispatch routes req to the matching tenant-store operation. Unknown
// methods are reported as InvalidInput, matching the taxonomy used
// throughout the graph store for malformed requests.
func dispatch(ctx context.Context, ts *TenantStores, method string, params json.RawMessage) (any, error) {
	switch method {
	case "upsertEntity":
		return dispatchUpsertEntity(ctx, ts, params)
	case "addObservation":
		return dispatchAddObservation(ctx, ts, params)
	case "linkEntities":
		return dispatchLinkEntities(ctx, ts, params)
	case "unlinkEntities":
		return dispatchUnlinkEntities(ctx, ts, params)
	case "deleteEntity":
		return dispatchDeleteEntity(ctx, ts, params)
	case "deleteObservation":
		return dispatchDeleteObservation(ctx, ts, params)
	case "search":
		return dispatchSearch(ctx, ts, params)
	case "expand":
		return dispatchExpand(ctx, ts, params)
	case "snapshot":
		return ts.Graph.Snapshot(ctx)
	case "compact":
		return dispatchCompact(ctx, ts)
	case "retrieve":
		return dispatchRetrieve(ctx, ts, params)
	default:
		return nil, graph.NewStoreError(method, graph.KindInvalidInput, fmt.Errorf("unknown method %q", method))
	}
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, graph.NewStoreError("decode", graph.KindInvalidInput, errors.New("missing params"))
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, graph.NewStoreError("decode", graph.KindInvalidInput, err)
	}
	return v, nil
}

type upsertEntityParams struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entityType"`
	Attrs      map[string]any `json:"attrs"`
}

func dispatchUpsertEntity(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[upsertEntityParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Graph.UpsertEntity(ctx, p.Name, p.EntityType, p.Attrs)
}

type addObservationParams struct {
	EntityRef string                  `json:"entityRef"`
	Text      string                  `json:"text"`
	Source    graph.ObservationSource `json:"source"`
	Timestamp time.Time               `json:"timestamp"`
}

func dispatchAddObservation(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[addObservationParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Graph.AddObservation(ctx, p.EntityRef, p.Text, p.Source, p.Timestamp)
}

type linkParams struct {
	From         string `json:"from"`
	RelationType string `json:"relationType"`
	To           string `json:"to"`
}

func dispatchLinkEntities(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[linkParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Graph.LinkEntities(ctx, p.From, p.RelationType, p.To)
}

func dispatchUnlinkEntities(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[linkParams](params)
	if err != nil {
		return nil, err
	}
	return nil, ts.Graph.UnlinkEntities(ctx, p.From, p.RelationType, p.To)
}

type nameOrIDParams struct {
	NameOrID string `json:"nameOrId"`
}

func dispatchDeleteEntity(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[nameOrIDParams](params)
	if err != nil {
		return nil, err
	}
	return nil, ts.Graph.DeleteEntity(ctx, p.NameOrID)
}

type idParams struct {
	ID string `json:"id"`
}

func dispatchDeleteObservation(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[idParams](params)
	if err != nil {
		return nil, err
	}
	return nil, ts.Graph.DeleteObservation(ctx, p.ID)
}

type searchParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func dispatchSearch(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[searchParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Graph.Search(ctx, p.Query, graph.SearchOptions{Limit: p.Limit})
}

type expandParams struct {
	SeedID        string   `json:"seedId"`
	Hops          int      `json:"hops"`
	RelationTypes []string `json:"relationTypes"`
}

func dispatchExpand(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[expandParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Graph.Expand(ctx, p.SeedID, graph.ExpandOptions{Hops: p.Hops, RelationTypes: p.RelationTypes})
}

type compactResult struct {
	BeforeBytes int64 `json:"beforeBytes"`
	AfterBytes  int64 `json:"afterBytes"`
}

func dispatchCompact(ctx context.Context, ts *TenantStores) (any, error) {
	before, after, err := ts.Graph.Compact(ctx)
	if err != nil {
		return nil, err
	}
	return compactResult{BeforeBytes: before, AfterBytes: after}, nil
}

type retrieveParams struct {
	Query             string   `json:"query"`
	MaxChars          int      `json:"maxChars"`
	MaxFiles          int      `json:"maxFiles"`
	GraphLimit        int      `json:"graphLimit"`
	GraphDepth        int      `json:"graphDepth"`
	PreferCoreFiles   bool     `json:"preferCoreFiles"`
	CoreDocumentPaths []string `json:"coreDocumentPaths"`
}

func dispatchRetrieve(ctx context.Context, ts *TenantStores, params json.RawMessage) (any, error) {
	p, err := decodeParams[retrieveParams](params)
	if err != nil {
		return nil, err
	}
	return ts.Retrieval.Retrieve(ctx, retrieval.Request{
		Query:             p.Query,
		MaxChars:          p.MaxChars,
		MaxFiles:          p.MaxFiles,
		GraphLimit:        p.GraphLimit,
		GraphDepth:        p.GraphDepth,
		PreferCoreFiles:   p.PreferCoreFiles,
		CoreDocumentPaths: p.CoreDocumentPaths,
	})
}
