// Package retrieval assembles a targeted context pack for a query: a
// digest of known core documents, a graph query with neighborhood
// expansion, and document excerpts ranked and trimmed to a hard character
// budget.
//
// The digest and the graph query are independent of each other and run
// concurrently via [golang.org/x/sync/errgroup], mirroring the assembly
// pattern used throughout this codebase's other concurrent-fetch
// components. Neighborhood expansion cannot join that same wave — it needs
// the graph query's hit ids before it has anything to expand from — so it
// runs as a second wave immediately after, itself fanning out one
// concurrent [graph.GraphStore.Expand] call per hit.
package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	telemetry "github.com/memorybank/contextgraph/internal/obs"
	"github.com/memorybank/contextgraph/pkg/docstore"
	"github.com/memorybank/contextgraph/pkg/graph"
)

const (
	defaultMaxChars          = 8000
	defaultMaxFiles          = 4
	defaultGraphLimit        = 6
	defaultGraphDepth        = 1
	maxObservationsPerEntity = 5
	digestBudgetFraction     = 0.20
	minRemainingCharsToTry   = 50
)

// docPointerPattern matches an observation of the form "DOC: path#heading".
var docPointerPattern = regexp.MustCompile(`^DOC:\s*(\S+)(?:\s*#\s*(.+))?$`)

// Request configures [Engine.Retrieve].
type Request struct {
	Query             string
	MaxChars          int
	MaxFiles          int
	GraphLimit        int
	GraphDepth        int
	PreferCoreFiles   bool
	CoreDocumentPaths []string
}

// withDefaults returns a copy of r with zero-valued fields replaced by the
// specification's defaults.
func (r Request) withDefaults() Request {
	if r.MaxChars <= 0 {
		r.MaxChars = defaultMaxChars
	}
	if r.MaxFiles <= 0 {
		r.MaxFiles = defaultMaxFiles
	}
	if r.GraphLimit <= 0 {
		r.GraphLimit = defaultGraphLimit
	}
	if r.GraphDepth < 1 || r.GraphDepth > 2 {
		r.GraphDepth = defaultGraphDepth
	}
	return r
}

// ContextPack is the structured output of [Engine.Retrieve].
type ContextPack struct {
	Digest       string
	GraphHits    []graph.ScoredEntity
	Observations map[string][]graph.Observation // keyed by entity id, capped at 5 each
	Excerpts     []Excerpt
	Truncated    bool
	UsedChars    int
}

// Excerpt is one rendered document fragment contributing to a [ContextPack].
type Excerpt struct {
	Pointer graph.DocumentPointer
	Text    string
	Truncated bool
}

// Engine assembles [ContextPack] values from a [graph.GraphStore] and a
// [docstore.Store].
type Engine struct {
	store   graph.GraphStore
	docs    docstore.Store
	metrics *telemetry.Metrics
}

// NewEngine constructs an Engine over store and docs.
func NewEngine(store graph.GraphStore, docs docstore.Store) *Engine {
	return &Engine{store: store, docs: docs, metrics: telemetry.DefaultMetrics()}
}

// Retrieve runs the full targeted-context algorithm described in the
// component design: digest extraction, graph query plus neighborhood
// expansion, pointer extraction and ranking, excerpting up to MaxFiles
// pointers, and hard budget accounting across the whole pack.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*ContextPack, error) {
	req = req.withDefaults()
	start := time.Now()
	defer func() { e.metrics.RetrievalDuration.Record(ctx, time.Since(start).Seconds()) }()

	var (
		digest string
		hits   graph.SearchResults
		snap   graph.Snapshot
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		d, err := e.buildDigest(egCtx, req)
		if err != nil {
			return fmt.Errorf("retrieval: digest: %w", err)
		}
		digest = d
		return nil
	})
	eg.Go(func() error {
		results, err := e.store.Search(egCtx, req.Query, graph.SearchOptions{Limit: req.GraphLimit})
		if err != nil {
			return fmt.Errorf("retrieval: graph search: %w", err)
		}
		hits = results
		return nil
	})
	eg.Go(func() error {
		s, err := e.store.Snapshot(egCtx)
		if err != nil {
			return fmt.Errorf("retrieval: snapshot: %w", err)
		}
		snap = s
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	hitIDs := make(map[string]struct{}, len(hits.Entities))
	for _, se := range hits.Entities {
		hitIDs[se.Entity.ID] = struct{}{}
	}

	entities, err := e.expandHits(ctx, hits.Entities, req.GraphDepth)
	if err != nil {
		return nil, err
	}

	observations := collectObservations(snap, hits.Observations, entities, hitIDs)

	pointers := extractPointers(entities, observations, req.CoreDocumentPaths)
	pointers = rankPointers(pointers, req.PreferCoreFiles)

	budget := req.MaxChars - len(digest)
	pack := &ContextPack{
		Digest:       digest,
		GraphHits:    hits.Entities,
		Observations: observations,
	}

	var excerpts []Excerpt
	for _, ptr := range pointers {
		if len(excerpts) >= req.MaxFiles {
			break
		}
		if budget < minRemainingCharsToTry {
			pack.Truncated = true
			break
		}
		if err := docstore.ValidatePath(ptr.Path); err != nil {
			continue
		}
		content, err := e.docs.Read(ctx, ptr.Path)
		if err != nil {
			continue
		}

		excerpt, ok := excerptFor(content, ptr.Heading, req.Query, budget)
		if !ok {
			continue
		}
		excerpts = append(excerpts, Excerpt{Pointer: ptr, Text: excerpt.Text, Truncated: excerpt.Truncated})
		budget -= len(excerpt.Text)
		if excerpt.Truncated {
			pack.Truncated = true
		}
	}
	pack.Excerpts = excerpts

	used := len(digest)
	for _, x := range excerpts {
		used += len(x.Text)
	}
	pack.UsedChars = used

	return pack, nil
}

// expandHits walks graphDepth hops outward from every direct search hit and
// unions the reached entities into the hit set, giving each newly-reached
// entity the score of the hit it was reached from (keeping the larger score
// on conflict, and never downgrading an entity that was itself a direct
// hit). One hit's expansion is independent of another's, so they run
// concurrently.
func (e *Engine) expandHits(ctx context.Context, hits []graph.ScoredEntity, graphDepth int) ([]graph.ScoredEntity, error) {
	byID := make(map[string]graph.ScoredEntity, len(hits))
	for _, se := range hits {
		byID[se.Entity.ID] = se
	}

	if len(hits) > 0 {
		eg, egCtx := errgroup.WithContext(ctx)
		neighborhoods := make([]graph.Neighborhood, len(hits))
		for i, se := range hits {
			i, se := i, se
			eg.Go(func() error {
				n, err := e.store.Expand(egCtx, se.Entity.ID, graph.ExpandOptions{Hops: graphDepth})
				if err != nil {
					return fmt.Errorf("retrieval: expand %s: %w", se.Entity.ID, err)
				}
				neighborhoods[i] = n
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		for i, n := range neighborhoods {
			seedScore := hits[i].Score
			for _, ent := range n.Entities {
				if existing, ok := byID[ent.ID]; !ok || seedScore > existing.Score {
					byID[ent.ID] = graph.ScoredEntity{Entity: ent, Score: seedScore}
				}
			}
		}
	}

	out := make([]graph.ScoredEntity, 0, len(byID))
	for _, se := range byID {
		out = append(out, se)
	}
	return out, nil
}

// collectObservations gathers observations on hits and their expanded
// neighbors, bounded to maxObservationsPerEntity each. Direct hits use
// searchObservations (the query-matched observations the graph query
// already returned); an expanded entity has no query-matched observations
// of its own, so its observations are instead read straight off snap, most
// recent first (ties broken by observation id for determinism).
func collectObservations(snap graph.Snapshot, searchObservations []graph.ScoredObservation, entities []graph.ScoredEntity, hitIDs map[string]struct{}) map[string][]graph.Observation {
	observations := make(map[string][]graph.Observation, len(entities))
	for _, obs := range searchObservations {
		list := observations[obs.Observation.EntityID]
		if len(list) < maxObservationsPerEntity {
			observations[obs.Observation.EntityID] = append(list, obs.Observation)
		}
	}

	for _, se := range entities {
		if _, isHit := hitIDs[se.Entity.ID]; isHit {
			continue
		}
		if _, already := observations[se.Entity.ID]; already {
			continue
		}
		var owned []graph.Observation
		for _, obs := range snap.Observations {
			if obs.EntityID == se.Entity.ID {
				owned = append(owned, obs)
			}
		}
		if len(owned) == 0 {
			continue
		}
		sort.Slice(owned, func(i, j int) bool {
			if !owned[i].Timestamp.Equal(owned[j].Timestamp) {
				return owned[i].Timestamp.After(owned[j].Timestamp)
			}
			return owned[i].ID < owned[j].ID
		})
		if len(owned) > maxObservationsPerEntity {
			owned = owned[:maxObservationsPerEntity]
		}
		observations[se.Entity.ID] = owned
	}
	return observations
}

// extractPointers produces one [graph.DocumentPointer] per (entity, source)
// combination: first from attrs.docPath/heading, then from any observation
// matching docPointerPattern.
func extractPointers(entities []graph.ScoredEntity, observations map[string][]graph.Observation, corePaths []string) []graph.DocumentPointer {
	core := make(map[string]struct{}, len(corePaths))
	for _, p := range corePaths {
		core[p] = struct{}{}
	}

	var out []graph.DocumentPointer
	for _, se := range entities {
		if docPath, ok := se.Entity.Attrs["docPath"].(string); ok && docPath != "" {
			heading, _ := se.Entity.Attrs["heading"].(string)
			_, isCore := core[docPath]
			out = append(out, graph.DocumentPointer{Path: docPath, Heading: heading, EntityScore: se.Score, CoreFile: isCore})
		}
		for _, obs := range observations[se.Entity.ID] {
			m := docPointerPattern.FindStringSubmatch(obs.Text)
			if m == nil {
				continue
			}
			_, isCore := core[m[1]]
			out = append(out, graph.DocumentPointer{Path: m[1], Heading: m[2], EntityScore: se.Score, CoreFile: isCore})
		}
	}
	return out
}

// rankPointers applies the deterministic comparator from the component
// design: higher entity score first, heading-hinted pointers before
// headingless ones, core files before others when preferCoreFiles, and
// lexical path ascending as the final tie-break.
func rankPointers(pointers []graph.DocumentPointer, preferCoreFiles bool) []graph.DocumentPointer {
	sort.SliceStable(pointers, func(i, j int) bool {
		a, b := pointers[i], pointers[j]
		if a.EntityScore != b.EntityScore {
			return a.EntityScore > b.EntityScore
		}
		aHeading, bHeading := a.Heading != "", b.Heading != ""
		if aHeading != bHeading {
			return aHeading
		}
		if preferCoreFiles && a.CoreFile != b.CoreFile {
			return a.CoreFile
		}
		return a.Path < b.Path
	})
	return pointers
}

// buildDigest extracts bullet lines under known headings from the
// configured core documents, capped at digestBudgetFraction of the total
// character budget.
func (e *Engine) buildDigest(ctx context.Context, req Request) (string, error) {
	if len(req.CoreDocumentPaths) == 0 {
		return "", nil
	}
	budget := int(float64(req.MaxChars) * digestBudgetFraction)

	knownHeadings := map[string]struct{}{
		"current tasks": {}, "issues": {}, "next steps": {},
		"progress": {}, "decisions": {},
	}

	var b strings.Builder
	for _, path := range req.CoreDocumentPaths {
		if b.Len() >= budget {
			break
		}
		content, err := e.docs.Read(ctx, path)
		if err != nil {
			continue // a missing or invalid core document is skipped, not fatal
		}
		b.WriteString(extractDigestBullets(content, knownHeadings, budget-b.Len()))
	}

	out := b.String()
	if len(out) > budget {
		out = out[:budget]
	}
	return out, nil
}

// extractDigestBullets walks content line by line, collecting "- " / "* "
// bullet lines while under a heading in knownHeadings, until limit chars
// have been collected.
func extractDigestBullets(content string, knownHeadings map[string]struct{}, limit int) string {
	var b strings.Builder
	inKnownSection := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimLeft(trimmed, "# "))
			_, inKnownSection = knownHeadings[heading]
			continue
		}
		if !inKnownSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			if b.Len()+len(trimmed)+1 > limit {
				return b.String()
			}
			b.WriteString(trimmed)
			b.WriteString("\n")
		}
	}
	return b.String()
}
