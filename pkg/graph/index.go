package graph

import "time"

// Index is the secondary structure rebuilt from a [Snapshot] on every
// rebuild. It is a pure optimisation — deleting it and rebuilding from the
// snapshot must always be safe.
type Index struct {
	// NameToEntityID maps [NormalizeName] output to entity id.
	NameToEntityID map[string]string

	// LastEventLineCount is the number of event records folded to build the
	// snapshot this index was derived from.
	LastEventLineCount int

	// SnapshotBuiltAt is when the snapshot/index pair was last (re)built.
	SnapshotBuiltAt time.Time

	// JSONLModifiedAt is the file backend's observed mtime of the log at
	// build time; zero for the relational backend.
	JSONLModifiedAt time.Time

	// Stats is a small summary used for the markdown view and diagnostics.
	Stats IndexStats
}

// IndexStats summarises snapshot cardinality.
type IndexStats struct {
	EntityCount      int
	ObservationCount int
	RelationCount    int
}

// BuildIndex derives an [Index] from a snapshot. lineCount and jsonlModTime
// are backend-supplied provenance fields; the file backend has both, the
// relational backend passes lineCount=0 and a zero time.
func BuildIndex(snap Snapshot, lineCount int, jsonlModTime time.Time) Index {
	nameIdx := make(map[string]string, len(snap.Entities))
	for id, e := range snap.Entities {
		nameIdx[NormalizeName(e.Name)] = id
	}
	return Index{
		NameToEntityID:     nameIdx,
		LastEventLineCount: lineCount,
		SnapshotBuiltAt:    time.Now().UTC(),
		JSONLModifiedAt:    jsonlModTime,
		Stats: IndexStats{
			EntityCount:      len(snap.Entities),
			ObservationCount: len(snap.Observations),
			RelationCount:    len(snap.Relations),
		},
	}
}

// ResolveEntityRef resolves entityRef to an entity id, trying an exact id
// match first (entities are keyed by id in the snapshot, so any ref that is
// a known id wins immediately) and falling back to the normalized-name
// index. Returns ("", false) when neither resolves.
func ResolveEntityRef(snap Snapshot, idx Index, entityRef string) (string, bool) {
	if _, ok := snap.Entities[entityRef]; ok {
		return entityRef, true
	}
	if id, ok := idx.NameToEntityID[NormalizeName(entityRef)]; ok {
		return id, true
	}
	return "", false
}
