package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Marker and schema identifiers. Record 0 of every event log must be a
// marker event carrying exactly these values.
const (
	MarkerType    = "memory_bank_graph"
	SchemaVersion = "1"
)

// NormalizeName trims surrounding whitespace, collapses internal whitespace
// runs, and lower-cases the result. It is the canonical form used for
// uniqueness checks and the name→id index.
func NormalizeName(name string) string {
	fields := strings.Fields(name)
	return strings.ToLower(strings.Join(fields, " "))
}

// hashID produces a short, collision-resistant, prefixed id by hashing the
// given parts joined with a unit separator so that ("ab", "c") and ("a",
// "bc") never collide.
func hashID(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f}) // unit separator
	}
	sum := h.Sum(nil)
	return prefix + "_" + hex.EncodeToString(sum[:16])
}

// DeriveEntityID computes the stable id for an entity from its normalized
// name and type. Re-deriving from the same (name, type) pair always yields
// the same id, which is what makes upsertEntity idempotent on identity.
func DeriveEntityID(name, entityType string) string {
	return hashID("ent", NormalizeName(name), entityType)
}

// DeriveObservationID computes the stable id for an observation from its
// owning entity, text, and timestamp. Per the design notes, re-asserting the
// same text at a different timestamp deliberately produces a different id
// (and thus a second observation) — this is documented behaviour, not a bug.
func DeriveObservationID(entityID, text string, ts time.Time) string {
	return hashID("obs", entityID, text, ts.UTC().Format(time.RFC3339Nano))
}

// DeriveRelationID computes the stable id for a relation from its endpoints
// and type, making re-insertion of the same (from, to, type) triple an
// idempotent no-op.
func DeriveRelationID(fromID, toID, relationType string) string {
	return hashID("rel", fromID, toID, relationType)
}
