package filestore

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/memorybank/contextgraph/pkg/graph"
)

// renderMarkdown builds a best-effort human-readable view of a snapshot.
// Rendering failures (e.g. a write error) are never fatal to the caller —
// the markdown view is a convenience artifact, not part of the contract.
func renderMarkdown(snap graph.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Graph: %s\n\n", snap.Meta.StoreID)

	entityIDs := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Slice(entityIDs, func(i, j int) bool {
		return snap.Entities[entityIDs[i]].Name < snap.Entities[entityIDs[j]].Name
	})

	if len(entityIDs) > 0 {
		b.WriteString("## Entities\n\n")
		for _, id := range entityIDs {
			e := snap.Entities[id]
			fmt.Fprintf(&b, "- **%s** (%s)\n", e.Name, e.EntityType)
		}
		b.WriteString("\n")
	}

	obsByEntity := make(map[string][]graph.Observation, len(snap.Observations))
	for _, o := range snap.Observations {
		obsByEntity[o.EntityID] = append(obsByEntity[o.EntityID], o)
	}
	if len(obsByEntity) > 0 {
		b.WriteString("## Observations\n\n")
		for _, id := range entityIDs {
			obs := obsByEntity[id]
			if len(obs) == 0 {
				continue
			}
			sort.Slice(obs, func(i, j int) bool { return obs[i].ID < obs[j].ID })
			fmt.Fprintf(&b, "### %s\n\n", snap.Entities[id].Name)
			for _, o := range obs {
				fmt.Fprintf(&b, "- %s\n", o.Text)
			}
			b.WriteString("\n")
		}
	}

	if len(snap.Relations) > 0 {
		relIDs := make([]string, 0, len(snap.Relations))
		for id := range snap.Relations {
			relIDs = append(relIDs, id)
		}
		sort.Strings(relIDs)

		b.WriteString("## Relations\n\n")
		for _, id := range relIDs {
			r := snap.Relations[id]
			from := snap.Entities[r.FromID].Name
			to := snap.Entities[r.ToID].Name
			fmt.Fprintf(&b, "- %s --%s--> %s\n", from, r.RelationType, to)
		}
	}

	return b.String()
}

// writeMarkdownBestEffort renders snap and writes it to path, swallowing any
// I/O error: the markdown view is a diagnostic convenience and must never
// fail a caller's rebuild/compact operation.
func writeMarkdownBestEffort(path string, snap graph.Snapshot) {
	content := renderMarkdown(snap)
	_ = os.WriteFile(path, []byte(content), 0o644)
}
