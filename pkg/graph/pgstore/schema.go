// Package pgstore implements [graph.GraphStore] over PostgreSQL. Every
// operation runs inside a [tenant.Context] transaction so row-level
// security policies see app.current_user_id / app.current_project_id for
// the statement's lifetime only.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlGraphTables = `
CREATE TABLE IF NOT EXISTS graph_entities (
    id          TEXT         PRIMARY KEY,
    project_id  TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    norm_name   TEXT         GENERATED ALWAYS AS (lower(regexp_replace(btrim(name), '\s+', ' ', 'g'))) STORED,
    entity_type TEXT         NOT NULL,
    attrs       JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (project_id, norm_name)
);

CREATE INDEX IF NOT EXISTS idx_graph_entities_project ON graph_entities (project_id);
CREATE INDEX IF NOT EXISTS idx_graph_entities_type ON graph_entities (project_id, entity_type);

CREATE TABLE IF NOT EXISTS graph_observations (
    id           TEXT         PRIMARY KEY,
    project_id   TEXT         NOT NULL,
    entity_id    TEXT         NOT NULL REFERENCES graph_entities (id) ON DELETE CASCADE,
    content      TEXT         NOT NULL,
    source_kind  TEXT         NOT NULL DEFAULT '',
    source_ref   TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    fts_vector   TSVECTOR     GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS idx_graph_observations_entity ON graph_observations (entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_observations_project ON graph_observations (project_id);
CREATE INDEX IF NOT EXISTS idx_graph_observations_fts ON graph_observations USING GIN (fts_vector);

CREATE TABLE IF NOT EXISTS graph_relations (
    id               TEXT         PRIMARY KEY,
    project_id       TEXT         NOT NULL,
    from_entity_id   TEXT         NOT NULL REFERENCES graph_entities (id) ON DELETE CASCADE,
    to_entity_id     TEXT         NOT NULL REFERENCES graph_entities (id) ON DELETE CASCADE,
    relation_type    TEXT         NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (project_id, from_entity_id, to_entity_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_graph_relations_from ON graph_relations (from_entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_relations_to ON graph_relations (to_entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_relations_type ON graph_relations (project_id, relation_type);
`

const ddlRowLevelSecurity = `
ALTER TABLE graph_entities ENABLE ROW LEVEL SECURITY;
ALTER TABLE graph_observations ENABLE ROW LEVEL SECURITY;
ALTER TABLE graph_relations ENABLE ROW LEVEL SECURITY;

DO $$ BEGIN
    CREATE POLICY graph_entities_tenant_isolation ON graph_entities
        USING (project_id = current_setting('app.current_project_id', true));
EXCEPTION WHEN duplicate_object THEN NULL; END $$;

DO $$ BEGIN
    CREATE POLICY graph_observations_tenant_isolation ON graph_observations
        USING (project_id = current_setting('app.current_project_id', true));
EXCEPTION WHEN duplicate_object THEN NULL; END $$;

DO $$ BEGIN
    CREATE POLICY graph_relations_tenant_isolation ON graph_relations
        USING (project_id = current_setting('app.current_project_id', true));
EXCEPTION WHEN duplicate_object THEN NULL; END $$;
`

// Migrate creates or ensures the graph_* tables, indexes, and row-level
// security policies exist. Idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlGraphTables, ddlRowLevelSecurity} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore migrate: %w", err)
		}
	}
	return nil
}
