// Command migrate applies the database schema. The DDL is idempotent, so
// re-running against an up-to-date database is a no-op.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/S-Corkum/prd-engine/internal/config"
)

var (
	dsn     = flag.String("dsn", "", "Database connection string (defaults to configuration)")
	timeout = flag.Duration("timeout", time.Minute, "Migration timeout")
	dryRun  = flag.Bool("dry-run", false, "Print the schema without applying it")
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS prd_requests (
	id                    UUID PRIMARY KEY,
	title                 TEXT NOT NULL,
	description           TEXT NOT NULL,
	priority              TEXT NOT NULL,
	requester_id          TEXT NOT NULL,
	requester_email       TEXT NOT NULL,
	mockup_sources        TEXT[] NOT NULL DEFAULT '{}',
	preferred_provider    TEXT,
	status                TEXT NOT NULL,
	failure_reason        TEXT,
	generated_document_id UUID,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_prd_requests_requester ON prd_requests (requester_id, created_at);

CREATE TABLE IF NOT EXISTS prd_documents (
	id                    UUID PRIMARY KEY,
	request_id            UUID NOT NULL REFERENCES prd_requests (id) ON DELETE CASCADE,
	title                 TEXT NOT NULL,
	content               TEXT NOT NULL,
	sections              JSONB NOT NULL DEFAULT '[]',
	metadata              JSONB NOT NULL DEFAULT '{}',
	confidence            DOUBLE PRECISION NOT NULL,
	generated_by          TEXT NOT NULL,
	version               INTEGER NOT NULL DEFAULT 1,
	generated_at          TIMESTAMPTZ NOT NULL,
	professional_analysis TEXT
);
CREATE INDEX IF NOT EXISTS idx_prd_documents_request ON prd_documents (request_id, version DESC);

CREATE TABLE IF NOT EXISTS mockup_uploads (
	id                  UUID PRIMARY KEY,
	request_id          UUID NOT NULL REFERENCES prd_requests (id) ON DELETE CASCADE,
	storage_path        TEXT NOT NULL,
	bucket              TEXT,
	file_name           TEXT NOT NULL,
	file_size           BIGINT NOT NULL,
	mime_type           TEXT NOT NULL,
	uploaded_at         TIMESTAMPTZ NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL,
	analysis_result     JSONB,
	analysis_confidence DOUBLE PRECISION,
	is_processed        BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_mockup_uploads_request ON mockup_uploads (request_id, uploaded_at);

CREATE TABLE IF NOT EXISTS codebase_projects (
	id                    UUID PRIMARY KEY,
	repository_url        TEXT NOT NULL,
	repository_branch     TEXT NOT NULL,
	repository_type       TEXT NOT NULL DEFAULT 'github',
	merkle_root_hash      TEXT,
	total_files           INTEGER NOT NULL DEFAULT 0,
	indexed_files         INTEGER NOT NULL DEFAULT 0,
	total_chunks          INTEGER NOT NULL DEFAULT 0,
	indexing_status       TEXT NOT NULL DEFAULT 'pending',
	indexing_progress     INTEGER NOT NULL DEFAULT 0,
	detected_languages    JSONB,
	detected_frameworks   TEXT[] NOT NULL DEFAULT '{}',
	architecture_patterns TEXT[] NOT NULL DEFAULT '{}',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (repository_url, repository_branch)
);

CREATE TABLE IF NOT EXISTS prd_codebase_links (
	id                  UUID PRIMARY KEY,
	prd_request_id      UUID NOT NULL REFERENCES prd_requests (id) ON DELETE CASCADE,
	codebase_project_id UUID NOT NULL REFERENCES codebase_projects (id) ON DELETE CASCADE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (prd_request_id, codebase_project_id)
);

CREATE TABLE IF NOT EXISTS code_files (
	id          UUID PRIMARY KEY,
	project_id  UUID NOT NULL REFERENCES codebase_projects (id) ON DELETE CASCADE,
	file_path   TEXT NOT NULL,
	file_hash   TEXT NOT NULL,
	file_size   BIGINT NOT NULL,
	language    TEXT,
	is_parsed   BOOLEAN NOT NULL DEFAULT FALSE,
	parse_error TEXT,
	UNIQUE (project_id, file_path)
);

CREATE TABLE IF NOT EXISTS code_chunks (
	id           UUID PRIMARY KEY,
	project_id   UUID NOT NULL REFERENCES codebase_projects (id) ON DELETE CASCADE,
	file_id      UUID NOT NULL REFERENCES code_files (id) ON DELETE CASCADE,
	file_path    TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	chunk_type   TEXT NOT NULL,
	language     TEXT,
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	symbols      TEXT[] NOT NULL DEFAULT '{}',
	imports      TEXT[] NOT NULL DEFAULT '{}',
	token_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_code_chunks_project ON code_chunks (project_id);
CREATE INDEX IF NOT EXISTS idx_code_chunks_file ON code_chunks (file_id);

CREATE TABLE IF NOT EXISTS code_embeddings (
	id                UUID PRIMARY KEY,
	chunk_id          UUID NOT NULL REFERENCES code_chunks (id) ON DELETE CASCADE,
	embedding         vector(1536) NOT NULL,
	model             TEXT NOT NULL,
	embedding_version INTEGER NOT NULL DEFAULT 1,
	UNIQUE (chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_code_embeddings_vector
	ON code_embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS merkle_nodes (
	id               UUID PRIMARY KEY,
	project_id       UUID NOT NULL REFERENCES codebase_projects (id) ON DELETE CASCADE,
	node_hash        TEXT NOT NULL,
	node_path        TEXT,
	is_leaf          BOOLEAN NOT NULL,
	parent_hash      TEXT,
	left_child_hash  TEXT,
	right_child_hash TEXT,
	file_id          UUID
);
CREATE INDEX IF NOT EXISTS idx_merkle_nodes_project ON merkle_nodes (project_id, is_leaf);

CREATE TABLE IF NOT EXISTS indexing_jobs (
	id                   UUID PRIMARY KEY,
	project_id           UUID NOT NULL REFERENCES codebase_projects (id) ON DELETE CASCADE,
	job_type             TEXT NOT NULL,
	status               TEXT NOT NULL,
	files_to_process     INTEGER NOT NULL DEFAULT 0,
	files_processed      INTEGER NOT NULL DEFAULT 0,
	chunks_created       INTEGER NOT NULL DEFAULT 0,
	embeddings_generated INTEGER NOT NULL DEFAULT 0,
	retry_count          INTEGER NOT NULL DEFAULT 0,
	max_retries          INTEGER NOT NULL DEFAULT 3,
	started_at           TIMESTAMPTZ,
	finished_at          TIMESTAMPTZ,
	error                TEXT,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_indexing_jobs_project ON indexing_jobs (project_id, status);
`

func main() {
	flag.Parse()

	if *dryRun {
		fmt.Print(schema)
		return
	}

	connString := *dsn
	if connString == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		connString = cfg.Database.DSN()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", connString)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema is up to date")
}
