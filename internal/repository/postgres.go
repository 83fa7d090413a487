package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/S-Corkum/prd-engine/internal/models"
)

// PostgresRepository implements Repository on PostgreSQL with pgvector.
// Similarity search uses the cosine distance operator; stored similarity is
// 1 - distance so higher is closer.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a repository backed by the given database
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateProject(ctx context.Context, project *models.CodebaseProject) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.IndexingStatus == "" {
		project.IndexingStatus = models.IndexingPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO codebase_projects
			(id, repository_url, repository_branch, repository_type, indexing_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		project.ID, project.RepositoryURL, project.RepositoryBranch, project.RepositoryType, project.IndexingStatus)
	if isUniqueViolation(err) {
		return models.NewErrorf(models.ErrConflict,
			"codebase %s@%s is already registered", project.RepositoryURL, project.RepositoryBranch)
	}
	if err != nil {
		return fmt.Errorf("failed to create codebase project: %w", err)
	}
	return nil
}

type projectRow struct {
	ID               uuid.UUID             `db:"id"`
	RepositoryURL    string                `db:"repository_url"`
	RepositoryBranch string                `db:"repository_branch"`
	RepositoryType   string                `db:"repository_type"`
	MerkleRootHash   sql.NullString        `db:"merkle_root_hash"`
	TotalFiles       int                   `db:"total_files"`
	IndexedFiles     int                   `db:"indexed_files"`
	TotalChunks      int                   `db:"total_chunks"`
	IndexingStatus   models.IndexingStatus `db:"indexing_status"`
	IndexingProgress int                   `db:"indexing_progress"`
	Languages        []byte                `db:"detected_languages"`
	Frameworks       pq.StringArray        `db:"detected_frameworks"`
	Patterns         pq.StringArray        `db:"architecture_patterns"`
	CreatedAt        sql.NullTime          `db:"created_at"`
	UpdatedAt        sql.NullTime          `db:"updated_at"`
}

func (row *projectRow) toModel() *models.CodebaseProject {
	project := &models.CodebaseProject{
		ID:                   row.ID,
		RepositoryURL:        row.RepositoryURL,
		RepositoryBranch:     row.RepositoryBranch,
		RepositoryType:       row.RepositoryType,
		MerkleRootHash:       row.MerkleRootHash.String,
		TotalFiles:           row.TotalFiles,
		IndexedFiles:         row.IndexedFiles,
		TotalChunks:          row.TotalChunks,
		IndexingStatus:       row.IndexingStatus,
		IndexingProgress:     row.IndexingProgress,
		DetectedFrameworks:   row.Frameworks,
		ArchitecturePatterns: row.Patterns,
		CreatedAt:            row.CreatedAt.Time,
		UpdatedAt:            row.UpdatedAt.Time,
	}
	if len(row.Languages) > 0 {
		_ = unmarshalJSON(row.Languages, &project.DetectedLanguages)
	}
	return project
}

const projectColumns = `id, repository_url, repository_branch, repository_type, merkle_root_hash,
	total_files, indexed_files, total_chunks, indexing_status, indexing_progress,
	detected_languages, detected_frameworks, architecture_patterns, created_at, updated_at`

func (r *PostgresRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.CodebaseProject, error) {
	var row projectRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+projectColumns+` FROM codebase_projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewErrorf(models.ErrNotFound, "codebase project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get codebase project: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresRepository) GetProjectByRepo(ctx context.Context, url, branch string) (*models.CodebaseProject, error) {
	var row projectRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+projectColumns+` FROM codebase_projects WHERE repository_url = $1 AND repository_branch = $2`,
		url, branch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewErrorf(models.ErrNotFound, "codebase %s@%s not found", url, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get codebase project: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresRepository) UpdateProject(ctx context.Context, project *models.CodebaseProject) error {
	languages, err := marshalJSON(project.DetectedLanguages)
	if err != nil {
		return fmt.Errorf("failed to marshal detected languages: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE codebase_projects SET
			merkle_root_hash = $2, total_files = $3, indexed_files = $4, total_chunks = $5,
			indexing_status = $6, indexing_progress = $7, detected_languages = $8,
			detected_frameworks = $9, architecture_patterns = $10, updated_at = NOW()
		WHERE id = $1`,
		project.ID, nullString(project.MerkleRootHash), project.TotalFiles, project.IndexedFiles,
		project.TotalChunks, project.IndexingStatus, project.IndexingProgress, languages,
		pq.Array(project.DetectedFrameworks), pq.Array(project.ArchitecturePatterns))
	if err != nil {
		return fmt.Errorf("failed to update codebase project: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.NewErrorf(models.ErrNotFound, "codebase project %s not found", project.ID)
	}
	return nil
}

func (r *PostgresRepository) UpsertFile(ctx context.Context, file *models.CodeFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO code_files (id, project_id, file_path, file_hash, file_size, language, is_parsed, parse_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, file_path) DO UPDATE SET
			file_hash = EXCLUDED.file_hash, file_size = EXCLUDED.file_size,
			language = EXCLUDED.language, is_parsed = EXCLUDED.is_parsed,
			parse_error = EXCLUDED.parse_error
		RETURNING id`,
		file.ID, file.ProjectID, file.FilePath, file.FileHash, file.FileSize,
		file.Language, file.IsParsed, nullString(file.ParseError)).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert code file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListFiles(ctx context.Context, projectID uuid.UUID) ([]models.CodeFile, error) {
	rows := []struct {
		ID         uuid.UUID      `db:"id"`
		ProjectID  uuid.UUID      `db:"project_id"`
		FilePath   string         `db:"file_path"`
		FileHash   string         `db:"file_hash"`
		FileSize   int64          `db:"file_size"`
		Language   sql.NullString `db:"language"`
		IsParsed   bool           `db:"is_parsed"`
		ParseError sql.NullString `db:"parse_error"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, project_id, file_path, file_hash, file_size, language, is_parsed, parse_error
		FROM code_files WHERE project_id = $1 ORDER BY file_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list code files: %w", err)
	}
	files := make([]models.CodeFile, len(rows))
	for i, row := range rows {
		files[i] = models.CodeFile{
			ID:         row.ID,
			ProjectID:  row.ProjectID,
			FilePath:   row.FilePath,
			FileHash:   row.FileHash,
			FileSize:   row.FileSize,
			Language:   row.Language.String,
			IsParsed:   row.IsParsed,
			ParseError: row.ParseError.String,
		}
	}
	return files, nil
}

func (r *PostgresRepository) DeleteFile(ctx context.Context, projectID uuid.UUID, path string) error {
	// Chunks and embeddings cascade from the file row.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM code_files WHERE project_id = $1 AND file_path = $2`, projectID, path)
	if err != nil {
		return fmt.Errorf("failed to delete code file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReplaceChunks(ctx context.Context, fileID uuid.UUID, chunks []models.CodeChunk) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM code_chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	for i := range chunks {
		if chunks[i].ID == uuid.Nil {
			chunks[i].ID = uuid.New()
		}
		chunk := chunks[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO code_chunks
				(id, project_id, file_id, file_path, content, content_hash, chunk_type,
				 language, start_line, end_line, symbols, imports, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			chunk.ID, chunk.ProjectID, chunk.FileID, chunk.FilePath, chunk.Content,
			chunk.ContentHash, chunk.ChunkType, chunk.Language, chunk.StartLine, chunk.EndLine,
			pq.Array(chunk.Symbols), pq.Array(chunk.Imports), chunk.TokenCount)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertEmbeddings(ctx context.Context, embeddings []models.CodeEmbedding) error {
	for i := range embeddings {
		emb := embeddings[i]
		if len(emb.Vector) != models.EmbeddingDimensions {
			return models.NewErrorf(models.ErrValidation,
				"embedding for chunk %s has %d dimensions, expected %d",
				emb.ChunkID, len(emb.Vector), models.EmbeddingDimensions)
		}
		if emb.ID == uuid.Nil {
			emb.ID = uuid.New()
		}
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO code_embeddings (id, chunk_id, embedding, model, embedding_version)
			VALUES ($1, $2, $3::vector, $4, $5)
			ON CONFLICT (chunk_id) DO UPDATE SET
				embedding = EXCLUDED.embedding, model = EXCLUDED.model,
				embedding_version = EXCLUDED.embedding_version`,
			emb.ID, emb.ChunkID, vectorLiteral(emb.Vector), emb.Model, emb.EmbeddingVersion)
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) SimilarChunks(ctx context.Context, projectID uuid.UUID, vector []float32, limit int, threshold float64) ([]ScoredChunk, error) {
	if len(vector) != models.EmbeddingDimensions {
		return nil, models.NewErrorf(models.ErrValidation,
			"query vector has %d dimensions, expected %d", len(vector), models.EmbeddingDimensions)
	}
	if limit <= 0 {
		limit = 10
	}

	rows := []struct {
		ID          uuid.UUID            `db:"id"`
		ProjectID   uuid.UUID            `db:"project_id"`
		FileID      uuid.UUID            `db:"file_id"`
		FilePath    string               `db:"file_path"`
		Content     string               `db:"content"`
		ContentHash string               `db:"content_hash"`
		ChunkType   models.CodeChunkType `db:"chunk_type"`
		Language    string               `db:"language"`
		StartLine   int                  `db:"start_line"`
		EndLine     int                  `db:"end_line"`
		Symbols     pq.StringArray       `db:"symbols"`
		Imports     pq.StringArray       `db:"imports"`
		TokenCount  int                  `db:"token_count"`
		Similarity  float64              `db:"similarity"`
	}{}
	// similarity = 1 - cosine distance. Tie-break on (file_path, start_line)
	// so equal scores return in a stable order.
	err := r.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.project_id, c.file_id, c.file_path, c.content, c.content_hash,
		       c.chunk_type, c.language, c.start_line, c.end_line, c.symbols, c.imports,
		       c.token_count, 1 - (e.embedding <=> $2::vector) AS similarity
		FROM code_chunks c
		JOIN code_embeddings e ON e.chunk_id = c.id
		WHERE c.project_id = $1 AND 1 - (e.embedding <=> $2::vector) > $3
		ORDER BY similarity DESC, c.file_path, c.start_line
		LIMIT $4`,
		projectID, vectorLiteral(vector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar chunks: %w", err)
	}

	scored := make([]ScoredChunk, len(rows))
	for i, row := range rows {
		scored[i] = ScoredChunk{
			Chunk: models.CodeChunk{
				ID:          row.ID,
				ProjectID:   row.ProjectID,
				FileID:      row.FileID,
				FilePath:    row.FilePath,
				Content:     row.Content,
				ContentHash: row.ContentHash,
				ChunkType:   row.ChunkType,
				Language:    row.Language,
				StartLine:   row.StartLine,
				EndLine:     row.EndLine,
				Symbols:     row.Symbols,
				Imports:     row.Imports,
				TokenCount:  row.TokenCount,
			},
			Similarity: row.Similarity,
		}
	}
	return scored, nil
}

func (r *PostgresRepository) SaveMerkleTree(ctx context.Context, projectID uuid.UUID, nodes []models.MerkleNode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM merkle_nodes WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("failed to clear merkle tree: %w", err)
	}
	for i := range nodes {
		node := nodes[i]
		if node.ID == uuid.Nil {
			node.ID = uuid.New()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO merkle_nodes
				(id, project_id, node_hash, node_path, is_leaf, parent_hash, left_child_hash, right_child_hash, file_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			node.ID, projectID, node.NodeHash, nullString(node.NodePath), node.IsLeaf,
			nullString(node.ParentHash), nullString(node.LeftChildHash),
			nullString(node.RightChildHash), node.FileID)
		if err != nil {
			return fmt.Errorf("failed to insert merkle node: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merkle tree: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LeafHashes(ctx context.Context, projectID uuid.UUID) (map[string]string, error) {
	rows := []struct {
		NodePath string `db:"node_path"`
		NodeHash string `db:"node_hash"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT node_path, node_hash FROM merkle_nodes
		WHERE project_id = $1 AND is_leaf = TRUE`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merkle leaves: %w", err)
	}
	leaves := make(map[string]string, len(rows))
	for _, row := range rows {
		leaves[row.NodePath] = row.NodeHash
	}
	return leaves, nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *models.IndexingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = models.DefaultJobMaxRetries
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO indexing_jobs
			(id, project_id, job_type, status, files_to_process, files_processed,
			 chunks_created, embeddings_generated, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		job.ID, job.ProjectID, job.JobType, job.Status, job.FilesToProcess, job.FilesProcessed,
		job.ChunksCreated, job.EmbeddingsGenerated, job.RetryCount, job.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to create indexing job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, id uuid.UUID) (*models.IndexingJob, error) {
	var row struct {
		ID                  uuid.UUID              `db:"id"`
		ProjectID           uuid.UUID              `db:"project_id"`
		JobType             models.IndexingJobType `db:"job_type"`
		Status              models.JobStatus       `db:"status"`
		FilesToProcess      int                    `db:"files_to_process"`
		FilesProcessed      int                    `db:"files_processed"`
		ChunksCreated       int                    `db:"chunks_created"`
		EmbeddingsGenerated int                    `db:"embeddings_generated"`
		RetryCount          int                    `db:"retry_count"`
		MaxRetries          int                    `db:"max_retries"`
		StartedAt           sql.NullTime           `db:"started_at"`
		FinishedAt          sql.NullTime           `db:"finished_at"`
		Error               sql.NullString         `db:"error"`
		CreatedAt           sql.NullTime           `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, project_id, job_type, status, files_to_process, files_processed,
		       chunks_created, embeddings_generated, retry_count, max_retries,
		       started_at, finished_at, error, created_at
		FROM indexing_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewErrorf(models.ErrNotFound, "indexing job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexing job: %w", err)
	}
	job := &models.IndexingJob{
		ID:                  row.ID,
		ProjectID:           row.ProjectID,
		JobType:             row.JobType,
		Status:              row.Status,
		FilesToProcess:      row.FilesToProcess,
		FilesProcessed:      row.FilesProcessed,
		ChunksCreated:       row.ChunksCreated,
		EmbeddingsGenerated: row.EmbeddingsGenerated,
		RetryCount:          row.RetryCount,
		MaxRetries:          row.MaxRetries,
		Error:               row.Error.String,
		CreatedAt:           row.CreatedAt.Time,
	}
	if row.StartedAt.Valid {
		job.StartedAt = &row.StartedAt.Time
	}
	if row.FinishedAt.Valid {
		job.FinishedAt = &row.FinishedAt.Time
	}
	return job, nil
}

func (r *PostgresRepository) UpdateJob(ctx context.Context, job *models.IndexingJob) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE indexing_jobs SET
			status = $2, files_to_process = $3, files_processed = $4, chunks_created = $5,
			embeddings_generated = $6, retry_count = $7, started_at = $8, finished_at = $9, error = $10
		WHERE id = $1`,
		job.ID, job.Status, job.FilesToProcess, job.FilesProcessed, job.ChunksCreated,
		job.EmbeddingsGenerated, job.RetryCount, job.StartedAt, job.FinishedAt, nullString(job.Error))
	if err != nil {
		return fmt.Errorf("failed to update indexing job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.NewErrorf(models.ErrNotFound, "indexing job %s not found", job.ID)
	}
	return nil
}

func (r *PostgresRepository) HasActiveJob(ctx context.Context, projectID uuid.UUID, types ...models.IndexingJobType) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM indexing_jobs
		WHERE project_id = $1 AND status IN ('queued', 'running')`
	args := []interface{}{projectID}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND job_type = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += `)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("failed to check active jobs: %w", err)
	}
	return exists, nil
}

// vectorLiteral renders a float slice in pgvector's text input format
func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
