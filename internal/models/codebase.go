package models

import (
	"time"

	"github.com/google/uuid"
)

// IndexingStatus is the lifecycle of a codebase project index
type IndexingStatus string

const (
	IndexingPending   IndexingStatus = "pending"
	IndexingRunning   IndexingStatus = "indexing"
	IndexingCompleted IndexingStatus = "completed"
	IndexingFailed    IndexingStatus = "failed"
)

// CodebaseProject is one indexed repository, unique on (url, branch)
type CodebaseProject struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	RepositoryURL        string           `json:"repository_url" db:"repository_url"`
	RepositoryBranch     string           `json:"repository_branch" db:"repository_branch"`
	RepositoryType       string           `json:"repository_type" db:"repository_type"`
	MerkleRootHash       string           `json:"merkle_root_hash,omitempty" db:"merkle_root_hash"`
	TotalFiles           int              `json:"total_files" db:"total_files"`
	IndexedFiles         int              `json:"indexed_files" db:"indexed_files"`
	TotalChunks          int              `json:"total_chunks" db:"total_chunks"`
	IndexingStatus       IndexingStatus   `json:"indexing_status" db:"indexing_status"`
	IndexingProgress     int              `json:"indexing_progress" db:"indexing_progress"`
	DetectedLanguages    map[string]int64 `json:"detected_languages,omitempty"`
	DetectedFrameworks   []string         `json:"detected_frameworks,omitempty"`
	ArchitecturePatterns []string         `json:"architecture_patterns,omitempty"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// CodeFile is a single file within an indexed project
type CodeFile struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ProjectID  uuid.UUID `json:"project_id" db:"project_id"`
	FilePath   string    `json:"file_path" db:"file_path"`
	FileHash   string    `json:"file_hash" db:"file_hash"`
	FileSize   int64     `json:"file_size" db:"file_size"`
	Language   string    `json:"language,omitempty" db:"language"`
	IsParsed   bool      `json:"is_parsed" db:"is_parsed"`
	ParseError string    `json:"parse_error,omitempty" db:"parse_error"`
}

// CodeChunkType classifies the syntactic unit a chunk covers
type CodeChunkType string

const (
	ChunkFunction  CodeChunkType = "function"
	ChunkClass     CodeChunkType = "class"
	ChunkStruct    CodeChunkType = "struct"
	ChunkEnum      CodeChunkType = "enum"
	ChunkModule    CodeChunkType = "module"
	ChunkInterface CodeChunkType = "interface"
	ChunkComment   CodeChunkType = "comment"
	ChunkOther     CodeChunkType = "other"
)

// CodeChunk is a semantically coherent slice of one source file,
// unique on (project, path, startLine, endLine)
type CodeChunk struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	ProjectID   uuid.UUID     `json:"project_id" db:"project_id"`
	FileID      uuid.UUID     `json:"file_id" db:"file_id"`
	FilePath    string        `json:"file_path" db:"file_path"`
	Content     string        `json:"content" db:"content"`
	ContentHash string        `json:"content_hash" db:"content_hash"`
	ChunkType   CodeChunkType `json:"chunk_type" db:"chunk_type"`
	Language    string        `json:"language" db:"language"`
	StartLine   int           `json:"start_line" db:"start_line"`
	EndLine     int           `json:"end_line" db:"end_line"`
	Symbols     []string      `json:"symbols,omitempty"`
	Imports     []string      `json:"imports,omitempty"`
	TokenCount  int           `json:"token_count" db:"token_count"`
}

// EmbeddingDimensions is the fixed width of chunk embeddings
const EmbeddingDimensions = 1536

// DefaultEmbeddingModel is used when no model is configured
const DefaultEmbeddingModel = "text-embedding-3-small"

// CodeEmbedding is the 1:1 vector for a chunk
type CodeEmbedding struct {
	ID               uuid.UUID `json:"id" db:"id"`
	ChunkID          uuid.UUID `json:"chunk_id" db:"chunk_id"`
	Vector           []float32 `json:"vector"`
	Model            string    `json:"model" db:"model"`
	EmbeddingVersion int       `json:"embedding_version" db:"embedding_version"`
}

// MerkleNode is one node of a project's content-address tree. Children are
// referenced by hash value, never by pointer, so no cycles are possible.
type MerkleNode struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProjectID      uuid.UUID  `json:"project_id" db:"project_id"`
	NodeHash       string     `json:"node_hash" db:"node_hash"`
	NodePath       string     `json:"node_path" db:"node_path"`
	IsLeaf         bool       `json:"is_leaf" db:"is_leaf"`
	ParentHash     string     `json:"parent_hash,omitempty" db:"parent_hash"`
	LeftChildHash  string     `json:"left_child_hash,omitempty" db:"left_child_hash"`
	RightChildHash string     `json:"right_child_hash,omitempty" db:"right_child_hash"`
	FileID         *uuid.UUID `json:"file_id,omitempty" db:"file_id"`
}

// IndexingJobType distinguishes full, incremental, and forced re-index jobs
type IndexingJobType string

const (
	JobInitialIndex      IndexingJobType = "initial_index"
	JobIncrementalUpdate IndexingJobType = "incremental_update"
	JobReIndex           IndexingJobType = "re_index"
)

// JobStatus is the queue-level lifecycle of an indexing job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// DefaultJobMaxRetries bounds transient-failure retries for a job
const DefaultJobMaxRetries = 3

// IndexingJob tracks one asynchronous indexing run
type IndexingJob struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	ProjectID           uuid.UUID       `json:"project_id" db:"project_id"`
	JobType             IndexingJobType `json:"job_type" db:"job_type"`
	Status              JobStatus       `json:"status" db:"status"`
	FilesToProcess      int             `json:"files_to_process" db:"files_to_process"`
	FilesProcessed      int             `json:"files_processed" db:"files_processed"`
	ChunksCreated       int             `json:"chunks_created" db:"chunks_created"`
	EmbeddingsGenerated int             `json:"embeddings_generated" db:"embeddings_generated"`
	RetryCount          int             `json:"retry_count" db:"retry_count"`
	MaxRetries          int             `json:"max_retries" db:"max_retries"`
	StartedAt           *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	Error               string          `json:"error,omitempty" db:"error"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// Progress derives the percentage completion of a job
func (j *IndexingJob) Progress() int {
	total := j.FilesToProcess
	if total < 1 {
		total = 1
	}
	p := 100 * j.FilesProcessed / total
	if p > 100 {
		p = 100
	}
	return p
}

// CodebaseLink associates a PRD request with an indexed codebase,
// unique on (request, project); multiple codebases per PRD are allowed
type CodebaseLink struct {
	ID        uuid.UUID `json:"id" db:"id"`
	RequestID uuid.UUID `json:"prd_request_id" db:"prd_request_id"`
	ProjectID uuid.UUID `json:"codebase_project_id" db:"codebase_project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
