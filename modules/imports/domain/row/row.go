package row

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
	StatusNeedsInput Status = "NEEDS_INPUT"
)

// Error codes surfaced on rows and mirrored into receipt records so the
// dashboard can show why a row failed, not just that it did.
const (
	CodeInvalidRow     = "invalid_row"
	CodeMemberNotFound = "member_not_found"
	CodeMissingEmail   = "missing_contact_email"
	CodeGeneration     = "generation_failed"
	CodeArtifactStore  = "artifact_store_failed"
)

// Row is one source record within a job. Rows are created once by the parse
// step and afterwards only transition status.
type Row struct {
	JobID         uuid.UUID `json:"job_id"`
	RowIndex      int       `json:"row_index"`
	Raw           RawRow    `json:"raw_fields"`
	Status        Status    `json:"status"`
	ResolvedEmail string    `json:"resolved_email,omitempty"`
	ArtifactKey   string    `json:"artifact_key,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RawRow carries the decoded CSV fields keyed by lower-cased header name.
type RawRow struct {
	Fields map[string]string `json:"fields"`
}

func (r RawRow) Get(name string) string {
	return r.Fields[name]
}
