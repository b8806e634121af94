package job

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusReady   Status = "READY"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

type Phase string

const (
	PhaseParsing    Phase = "PARSING"
	PhaseProcessing Phase = "PROCESSING"
)

// Job is one logical bulk-import request. It spans many scheduler
// invocations; the resume cursor is the single source of truth for where the
// next invocation continues.
//
// Invariants: 0 <= ResumeCursor <= TotalRows, ProcessedRows == ResumeCursor,
// and Status == DONE exactly when ResumeCursor == TotalRows.
type Job struct {
	ID            uuid.UUID `json:"id"`
	Period        int       `json:"period"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	OKRows        int       `json:"ok_rows"`
	FailedRows    int       `json:"failed_rows"`
	ResumeCursor  int       `json:"resume_cursor"`
	Status        Status    `json:"status"`
	Phase         Phase     `json:"phase"`
	SourceKey     string    `json:"source_key"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New creates a freshly submitted job: the source file is stored but not yet
// decoded, so the row count is unknown.
func New(period int, sourceKey string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Period:    period,
		Status:    StatusRunning,
		Phase:     PhaseParsing,
		SourceKey: sourceKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}
