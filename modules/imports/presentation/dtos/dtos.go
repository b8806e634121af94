package dtos

import (
	"time"

	"github.com/google/uuid"

	"github.com/fundflow/receipts/modules/imports/domain/job"
	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/domain/row"
)

type SubmitResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Period    int       `json:"period"`
	TotalRows int       `json:"total_rows"`
}

type JobResponse struct {
	ID            uuid.UUID `json:"id"`
	Period        int       `json:"period"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	OKRows        int       `json:"ok_rows"`
	FailedRows    int       `json:"failed_rows"`
	ResumeCursor  int       `json:"resume_cursor"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase"`
	SourceKey     string    `json:"source_key"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func JobToResponse(j *job.Job) *JobResponse {
	return &JobResponse{
		ID:            j.ID,
		Period:        j.Period,
		TotalRows:     j.TotalRows,
		ProcessedRows: j.ProcessedRows,
		OKRows:        j.OKRows,
		FailedRows:    j.FailedRows,
		ResumeCursor:  j.ResumeCursor,
		Status:        string(j.Status),
		Phase:         string(j.Phase),
		SourceKey:     j.SourceKey,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

type RowResponse struct {
	RowIndex      int               `json:"row_index"`
	Status        string            `json:"status"`
	RawFields     map[string]string `json:"raw_fields"`
	ResolvedEmail string            `json:"resolved_email,omitempty"`
	ArtifactKey   string            `json:"artifact_key,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func RowsToResponse(rows []*row.Row) []*RowResponse {
	out := make([]*RowResponse, len(rows))
	for i, r := range rows {
		out[i] = &RowResponse{
			RowIndex:      r.RowIndex,
			Status:        string(r.Status),
			RawFields:     r.Raw.Fields,
			ResolvedEmail: r.ResolvedEmail,
			ArtifactKey:   r.ArtifactKey,
			ErrorCode:     r.ErrorCode,
			UpdatedAt:     r.UpdatedAt,
		}
	}
	return out
}

type ReceiptResponse struct {
	Period      int       `json:"period"`
	MemberID    string    `json:"member_id"`
	DisplayName string    `json:"display_name"`
	AmountCents int64     `json:"amount_cents"`
	IssuedOn    time.Time `json:"issued_on"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Status      string    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ReceiptToResponse(r *receipt.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		Period:      r.Period,
		MemberID:    r.MemberID,
		DisplayName: r.DisplayName,
		AmountCents: r.AmountCents,
		IssuedOn:    r.IssuedOn,
		ArtifactKey: r.ArtifactKey,
		Status:      string(r.Status),
		LastError:   r.LastError,
		UpdatedAt:   r.UpdatedAt,
	}
}

func ReceiptsToResponse(receipts []*receipt.Receipt) []*ReceiptResponse {
	out := make([]*ReceiptResponse, len(receipts))
	for i, r := range receipts {
		out[i] = ReceiptToResponse(r)
	}
	return out
}
