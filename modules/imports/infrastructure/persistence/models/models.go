package models

import (
	"database/sql"
	"time"
)

type ImportJob struct {
	ID            string
	Period        int
	TotalRows     int
	ProcessedRows int
	OKRows        int
	FailedRows    int
	ResumeCursor  int
	Status        string
	Phase         string
	SourceKey     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ImportRow struct {
	JobID         string
	RowIndex      int
	RawFields     []byte
	Status        string
	ResolvedEmail sql.NullString
	ArtifactKey   sql.NullString
	ErrorCode     sql.NullString
	UpdatedAt     time.Time
}

type Receipt struct {
	Period      int
	MemberID    string
	DisplayName string
	AmountCents int64
	IssuedOn    time.Time
	ArtifactKey sql.NullString
	Status      string
	LastError   sql.NullString
	UpdatedAt   time.Time
}
