package receipt

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusIssued         Status = "issued"
	StatusFailed         Status = "failed"
	StatusMissingContact Status = "missing_contact"
)

// Receipt is the durable, job-independent fact keyed by (period, member).
// Later imports for the same key overwrite earlier ones, which makes re-runs
// and manual repair idempotent.
type Receipt struct {
	Period      int       `json:"period"`
	MemberID    string    `json:"member_id"`
	DisplayName string    `json:"display_name"`
	AmountCents int64     `json:"amount_cents"`
	IssuedOn    time.Time `json:"issued_on"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Status      Status    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ArtifactKey is the object-store path for a receipt document. The path is a
// pure function of the key, so documents are retrievable without consulting
// job history.
func ArtifactKey(period int, memberID string) string {
	return fmt.Sprintf("receipts/%d/%s.pdf", period, memberID)
}
