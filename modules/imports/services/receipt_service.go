package services

import (
	"context"
	"io"

	"github.com/fundflow/receipts/modules/imports/domain/receipt"
	"github.com/fundflow/receipts/modules/imports/infrastructure/blob"
)

// ReceiptService exposes the durable receipt facts to readers: the dashboard,
// notification senders and the document download endpoint.
type ReceiptService struct {
	receipts receipt.Repository
	storage  blob.Storage
}

func NewReceiptService(receipts receipt.Repository, storage blob.Storage) *ReceiptService {
	return &ReceiptService{receipts: receipts, storage: storage}
}

func (s *ReceiptService) GetByKey(ctx context.Context, period int, memberID string) (*receipt.Receipt, error) {
	return s.receipts.GetByKey(ctx, period, memberID)
}

func (s *ReceiptService) FindByPeriod(ctx context.Context, period int) ([]*receipt.Receipt, error) {
	return s.receipts.FindByPeriod(ctx, period)
}

// Document streams the generated artifact. The path is derived from the key,
// so a document survives even if its job history was cleaned up.
func (s *ReceiptService) Document(ctx context.Context, period int, memberID string) (io.ReadCloser, error) {
	rec, err := s.receipts.GetByKey(ctx, period, memberID)
	if err != nil {
		return nil, err
	}
	key := rec.ArtifactKey
	if key == "" {
		key = receipt.ArtifactKey(period, memberID)
	}
	return s.storage.Open(ctx, key)
}
