package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"escrowflow/ledger"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Track(ctx context.Context, params CreateParams) (Record, error) {
	return s.repo.Create(ctx, params)
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Record, error) {
	return s.repo.List(ctx, ownerID)
}

func (s *Service) GetByAddress(ctx context.Context, ownerID string, address common.Address) (Record, error) {
	return s.repo.GetByAddress(ctx, ownerID, address)
}

func (s *Service) UpdateStatus(ctx context.Context, ownerID string, address common.Address, status ledger.Status) (Record, error) {
	return s.repo.UpdateStatus(ctx, ownerID, address, status)
}

func (s *Service) AppendEvidence(ctx context.Context, params AppendEvidenceParams) (EvidenceEntry, error) {
	return s.repo.AppendEvidence(ctx, params)
}

func (s *Service) ListEvidence(ctx context.Context, ownerID, instanceID string) ([]EvidenceEntry, error) {
	return s.repo.ListEvidence(ctx, ownerID, instanceID)
}
