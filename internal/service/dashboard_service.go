package service

import (
	"context"
	"fmt"

	"procurement/internal/model"
	"procurement/internal/repository"
)

// DashboardSummary aggregates purchase-request counters for the
// landing dashboard.
type DashboardSummary struct {
	TotalRequests       int64  `json:"total_requests"`
	PendingRequests     int64  `json:"pending_requests"`
	ApprovedRequests    int64  `json:"approved_requests"`
	RejectedRequests    int64  `json:"rejected_requests"`
	TotalApprovedAmount string `json:"total_approved_amount"`
}

type DashboardService interface {
	GetSummary(ctx context.Context) (*DashboardSummary, error)
}

type dashboardService struct {
	repo repository.RequestRepository
}

func NewDashboardService(repo repository.RequestRepository) DashboardService {
	return &dashboardService{repo: repo}
}

func (s *dashboardService) GetSummary(ctx context.Context) (*DashboardSummary, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	approvedAmount, err := s.repo.SumAmountByStatus(ctx, model.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to sum approved amounts: %w", err)
	}

	summary := &DashboardSummary{
		PendingRequests:     counts[model.StatusPending],
		ApprovedRequests:    counts[model.StatusApproved],
		RejectedRequests:    counts[model.StatusRejected],
		TotalApprovedAmount: approvedAmount,
	}
	summary.TotalRequests = summary.PendingRequests + summary.ApprovedRequests + summary.RejectedRequests

	return summary, nil
}
