package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procurement/internal/model"
)

// RequestFilter narrows the request listing. Zero values mean "no
// constraint" for that dimension.
type RequestFilter struct {
	Status        string // exact status match
	CreatedBy     string // owner email
	ApproverQueue string // approver email: PENDING plus rows this email acted on
	Page          int
	Limit         int
}

// RequestRepository defines data access for purchase requests. Items
// and approvals always travel with the request.
type RequestRepository interface {
	Create(ctx context.Context, req *model.PurchaseRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	List(ctx context.Context, filter RequestFilter) ([]model.PurchaseRequest, int64, error)
	Save(ctx context.Context, req *model.PurchaseRequest) error
	AppendApproval(ctx context.Context, approval *model.PurchaseRequestApproval) error
	ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.PurchaseRequestItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
	SumAmountByStatus(ctx context.Context, status string) (string, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.PurchaseRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	var req model.PurchaseRequest
	err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindByIDForUpdate locks the request row for the rest of the
// transaction, so concurrent decisions on the same request serialize
// and each sees the approvals the previous one committed.
func (r *requestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	var req model.PurchaseRequest
	err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) applyFilter(db *gorm.DB, filter RequestFilter) *gorm.DB {
	query := db.Model(&model.PurchaseRequest{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedBy != "" {
		query = query.Where("created_by_email = ?", filter.CreatedBy)
	}
	if filter.ApproverQueue != "" {
		query = query.Where(
			"status = ? OR id IN (SELECT purchase_request_id FROM purchase_request_approvals WHERE approver = ?)",
			model.StatusPending, filter.ApproverQueue,
		)
	}
	return query
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter) ([]model.PurchaseRequest, int64, error) {
	db := GetDB(ctx, r.db)

	var total int64
	if err := r.applyFilter(db, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var requests []model.PurchaseRequest
	err := r.applyFilter(db, filter).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) Save(ctx context.Context, req *model.PurchaseRequest) error {
	// Omit associations: items and approvals have their own write paths
	return GetDB(ctx, r.db).Omit("Items", "Approvals", "CreatedBy").Save(req).Error
}

func (r *requestRepository) AppendApproval(ctx context.Context, approval *model.PurchaseRequestApproval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *requestRepository) ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.PurchaseRequestItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("purchase_request_id = ?", requestID).Delete(&model.PurchaseRequestItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].PurchaseRequestID = requestID
		items[i].Position = i
	}
	return db.Create(&items).Error
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("purchase_request_id = ?", id).Delete(&model.PurchaseRequestItem{}).Error; err != nil {
		return err
	}
	if err := db.Where("purchase_request_id = ?", id).Delete(&model.PurchaseRequestApproval{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.PurchaseRequest{}, "id = ?", id).Error
}

func (r *requestRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := GetDB(ctx, r.db).
		Model(&model.PurchaseRequest{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}

func (r *requestRepository) SumAmountByStatus(ctx context.Context, status string) (string, error) {
	var sum *string
	err := GetDB(ctx, r.db).
		Model(&model.PurchaseRequest{}).
		Where("status = ?", status).
		Select("CAST(COALESCE(SUM(amount), 0) AS TEXT)").
		Scan(&sum).Error
	if err != nil {
		return "0", err
	}
	if sum == nil {
		return "0", nil
	}
	return *sum, nil
}
