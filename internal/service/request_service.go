package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"procurement/internal/model"
	"procurement/internal/purchaseorder"
	"procurement/internal/receipt"
	"procurement/internal/repository"
	"procurement/internal/storage"
	"procurement/internal/workflow"
)

// Sentinel errors the handler maps onto HTTP status codes.
var (
	ErrValidation      = errors.New("invalid purchase request")
	ErrRequestNotFound = errors.New("purchase request not found")
	ErrForbidden       = errors.New("you do not have permission to perform this action on this request")
	ErrNotPending      = errors.New("purchase request is no longer pending")
	ErrAlreadyActed    = errors.New("you have already acted on this request")
	ErrNotApprover     = errors.New("only approvers can decide on requests")
	ErrCannotDelete    = errors.New("only pending requests without approvals can be deleted")
	ErrReceiptBlocked  = errors.New("a receipt can only be submitted for an approved request without one")
	ErrBadFileType     = errors.New("unsupported file type: PDF, JPEG, PNG or WEBP required")
)

// Actor identifies the authenticated caller, taken from JWT claims.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  string
}

// UploadedFile is a multipart file read into memory by the handler.
type UploadedFile struct {
	Name    string
	Content []byte
}

type RequestItemInput struct {
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type CreateRequestInput struct {
	Title       string
	Vendor      string
	Description string
	Amount      string
	Items       []RequestItemInput
	Proforma    *UploadedFile
}

type UpdateRequestInput struct {
	Title       string             `json:"title"`
	Vendor      string             `json:"vendor"`
	Description string             `json:"description"`
	Items       []RequestItemInput `json:"items"`
}

// --- Response DTOs, shaped for the client ---

type RequestItemResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	UnitPrice  string `json:"unit_price"`
	TotalPrice string `json:"total_price"`
}

type ApprovalResponse struct {
	ID        string `json:"id"`
	Approver  string `json:"approver"`
	Level     int    `json:"level"`
	Approved  bool   `json:"approved"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

type RequestResponse struct {
	ID                string                    `json:"id"`
	Title             string                    `json:"title"`
	Vendor            string                    `json:"vendor"`
	Description       string                    `json:"description"`
	Amount            string                    `json:"amount"`
	Status            string                    `json:"status"`
	CreatedBy         string                    `json:"created_by"`
	LastApprovedBy    *string                   `json:"last_approved_by"`
	Proforma          *string                   `json:"proforma"`
	PurchaseOrder     *string                   `json:"purchase_order"`
	Receipt           *string                   `json:"receipt"`
	ReceiptValidation *model.ReceiptValidation  `json:"receipt_validation"`
	ItemsDisplay      []RequestItemResponse     `json:"items_display"`
	Approvals         []ApprovalResponse        `json:"approvals"`
	CreatedAt         string                    `json:"created_at"`
	UpdatedAt         string                    `json:"updated_at"`
}

// EventPublisher pushes lifecycle events to connected dashboards.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// RequestService implements the purchase-request workflow.
type RequestService interface {
	Create(ctx context.Context, actor Actor, in CreateRequestInput) (*RequestResponse, error)
	List(ctx context.Context, actor Actor, status string, page, limit int) ([]RequestResponse, int64, error)
	Get(ctx context.Context, actor Actor, id string) (*RequestResponse, error)
	Update(ctx context.Context, actor Actor, id string, in UpdateRequestInput) (*RequestResponse, error)
	Approve(ctx context.Context, actor Actor, id, comments string) (*RequestResponse, error)
	Reject(ctx context.Context, actor Actor, id, comments string) (*RequestResponse, error)
	SubmitReceipt(ctx context.Context, actor Actor, id string, file UploadedFile) (*RequestResponse, error)
	Delete(ctx context.Context, actor Actor, id string) error
}

type requestService struct {
	repo      repository.RequestRepository
	audits    repository.AuditRepository
	txm       repository.TransactionManager
	store     storage.FileStore
	generator *purchaseorder.Generator
	validator *receipt.Validator
	events    EventPublisher
	logger    *zap.Logger
}

func NewRequestService(
	repo repository.RequestRepository,
	audits repository.AuditRepository,
	txm repository.TransactionManager,
	store storage.FileStore,
	generator *purchaseorder.Generator,
	validator *receipt.Validator,
	events EventPublisher,
	logger *zap.Logger,
) RequestService {
	return &requestService{
		repo:      repo,
		audits:    audits,
		txm:       txm,
		store:     store,
		generator: generator,
		validator: validator,
		events:    events,
		logger:    logger,
	}
}

// buildItems validates and converts item inputs, preserving order.
func buildItems(inputs []RequestItemInput) ([]model.PurchaseRequestItem, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	items := make([]model.PurchaseRequestItem, 0, len(inputs))
	for i, in := range inputs {
		if in.Name == "" {
			return nil, fmt.Errorf("%w: item %d: name is required", ErrValidation, i+1)
		}
		if in.Qty <= 0 {
			return nil, fmt.Errorf("%w: item %d: qty must be positive", ErrValidation, i+1)
		}
		price, err := decimal.NewFromString(in.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: invalid unit_price %q", ErrValidation, i+1, in.UnitPrice)
		}
		if price.IsNegative() || price.IsZero() {
			return nil, fmt.Errorf("%w: item %d: unit_price must be positive", ErrValidation, i+1)
		}
		items = append(items, model.PurchaseRequestItem{
			Name:       in.Name,
			Qty:        in.Qty,
			UnitPrice:  price,
			TotalPrice: price.Mul(decimal.NewFromInt(int64(in.Qty))),
			Position:   i,
		})
	}
	return items, nil
}

func (s *requestService) Create(ctx context.Context, actor Actor, in CreateRequestInput) (*RequestResponse, error) {
	if in.Title == "" || in.Vendor == "" {
		return nil, fmt.Errorf("%w: title and vendor are required", ErrValidation)
	}

	items, err := buildItems(in.Items)
	if err != nil {
		return nil, err
	}

	amount := workflow.ComputeAmount(items)
	if in.Amount != "" {
		declared, parseErr := decimal.NewFromString(in.Amount)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: invalid amount %q", ErrValidation, in.Amount)
		}
		if !declared.Equal(amount) {
			return nil, fmt.Errorf("%w: amount %s does not match item totals %s", ErrValidation, declared.StringFixed(2), amount.StringFixed(2))
		}
	}

	req := &model.PurchaseRequest{
		Title:          in.Title,
		Vendor:         in.Vendor,
		Description:    in.Description,
		Amount:         amount,
		Status:         model.StatusPending,
		CreatedByID:    actor.ID,
		CreatedByEmail: actor.Email,
		Items:          items,
	}

	if in.Proforma != nil {
		if receipt.DetectKind(in.Proforma.Content) == receipt.KindUnknown {
			return nil, ErrBadFileType
		}
		url, saveErr := s.store.Save("proforma", in.Proforma.Name, in.Proforma.Content)
		if saveErr != nil {
			return nil, fmt.Errorf("failed to store proforma: %w", saveErr)
		}
		req.Proforma = &url
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.repo.Create(txCtx, req); createErr != nil {
			return fmt.Errorf("failed to create purchase request: %w", createErr)
		}
		return s.writeAudit(txCtx, actor, model.ActionCreateRequest, req, map[string]interface{}{
			"amount": amount.StringFixed(2),
			"items":  len(items),
		})
	})
	if err != nil {
		if req.Proforma != nil {
			s.discard(*req.Proforma)
		}
		return nil, err
	}

	s.publish("request.created", req.ID)
	return s.reload(ctx, req.ID)
}

func (s *requestService) List(ctx context.Context, actor Actor, status string, page, limit int) ([]RequestResponse, int64, error) {
	filter := repository.RequestFilter{Status: status, Page: page, Limit: limit}

	// Role determines visibility: staff see their own requests,
	// approvers see their queue, finance sees everything. A status
	// filter narrows within that scope, never widens it.
	switch actor.Role {
	case model.RoleStaff:
		filter.CreatedBy = actor.Email
	case model.RoleApproverL1, model.RoleApproverL2:
		filter.ApproverQueue = actor.Email
	case model.RoleFinance:
		// no extra constraint
	}

	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchase requests: %w", err)
	}

	results := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		results = append(results, toRequestResponse(&requests[i]))
	}
	return results, total, nil
}

func (s *requestService) Get(ctx context.Context, actor Actor, id string) (*RequestResponse, error) {
	req, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == model.RoleStaff && req.CreatedByEmail != actor.Email {
		return nil, ErrForbidden
	}
	resp := toRequestResponse(req)
	return &resp, nil
}

func (s *requestService) Update(ctx context.Context, actor Actor, id string, in UpdateRequestInput) (*RequestResponse, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRequestNotFound
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		req, findErr := s.repo.FindByIDForUpdate(txCtx, reqID)
		if findErr != nil {
			return ErrRequestNotFound
		}
		if req.CreatedByEmail != actor.Email {
			return ErrForbidden
		}
		if !workflow.CanUpdate(*req) {
			return ErrNotPending
		}

		if in.Title != "" {
			req.Title = in.Title
		}
		if in.Vendor != "" {
			req.Vendor = in.Vendor
		}
		if in.Description != "" {
			req.Description = in.Description
		}

		if len(in.Items) > 0 {
			items, itemsErr := buildItems(in.Items)
			if itemsErr != nil {
				return itemsErr
			}
			if replaceErr := s.repo.ReplaceItems(txCtx, req.ID, items); replaceErr != nil {
				return fmt.Errorf("failed to replace items: %w", replaceErr)
			}
			req.Amount = workflow.ComputeAmount(items)
		}

		if saveErr := s.repo.Save(txCtx, req); saveErr != nil {
			return fmt.Errorf("failed to update purchase request: %w", saveErr)
		}
		return s.writeAudit(txCtx, actor, model.ActionUpdateRequest, req, map[string]interface{}{
			"amount": req.Amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, reqID)
}

func (s *requestService) Approve(ctx context.Context, actor Actor, id, comments string) (*RequestResponse, error) {
	return s.decide(ctx, actor, id, comments, true)
}

func (s *requestService) Reject(ctx context.Context, actor Actor, id, comments string) (*RequestResponse, error) {
	return s.decide(ctx, actor, id, comments, false)
}

// decide appends one approval record and derives the new status. A
// rejection finalizes the request; approval needs both levels.
func (s *requestService) decide(ctx context.Context, actor Actor, id, comments string, approved bool) (*RequestResponse, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRequestNotFound
	}

	level := workflow.ApproverLevel(actor.Role)
	if level == 0 {
		return nil, ErrNotApprover
	}

	var newStatus string
	var storedPO string
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		// Row lock so concurrent decisions serialize: the second
		// approver must see the first one's committed record when
		// deriving the status.
		req, findErr := s.repo.FindByIDForUpdate(txCtx, reqID)
		if findErr != nil {
			return ErrRequestNotFound
		}
		if req.Status != model.StatusPending {
			return ErrNotPending
		}
		if workflow.HasUserActed(req.Approvals, actor.Email).Acted {
			return ErrAlreadyActed
		}

		record := model.PurchaseRequestApproval{
			PurchaseRequestID: req.ID,
			Approver:          actor.Email,
			Level:             level,
			Approved:          approved,
			Comment:           comments,
		}
		if appendErr := s.repo.AppendApproval(txCtx, &record); appendErr != nil {
			return fmt.Errorf("failed to record approval: %w", appendErr)
		}

		req.Approvals = append(req.Approvals, record)
		newStatus = workflow.ResolveStatus(req.Approvals)
		req.Status = newStatus
		if approved {
			req.LastApprovedBy = &actor.Email
		}

		if newStatus == model.StatusApproved {
			if poErr := s.attachPurchaseOrder(req); poErr != nil {
				return poErr
			}
			storedPO = *req.PurchaseOrder
		}

		if saveErr := s.repo.Save(txCtx, req); saveErr != nil {
			return fmt.Errorf("failed to update purchase request: %w", saveErr)
		}

		action := model.ActionApproveRequest
		if !approved {
			action = model.ActionRejectRequest
		}
		return s.writeAudit(txCtx, actor, action, req, map[string]interface{}{
			"level":    level,
			"comments": comments,
			"status":   newStatus,
		})
	})
	if err != nil {
		if storedPO != "" {
			s.discard(storedPO)
		}
		return nil, err
	}

	switch newStatus {
	case model.StatusApproved:
		s.publish("request.approved", reqID)
	case model.StatusRejected:
		s.publish("request.rejected", reqID)
	default:
		s.publish("request.decision", reqID)
	}

	return s.reload(ctx, reqID)
}

// attachPurchaseOrder generates the PO workbook and stores it.
func (s *requestService) attachPurchaseOrder(req *model.PurchaseRequest) error {
	now := time.Now()
	content, poNumber, err := s.generator.Build(req, now)
	if err != nil {
		return fmt.Errorf("failed to generate purchase order: %w", err)
	}
	url, err := s.store.Save("purchase-orders", poNumber+".xlsx", content)
	if err != nil {
		return fmt.Errorf("failed to store purchase order: %w", err)
	}
	req.PurchaseOrder = &url
	return nil
}

func (s *requestService) SubmitReceipt(ctx context.Context, actor Actor, id string, file UploadedFile) (*RequestResponse, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRequestNotFound
	}

	if receipt.DetectKind(file.Content) == receipt.KindUnknown {
		return nil, ErrBadFileType
	}

	var storedReceipt string
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		req, findErr := s.repo.FindByIDForUpdate(txCtx, reqID)
		if findErr != nil {
			return ErrRequestNotFound
		}
		if req.CreatedByEmail != actor.Email {
			return ErrForbidden
		}
		if !workflow.CanSubmitReceipt(*req) {
			return ErrReceiptBlocked
		}

		url, saveErr := s.store.Save("receipts", file.Name, file.Content)
		if saveErr != nil {
			return fmt.Errorf("failed to store receipt: %w", saveErr)
		}
		storedReceipt = url
		req.Receipt = &url

		validation := s.validator.Validate(req, file.Content)
		req.ReceiptValidation = &validation

		if saveErr := s.repo.Save(txCtx, req); saveErr != nil {
			return fmt.Errorf("failed to update purchase request: %w", saveErr)
		}
		return s.writeAudit(txCtx, actor, model.ActionSubmitReceipt, req, map[string]interface{}{
			"is_valid":      validation.IsValid,
			"discrepancies": validation.Discrepancies,
		})
	})
	if err != nil {
		if storedReceipt != "" {
			s.discard(storedReceipt)
		}
		return nil, err
	}

	s.publish("request.receipt", reqID)
	return s.reload(ctx, reqID)
}

func (s *requestService) Delete(ctx context.Context, actor Actor, id string) error {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return ErrRequestNotFound
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		req, findErr := s.repo.FindByIDForUpdate(txCtx, reqID)
		if findErr != nil {
			return ErrRequestNotFound
		}
		if req.CreatedByEmail != actor.Email {
			return ErrForbidden
		}
		if !workflow.CanDelete(*req) {
			return ErrCannotDelete
		}

		if delErr := s.repo.Delete(txCtx, req.ID); delErr != nil {
			return fmt.Errorf("failed to delete purchase request: %w", delErr)
		}
		return s.writeAudit(txCtx, actor, model.ActionDeleteRequest, req, nil)
	})
	if err != nil {
		return err
	}

	s.publish("request.deleted", reqID)
	return nil
}

// --- Helpers ---

func (s *requestService) find(ctx context.Context, id string) (*model.PurchaseRequest, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRequestNotFound
	}
	req, err := s.repo.FindByID(ctx, reqID)
	if err != nil {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (s *requestService) reload(ctx context.Context, id uuid.UUID) (*RequestResponse, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload purchase request: %w", err)
	}
	resp := toRequestResponse(req)
	return &resp, nil
}

func (s *requestService) writeAudit(ctx context.Context, actor Actor, action string, req *model.PurchaseRequest, details map[string]interface{}) error {
	payload := ""
	if details != nil {
		raw, _ := json.Marshal(details)
		payload = string(raw)
	}
	actorID := actor.ID
	entry := &model.AuditLog{
		UserID:     &actorID,
		Action:     action,
		EntityID:   req.ID.String(),
		EntityName: req.Title,
		Details:    payload,
	}
	if err := s.audits.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// discard removes a stored file whose transaction rolled back.
func (s *requestService) discard(url string) {
	if err := s.store.Remove(url); err != nil {
		s.logger.Warn("failed to remove orphaned file",
			zap.String("url", url),
			zap.Error(err))
	}
}

func (s *requestService) publish(eventType string, id uuid.UUID) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventType, map[string]string{"id": id.String()})
}

func toRequestResponse(req *model.PurchaseRequest) RequestResponse {
	items := make([]RequestItemResponse, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, RequestItemResponse{
			ID:         it.ID.String(),
			Name:       it.Name,
			Qty:        it.Qty,
			UnitPrice:  it.UnitPrice.StringFixed(2),
			TotalPrice: it.TotalPrice.StringFixed(2),
		})
	}

	approvals := make([]ApprovalResponse, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		approvals = append(approvals, ApprovalResponse{
			ID:        a.ID.String(),
			Approver:  a.Approver,
			Level:     a.Level,
			Approved:  a.Approved,
			Comment:   a.Comment,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}

	return RequestResponse{
		ID:                req.ID.String(),
		Title:             req.Title,
		Vendor:            req.Vendor,
		Description:       req.Description,
		Amount:            req.Amount.StringFixed(2),
		Status:            req.Status,
		CreatedBy:         req.CreatedByEmail,
		LastApprovedBy:    req.LastApprovedBy,
		Proforma:          req.Proforma,
		PurchaseOrder:     req.PurchaseOrder,
		Receipt:           req.Receipt,
		ReceiptValidation: req.ReceiptValidation,
		ItemsDisplay:      items,
		Approvals:         approvals,
		CreatedAt:         req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         req.UpdatedAt.Format(time.RFC3339),
	}
}
