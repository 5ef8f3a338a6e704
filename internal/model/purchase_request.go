package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PurchaseRequestStatus enum constants. Transitions are forward-only:
// PENDING -> APPROVED or PENDING -> REJECTED, never back.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// PurchaseRequest is a staff-submitted request to buy goods/services.
// Amount always equals the sum of item total prices at submission time.
type PurchaseRequest struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title          string          `gorm:"type:varchar(255);not null" json:"title"`
	Vendor         string          `gorm:"type:varchar(255);not null" json:"vendor"`
	Description    string          `gorm:"type:text" json:"description"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	Status         string          `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CreatedByID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"created_by_id"`
	CreatedBy      *User           `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	CreatedByEmail string          `gorm:"type:varchar(255);not null;index" json:"created_by_email"`
	LastApprovedBy *string         `gorm:"type:varchar(255)" json:"last_approved_by"`

	// Attachments. Proforma is uploaded at creation, the purchase order
	// is generated server-side on approval, the receipt arrives last.
	Proforma      *string `gorm:"type:text" json:"proforma"`
	PurchaseOrder *string `gorm:"type:text" json:"purchase_order"`
	Receipt       *string `gorm:"type:text" json:"receipt"`

	ReceiptValidation *ReceiptValidation `gorm:"serializer:json" json:"receipt_validation"`

	Items     []PurchaseRequestItem     `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"items"`
	Approvals []PurchaseRequestApproval `gorm:"foreignKey:PurchaseRequestID;constraint:OnDelete:CASCADE" json:"approvals"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PurchaseRequest) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PurchaseRequestItem is one line of a request. Immutable once the
// request leaves PENDING.
type PurchaseRequestItem struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	Name              string          `gorm:"type:varchar(255);not null" json:"name"`
	Qty               int             `gorm:"not null" json:"qty"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	TotalPrice        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_price"` // qty * unit_price
	Position          int             `gorm:"not null" json:"-"`                              // preserves submission order
}

func (i *PurchaseRequestItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// PurchaseRequestApproval is an append-only record of one approver's
// decision. Rows are never updated or deleted. The unique index on
// (request, approver) enforces one decision per approver at the
// database level.
type PurchaseRequestApproval struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PurchaseRequestID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_request_approver" json:"-"`
	Approver          string    `gorm:"type:varchar(255);not null;uniqueIndex:uniq_request_approver" json:"approver"` // approver email
	Level             int       `gorm:"not null" json:"level"`
	Approved          bool      `gorm:"not null" json:"approved"`
	Comment           string    `gorm:"type:text" json:"comment"`
	CreatedAt         time.Time `json:"created_at"`
}

func (a *PurchaseRequestApproval) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// ReceiptValidation is the backend-computed comparison between an
// uploaded receipt and the request it settles. Stored as JSON on the
// request row.
type ReceiptValidation struct {
	IsValid       bool     `json:"is_valid"`
	ValidatedAt   string   `json:"validated_at"` // RFC3339
	Discrepancies []string `json:"discrepancies"`
}
