// Package workflow holds the pure approval-workflow rules for purchase
// requests. Everything here is a function over (request, user) with no
// I/O, so the rules stay testable independently of handlers and GORM.
package workflow

import (
	"strings"

	"github.com/shopspring/decimal"

	"procurement/internal/model"
)

// ApproverLevel returns the approval level a role decides at, or 0 for
// roles that cannot approve.
func ApproverLevel(role string) int {
	switch role {
	case model.RoleApproverL1:
		return 1
	case model.RoleApproverL2:
		return 2
	default:
		return 0
	}
}

// ActionResult reports whether a user already decided on a request.
type ActionResult struct {
	Acted    bool
	Approved bool
}

// HasUserActed scans the approval records for the first entry whose
// approver matches the given email (case-insensitive).
func HasUserActed(approvals []model.PurchaseRequestApproval, email string) ActionResult {
	for _, a := range approvals {
		if strings.EqualFold(a.Approver, email) {
			return ActionResult{Acted: true, Approved: a.Approved}
		}
	}
	return ActionResult{}
}

// ResolveStatus derives the request status from its approval records.
// Any rejection is terminal. Approval needs consensus: one approving
// record at level 1 and one at level 2.
func ResolveStatus(approvals []model.PurchaseRequestApproval) string {
	levels := map[int]bool{}
	for _, a := range approvals {
		if !a.Approved {
			return model.StatusRejected
		}
		levels[a.Level] = true
	}
	if levels[1] && levels[2] {
		return model.StatusApproved
	}
	return model.StatusPending
}

// RelevantForApprover reports whether a request belongs in an
// approver's queue: still pending, or already decided by that approver
// (reviewers keep seeing items they acted on).
func RelevantForApprover(req model.PurchaseRequest, email string) bool {
	if req.Status == model.StatusPending {
		return true
	}
	return HasUserActed(req.Approvals, email).Acted
}

// CanDelete permits deletion only while the request is pending and no
// approver has acted on it yet.
func CanDelete(req model.PurchaseRequest) bool {
	return req.Status == model.StatusPending && len(req.Approvals) == 0
}

// CanUpdate permits edits only while the request is still pending.
func CanUpdate(req model.PurchaseRequest) bool {
	return req.Status == model.StatusPending
}

// CanSubmitReceipt permits a receipt upload once the request is
// approved and no receipt exists yet. Re-upload is never offered.
func CanSubmitReceipt(req model.PurchaseRequest) bool {
	return req.Status == model.StatusApproved && req.Receipt == nil
}

// ComputeAmount sums qty x unit_price over the line items.
func ComputeAmount(items []model.PurchaseRequestItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
	}
	return total
}
