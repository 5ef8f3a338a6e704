package purchaseorder

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"procurement/internal/model"
)

func sampleRequest() *model.PurchaseRequest {
	return &model.PurchaseRequest{
		ID:             uuid.New(),
		Title:          "Office laptops",
		Vendor:         "Acme Supplies",
		Amount:         decimal.RequireFromString("25.00"),
		CreatedByEmail: "staff@corp.test",
		Items: []model.PurchaseRequestItem{
			{Name: "Laptop", Qty: 2, UnitPrice: decimal.RequireFromString("10.00"), TotalPrice: decimal.RequireFromString("20.00")},
			{Name: "Mouse", Qty: 1, UnitPrice: decimal.RequireFromString("5.00"), TotalPrice: decimal.RequireFromString("5.00")},
		},
	}
}

func TestNumber(t *testing.T) {
	req := sampleRequest()
	approvedAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	got := Number(req, approvedAt)
	assert.Equal(t, "PO-20260315-"+req.ID.String()[:8], got)
}

func TestBuild(t *testing.T) {
	g := NewGenerator("Test Co", zap.NewNop())
	req := sampleRequest()
	approvedAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	content, poNumber, err := g.Build(req, approvedAt)
	require.NoError(t, err)
	assert.Equal(t, Number(req, approvedAt), poNumber)
	require.NotEmpty(t, content)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	get := func(cell string) string {
		v, err := f.GetCellValue(sheet, cell)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "Test Co", get("A1"))
	assert.Equal(t, "Purchase Order", get("A2"))
	assert.Equal(t, poNumber, get("B3"))
	assert.Equal(t, "2026-03-15", get("B4"))
	assert.Equal(t, "Acme Supplies", get("B5"))
	assert.Equal(t, "staff@corp.test", get("B6"))

	assert.Equal(t, "Laptop", get("A10"))
	assert.Equal(t, "20.00", get("D10"))
	assert.Equal(t, "Mouse", get("A11"))

	assert.Equal(t, "Grand Total", get("C13"))
	assert.Equal(t, "25.00", get("D13"))
}
