// Package purchaseorder renders approved requests into purchase-order
// workbooks handed to finance and to the vendor.
package purchaseorder

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"procurement/internal/model"
)

// Generator builds purchase-order documents from approved requests.
type Generator struct {
	companyName string
	logger      *zap.Logger
}

func NewGenerator(companyName string, logger *zap.Logger) *Generator {
	return &Generator{companyName: companyName, logger: logger}
}

// Number derives the PO number from the request id and approval date.
func Number(req *model.PurchaseRequest, approvedAt time.Time) string {
	return fmt.Sprintf("PO-%s-%s", approvedAt.Format("20060102"), req.ID.String()[:8])
}

// Build renders the request into an xlsx workbook and returns its
// bytes together with the generated PO number.
func (g *Generator) Build(req *model.PurchaseRequest, approvedAt time.Time) ([]byte, string, error) {
	poNumber := Number(req, approvedAt)

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	set := func(cell string, value interface{}) {
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			g.logger.Warn("failed to set cell", zap.String("cell", cell), zap.Error(err))
		}
	}

	set("A1", g.companyName)
	set("A2", "Purchase Order")
	set("A3", "PO Number")
	set("B3", poNumber)
	set("A4", "Date")
	set("B4", approvedAt.Format("2006-01-02"))
	set("A5", "Vendor")
	set("B5", req.Vendor)
	set("A6", "Requested By")
	set("B6", req.CreatedByEmail)
	set("A7", "Title")
	set("B7", req.Title)

	// Item table
	set("A9", "Item")
	set("B9", "Qty")
	set("C9", "Unit Price")
	set("D9", "Total")

	row := 10
	for _, item := range req.Items {
		set(fmt.Sprintf("A%d", row), item.Name)
		set(fmt.Sprintf("B%d", row), item.Qty)
		set(fmt.Sprintf("C%d", row), item.UnitPrice.StringFixed(2))
		set(fmt.Sprintf("D%d", row), item.TotalPrice.StringFixed(2))
		row++
	}

	set(fmt.Sprintf("C%d", row+1), "Grand Total")
	set(fmt.Sprintf("D%d", row+1), req.Amount.StringFixed(2))

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to write workbook: %w", err)
	}

	g.logger.Info("purchase order generated",
		zap.String("po_number", poNumber),
		zap.String("request_id", req.ID.String()))

	return buf.Bytes(), poNumber, nil
}
