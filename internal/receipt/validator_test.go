package receipt

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"procurement/internal/model"
)

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    Kind
	}{
		{"pdf", []byte("%PDF-1.7 rest"), KindPDF},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, KindJPEG},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, KindPNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), KindWEBP},
		{"text", []byte("just a text file"), KindUnknown},
		{"empty", nil, KindUnknown},
		{"truncated riff", []byte("RIFF"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectKind(tt.content))
		})
	}
}

func TestCheckDiscrepancies(t *testing.T) {
	amount := decimal.RequireFromString("25.00")

	t.Run("amount and vendor present", func(t *testing.T) {
		text := "ACME SUPPLIES\nInvoice\nTotal: 25.00"
		assert.Empty(t, CheckDiscrepancies(text, amount, "Acme Supplies"))
	})

	t.Run("grouped thousands accepted", func(t *testing.T) {
		big := decimal.RequireFromString("12345.00")
		text := "acme supplies total 12,345.00"
		assert.Empty(t, CheckDiscrepancies(text, big, "Acme Supplies"))
	})

	t.Run("amount missing", func(t *testing.T) {
		text := "acme supplies total 30.00"
		got := CheckDiscrepancies(text, amount, "Acme Supplies")
		assert.Equal(t, []string{"amount mismatch"}, got)
	})

	t.Run("vendor missing", func(t *testing.T) {
		text := "some other shop total 25.00"
		got := CheckDiscrepancies(text, amount, "Acme Supplies")
		assert.Equal(t, []string{"vendor name not found on receipt"}, got)
	})

	t.Run("both missing", func(t *testing.T) {
		got := CheckDiscrepancies("unrelated receipt", amount, "Acme Supplies")
		assert.Equal(t, []string{"amount mismatch", "vendor name not found on receipt"}, got)
	})

	t.Run("empty vendor is not checked", func(t *testing.T) {
		got := CheckDiscrepancies("total 25.00", amount, "")
		assert.Empty(t, got)
	})
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "25.00", groupThousands("25.00"))
	assert.Equal(t, "1,234.56", groupThousands("1234.56"))
	assert.Equal(t, "12,345,678.90", groupThousands("12345678.90"))
	assert.Equal(t, "-1,234.56", groupThousands("-1234.56"))
	assert.Equal(t, "999", groupThousands("999"))
}

func TestValidatePassesImageReceipts(t *testing.T) {
	v := NewValidator(zap.NewNop())
	req := &model.PurchaseRequest{
		Amount: decimal.RequireFromString("25.00"),
		Vendor: "Acme Supplies",
	}

	result := v.Validate(req, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00})
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Discrepancies)
	assert.NotEmpty(t, result.ValidatedAt)
}

func TestValidateFlagsUnreadablePDF(t *testing.T) {
	v := NewValidator(zap.NewNop())
	req := &model.PurchaseRequest{
		Amount: decimal.RequireFromString("25.00"),
		Vendor: "Acme Supplies",
	}

	// Claims to be a PDF but has no readable structure
	result := v.Validate(req, []byte("%PDF-1.7 garbage"))
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Discrepancies)
}
