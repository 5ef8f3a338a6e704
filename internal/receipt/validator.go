// Package receipt validates uploaded receipt files against the
// purchase request they settle: file kind by magic bytes, then a text
// scan of PDF receipts for the expected total and vendor name.
package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"procurement/internal/model"
)

// Kind is the detected receipt file type.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindJPEG
	KindPNG
	KindWEBP
)

// DetectKind sniffs the file's magic bytes. Only PDF, JPEG, PNG and
// WEBP receipts are accepted.
func DetectKind(content []byte) Kind {
	switch {
	case bytes.HasPrefix(content, []byte("%PDF-")):
		return KindPDF
	case bytes.HasPrefix(content, []byte{0xFF, 0xD8, 0xFF}):
		return KindJPEG
	case bytes.HasPrefix(content, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return KindPNG
	case len(content) >= 12 && bytes.Equal(content[0:4], []byte("RIFF")) && bytes.Equal(content[8:12], []byte("WEBP")):
		return KindWEBP
	default:
		return KindUnknown
	}
}

// Validator compares receipts against their purchase request.
type Validator struct {
	logger *zap.Logger
}

func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate produces the stored validation result. PDF receipts get
// their text extracted and scanned; image receipts pass with an empty
// discrepancy list since there is no text layer to compare.
func (v *Validator) Validate(req *model.PurchaseRequest, content []byte) model.ReceiptValidation {
	result := model.ReceiptValidation{
		IsValid:       true,
		ValidatedAt:   time.Now().UTC().Format(time.RFC3339),
		Discrepancies: []string{},
	}

	if DetectKind(content) != KindPDF {
		return result
	}

	text, err := extractText(content)
	if err != nil {
		v.logger.Warn("failed to extract receipt text",
			zap.String("request_id", req.ID.String()),
			zap.Error(err))
		result.IsValid = false
		result.Discrepancies = append(result.Discrepancies, "receipt text could not be read")
		return result
	}

	result.Discrepancies = CheckDiscrepancies(text, req.Amount, req.Vendor)
	result.IsValid = len(result.Discrepancies) == 0
	return result
}

// extractText pulls the text layer out of every PDF page.
func extractText(content []byte) (string, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// CheckDiscrepancies scans extracted receipt text for the request's
// total and vendor name. Pure so the comparison rules are testable
// without real PDFs.
func CheckDiscrepancies(text string, amount decimal.Decimal, vendor string) []string {
	discrepancies := []string{}
	lower := strings.ToLower(text)

	// The total may appear with or without thousands separators.
	plain := amount.StringFixed(2)
	grouped := groupThousands(plain)
	if !strings.Contains(lower, plain) && !strings.Contains(lower, grouped) {
		discrepancies = append(discrepancies, "amount mismatch")
	}

	if vendor != "" && !strings.Contains(lower, strings.ToLower(vendor)) {
		discrepancies = append(discrepancies, "vendor name not found on receipt")
	}

	return discrepancies
}

// groupThousands inserts comma separators into the integer part of a
// fixed-point decimal string, e.g. "12345.00" -> "12,345.00".
func groupThousands(s string) string {
	intPart, fracPart, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}

	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteRune(',')
		}
		sb.WriteRune(r)
	}

	out := sb.String()
	if neg {
		out = "-" + out
	}
	if fracPart != "" {
		out += "." + fracPart
	}
	return out
}
