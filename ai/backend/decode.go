package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Prompts shared by every model-backed adapter. Both ask for a single JSON object.
const (
	TransactionPrompt = `You extract a single financial transaction from the user's text.
Reply with one JSON object and nothing else:
{"description": string, "merchant": string, "amount": number, "currency": ISO-4217 string,
 "category": string, "type": "expense"|"income", "date": "YYYY-MM-DD" or "", "confidence": number 0-1}`

	ReceiptPrompt = `You read the attached receipt image.
Reply with one JSON object and nothing else:
{"merchant": string, "date": "YYYY-MM-DD" or "", "total": number, "subtotal": number, "tax": number,
 "currency": ISO-4217 string, "category": string,
 "items": [{"name": string, "quantity": number, "price": number}], "confidence": number 0-1}`
)

const dateLayout = "2006-01-02"

type transactionPayload struct {
	Description string   `json:"description"`
	Merchant    string   `json:"merchant"`
	Amount      float64  `json:"amount"`
	Currency    string   `json:"currency"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Date        string   `json:"date"`
	Confidence  *float64 `json:"confidence"`
}

type receiptPayload struct {
	Merchant   string        `json:"merchant"`
	Date       string        `json:"date"`
	Total      float64       `json:"total"`
	Subtotal   float64       `json:"subtotal"`
	Tax        float64       `json:"tax"`
	Currency   string        `json:"currency"`
	Category   string        `json:"category"`
	Items      []ReceiptItem `json:"items"`
	Confidence *float64      `json:"confidence"`
}

// DecodeTransaction parses a model reply into a ParsedTransaction and its self-reported confidence.
func DecodeTransaction(raw string) (ParsedTransaction, *float64, error) {
	var p transactionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return ParsedTransaction{}, nil, fmt.Errorf("decode transaction: %w", err)
	}
	tx := ParsedTransaction{
		Description: p.Description,
		Merchant:    p.Merchant,
		Amount:      p.Amount,
		Currency:    strings.ToUpper(p.Currency),
		Category:    p.Category,
		Type:        TransactionExpense,
		Date:        parseDate(p.Date),
	}
	if strings.EqualFold(p.Type, string(TransactionIncome)) {
		tx.Type = TransactionIncome
	}
	return tx, clampPtr(p.Confidence), nil
}

// DecodeReceipt parses a model reply into an ExtractedReceipt. A missing confidence
// defaults to fallbackConfidence.
func DecodeReceipt(raw string, fallbackConfidence float64) (ExtractedReceipt, error) {
	var p receiptPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return ExtractedReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	r := ExtractedReceipt{
		Merchant:   p.Merchant,
		Date:       parseDate(p.Date),
		Total:      p.Total,
		Subtotal:   p.Subtotal,
		Tax:        p.Tax,
		Currency:   strings.ToUpper(p.Currency),
		Category:   p.Category,
		Items:      p.Items,
		Confidence: fallbackConfidence,
	}
	if c := clampPtr(p.Confidence); c != nil {
		r.Confidence = *c
	}
	return r, nil
}

// stripFences removes a markdown code fence some models wrap JSON replies in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

func clampPtr(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := min(max(*c, 0), 1)
	return &v
}
