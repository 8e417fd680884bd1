// Package backend defines the contract shared by the on-device and cloud inference adapters.
package backend

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"time"
)

// TaskKind identifies the family of work being routed.
type TaskKind string

const (
	TaskText  TaskKind = "text"
	TaskImage TaskKind = "image"
	TaskAudio TaskKind = "audio"
)

// Source identifies which backend produced a result.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceHybrid Source = "hybrid"
)

// ParseSource validates s.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceLocal, SourceRemote, SourceHybrid:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// TransactionType distinguishes money out from money in.
type TransactionType string

const (
	TransactionExpense TransactionType = "expense"
	TransactionIncome  TransactionType = "income"
)

// ParsedTransaction is the structured form of a free-text transaction description.
type ParsedTransaction struct {
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Category    string          `json:"category,omitempty"`
	Type        TransactionType `json:"type"`
	Date        *time.Time      `json:"date,omitempty"`
}

// ReceiptItem is one line of an itemised receipt.
type ReceiptItem struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Price    float64 `json:"price"`
}

// ExtractedReceipt holds fields read off a receipt image. Confidence is reported by the adapter.
type ExtractedReceipt struct {
	Merchant   string        `json:"merchant,omitempty"`
	Date       *time.Time    `json:"date,omitempty"`
	Total      float64       `json:"total"`
	Subtotal   float64       `json:"subtotal,omitempty"`
	Tax        float64       `json:"tax,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Category   string        `json:"category,omitempty"`
	Items      []ReceiptItem `json:"items,omitempty"`
	Confidence float64       `json:"confidence"`
}

// ImageInput is an encoded image plus its decoded dimensions.
type ImageInput struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// NewImageInput reads the dimensions of an encoded JPEG, PNG or GIF.
func NewImageInput(data []byte) (ImageInput, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInput{}, fmt.Errorf("decode image header: %w", err)
	}
	return ImageInput{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// TextResult is returned by ParseText. A nil Confidence means the adapter did not score the result.
type TextResult struct {
	Transaction ParsedTransaction
	Confidence  *float64
	CostUSD     float64
}

// ReceiptResult is returned by ExtractReceipt.
type ReceiptResult struct {
	Receipt ExtractedReceipt
	CostUSD float64
}

// TranscriptResult is returned by Transcribe.
type TranscriptResult struct {
	Text       string
	Language   string
	Confidence *float64
	CostUSD    float64
}
