// Package ondevice implements the local backend: a rule-based transaction parser plus
// optional on-device vision and speech models served over an OpenAI-compatible endpoint
// (for example Ollama or a whisper server on localhost).
package ondevice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/core/llm"
)

// Default receipt confidence when the vision model does not report one.
const defaultReceiptConfidence = 0.6

// Options configures the on-device backend. Every model is optional.
type Options struct {
	// Text, when set, is tried before the rule-based parser.
	Text llm.Service
	// Vision enables receipt extraction.
	Vision llm.Service
	// Speech enables transcription.
	Speech llm.Service
	// DefaultCurrency for the rule-based parser; defaults to USD.
	DefaultCurrency string
	Logger          *slog.Logger
}

// Backend is the on-device adapter.
type Backend struct {
	parser *Parser
	text   llm.Service
	vision llm.Service
	speech llm.Service
	logger *slog.Logger
}

var _ backend.Local = (*Backend)(nil)

// New creates the on-device backend.
func New(opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parser := NewParser()
	if opts.DefaultCurrency != "" {
		parser.DefaultCurrency = strings.ToUpper(opts.DefaultCurrency)
	}
	return &Backend{
		parser: parser,
		text:   opts.Text,
		vision: opts.Vision,
		speech: opts.Speech,
		logger: logger,
	}
}

// Capabilities reports what this device can do without a network.
func (b *Backend) Capabilities() capability.OfflineCapabilities {
	return capability.OfflineCapabilities{
		TextProcessing:    true,
		ImageProcessing:   b.vision != nil,
		VoiceProcessing:   b.speech != nil,
		LanguageDetection: b.speech != nil,
		// The rule parser has no sentiment model.
		SentimentAnalysis: false,
		EntityExtraction:  true,
	}
}

func (b *Backend) ParseText(ctx context.Context, text string) (*backend.TextResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, backend.Fail(backend.TaskText, backend.SourceLocal, fmt.Errorf("empty input"))
	}
	if b.text != nil {
		res, err := b.parseWithModel(ctx, text)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, backend.Fail(backend.TaskText, backend.SourceLocal, ctx.Err())
		}
		b.logger.Debug("on-device text model failed, using rule parser", "error", err)
	}

	tx, confidence, err := b.parser.Parse(text)
	if err != nil {
		return nil, backend.Fail(backend.TaskText, backend.SourceLocal, err)
	}
	return &backend.TextResult{Transaction: tx, Confidence: &confidence}, nil
}

func (b *Backend) parseWithModel(ctx context.Context, text string) (*backend.TextResult, error) {
	raw, _, err := b.text.CompleteJSON(ctx, []llm.Message{
		llm.SystemPrompt(backend.TransactionPrompt),
		llm.UserMessage(text),
	})
	if err != nil {
		return nil, err
	}
	tx, confidence, err := backend.DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	if tx.Description == "" {
		tx.Description = strings.TrimSpace(text)
	}
	return &backend.TextResult{Transaction: tx, Confidence: confidence}, nil
}

func (b *Backend) ExtractReceipt(ctx context.Context, img backend.ImageInput) (*backend.ReceiptResult, error) {
	if b.vision == nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceLocal, backend.ErrUnsupported)
	}
	raw, _, err := b.vision.CompleteJSON(ctx, []llm.Message{
		llm.SystemPrompt(backend.ReceiptPrompt),
		llm.ImageMessage("", "image/"+imageFormat(img), img.Data),
	})
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceLocal, err)
	}
	receipt, err := backend.DecodeReceipt(raw, defaultReceiptConfidence)
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceLocal, err)
	}
	return &backend.ReceiptResult{Receipt: receipt}, nil
}

func (b *Backend) Transcribe(ctx context.Context, audio []byte) (*backend.TranscriptResult, error) {
	if b.speech == nil {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceLocal, backend.ErrUnsupported)
	}
	if len(audio) == 0 {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceLocal, fmt.Errorf("empty audio"))
	}
	t, _, err := b.speech.Transcribe(ctx, audio)
	if err != nil {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceLocal, err)
	}
	if strings.TrimSpace(t.Text) == "" {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceLocal, fmt.Errorf("no speech recognised"))
	}
	return &backend.TranscriptResult{
		Text:       strings.TrimSpace(t.Text),
		Language:   t.Language,
		Confidence: t.Confidence,
	}, nil
}

func imageFormat(img backend.ImageInput) string {
	if img.Format == "" {
		return "jpeg"
	}
	return img.Format
}
