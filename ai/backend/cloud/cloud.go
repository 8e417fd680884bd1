// Package cloud implements the remote backend on an OpenAI-compatible API.
package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/core/llm"
)

// Config tunes request pacing and payload preparation.
type Config struct {
	// MaxImageDimension bounds the longest side of uploaded receipts.
	MaxImageDimension int
	JPEGQuality       int
	// RequestsPerSecond of 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int64
	Pricing           Pricing
}

// DefaultConfig returns the default cloud backend configuration.
func DefaultConfig() Config {
	return Config{
		MaxImageDimension: 1600,
		JPEGQuality:       85,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxConcurrent:     4,
		Pricing:           DefaultPricing(),
	}
}

// Options wires the cloud backend.
type Options struct {
	Config Config
	// Chat serves text parsing, and receipts when Vision is nil.
	Chat   llm.Service
	Vision llm.Service
	Speech llm.Service
	// Network, when set, is consulted before every call.
	Network backend.ConnectivityChecker
	Logger  *slog.Logger
}

// Backend is the remote adapter.
type Backend struct {
	cfg     Config
	chat    llm.Service
	vision  llm.Service
	speech  llm.Service
	network backend.ConnectivityChecker
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

var _ backend.Remote = (*Backend)(nil)

// New creates the cloud backend.
func New(opts Options) *Backend {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Pricing == (Pricing{}) {
		cfg.Pricing = def.Pricing
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	vision := opts.Vision
	if vision == nil {
		vision = opts.Chat
	}

	b := &Backend{
		cfg:     cfg,
		chat:    opts.Chat,
		vision:  vision,
		speech:  opts.Speech,
		network: opts.Network,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return b
}

// EstimateCost returns the expected USD cost for an input of size bytes.
func (b *Backend) EstimateCost(kind backend.TaskKind, size int) float64 {
	return b.cfg.Pricing.Estimate(kind, size)
}

// acquire enforces connectivity, pacing and the concurrency cap. The returned func
// releases the slot.
func (b *Backend) acquire(ctx context.Context) (func(), error) {
	if b.network != nil && !b.network.IsConnected() {
		return nil, backend.ErrNetworkUnavailable
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			b.sem.Release(1)
			return nil, err
		}
	}
	return func() { b.sem.Release(1) }, nil
}

func (b *Backend) ParseText(ctx context.Context, text string) (*backend.TextResult, error) {
	if b.chat == nil {
		return nil, backend.Fail(backend.TaskText, backend.SourceRemote, backend.ErrUnsupported)
	}
	if strings.TrimSpace(text) == "" {
		return nil, backend.Fail(backend.TaskText, backend.SourceRemote, fmt.Errorf("empty input"))
	}
	release, err := b.acquire(ctx)
	if err != nil {
		return nil, backend.Fail(backend.TaskText, backend.SourceRemote, err)
	}
	defer release()

	raw, stats, err := b.chat.CompleteJSON(ctx, []llm.Message{
		llm.SystemPrompt(backend.TransactionPrompt),
		llm.UserMessage(text),
	})
	if err != nil {
		return nil, backend.Fail(backend.TaskText, backend.SourceRemote, err)
	}
	tx, confidence, err := backend.DecodeTransaction(raw)
	if err != nil {
		return nil, backend.Fail(backend.TaskText, backend.SourceRemote, err)
	}
	if tx.Description == "" {
		tx.Description = strings.TrimSpace(text)
	}
	cost := b.cfg.Pricing.chatCost(stats)
	b.logger.Debug("cloud text parsed", "model", b.chat.Model(), "cost_usd", cost)
	return &backend.TextResult{Transaction: tx, Confidence: confidence, CostUSD: cost}, nil
}

func (b *Backend) ExtractReceipt(ctx context.Context, img backend.ImageInput) (*backend.ReceiptResult, error) {
	if b.vision == nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, backend.ErrUnsupported)
	}
	// Checked before the re-encode.
	if b.network != nil && !b.network.IsConnected() {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, backend.ErrNetworkUnavailable)
	}
	data, err := prepareImage(img, b.cfg.MaxImageDimension, b.cfg.JPEGQuality)
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, err)
	}
	release, err := b.acquire(ctx)
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, err)
	}
	defer release()

	raw, stats, err := b.vision.CompleteJSON(ctx, []llm.Message{
		llm.SystemPrompt(backend.ReceiptPrompt),
		llm.ImageMessage("", "image/jpeg", data),
	})
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, err)
	}
	receipt, err := backend.DecodeReceipt(raw, 0.9)
	if err != nil {
		return nil, backend.Fail(backend.TaskImage, backend.SourceRemote, err)
	}
	return &backend.ReceiptResult{Receipt: receipt, CostUSD: b.cfg.Pricing.chatCost(stats)}, nil
}

func (b *Backend) Transcribe(ctx context.Context, audio []byte) (*backend.TranscriptResult, error) {
	if b.speech == nil {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceRemote, backend.ErrUnsupported)
	}
	if len(audio) == 0 {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceRemote, fmt.Errorf("empty audio"))
	}
	release, err := b.acquire(ctx)
	if err != nil {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceRemote, err)
	}
	defer release()

	t, _, err := b.speech.Transcribe(ctx, audio)
	if err != nil {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceRemote, err)
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return nil, backend.Fail(backend.TaskAudio, backend.SourceRemote, fmt.Errorf("no speech recognised"))
	}
	seconds := t.DurationSeconds
	if seconds <= 0 {
		seconds = capability.AudioDurationSeconds(len(audio))
	}
	return &backend.TranscriptResult{
		Text:       text,
		Language:   t.Language,
		Confidence: t.Confidence,
		CostUSD:    b.cfg.Pricing.transcriptionCost(seconds),
	}, nil
}
