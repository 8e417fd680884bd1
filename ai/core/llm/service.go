// Package llm wraps OpenAI-compatible endpoints for the cloud and on-device adapters.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message. ImageDataURL attaches an image to a user message.
type Message struct {
	Role         string // system, user, assistant
	Content      string
	ImageDataURL string
}

// CallStats reports token usage and timing for a single call.
type CallStats struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	CacheReadTokens  int   `json:"cache_read_tokens,omitempty"`
	TotalDurationMs  int64 `json:"total_duration_ms"`
}

// Transcription is the result of a speech-to-text call.
type Transcription struct {
	Text     string
	Language string
	// DurationSeconds is reported by the server when available.
	DurationSeconds float64
	// Confidence is derived from segment log-probabilities; nil when the server sends none.
	Confidence *float64
}

// Observer receives per-call usage, e.g. for metrics.
type Observer interface {
	RecordLLMTokens(model, tokenType string, count int)
	RecordLLMLatency(model, provider string, latency time.Duration)
}

// Service is the model client used by the backend adapters.
type Service interface {
	// CompleteJSON runs a chat completion constrained to a JSON object reply.
	CompleteJSON(ctx context.Context, messages []Message) (string, *CallStats, error)
	// Transcribe converts audio to text with the configured transcription model.
	Transcribe(ctx context.Context, audio []byte) (*Transcription, *CallStats, error)
	// Warmup sends a lightweight request to establish the connection.
	Warmup(ctx context.Context)
	Model() string
	Provider() string
}

// Config represents LLM service configuration.
type Config struct {
	Provider    string // openai, deepseek, siliconflow, dashscope, openrouter, ollama, or any OpenAI-compatible name
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 1024
	Temperature float32 // default: 0
	Timeout     time.Duration
	// TranscriptionModel is used by Transcribe; defaults to whisper-1.
	TranscriptionModel string
}

type service struct {
	client             *openai.Client
	model              string
	transcriptionModel string
	provider           string
	maxTokens          int
	temperature        float32
	timeout            time.Duration
	observer           Observer
	logger             *slog.Logger
}

var defaultBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434/v1",
}

// NewService creates a Service. observer and logger may be nil.
func NewService(cfg Config, observer Observer, logger *slog.Logger) (Service, error) {
	if cfg.Model == "" && cfg.TranscriptionModel == "" {
		return nil, fmt.Errorf("llm: model required for provider %q", cfg.Provider)
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	switch baseURL, known := defaultBaseURLs[cfg.Provider]; {
	case cfg.BaseURL != "":
		clientConfig.BaseURL = cfg.BaseURL
	case known:
		clientConfig.BaseURL = baseURL
	case cfg.Provider != "openai" && cfg.Provider != "":
		logger.Info("using generic OpenAI-compatible provider", "provider", cfg.Provider)
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = openai.Whisper1
	}

	return &service{
		client:             openai.NewClientWithConfig(clientConfig),
		model:              cfg.Model,
		transcriptionModel: transcriptionModel,
		provider:           cfg.Provider,
		maxTokens:          maxTokens,
		temperature:        cfg.Temperature,
		timeout:            timeout,
		observer:           observer,
		logger:             logger,
	}, nil
}

func (s *service) Model() string    { return s.model }
func (s *service) Provider() string { return s.provider }

func (s *service) CompleteJSON(ctx context.Context, messages []Message) (string, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		s.logger.Warn("LLM: chat request failed", "provider", s.provider, "model", s.model, "error", err)
		return "", nil, fmt.Errorf("llm chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("empty response from LLM")
	}

	elapsed := time.Since(start)
	stats := &CallStats{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		TotalDurationMs:  elapsed.Milliseconds(),
	}
	if resp.Usage.PromptTokensDetails != nil && resp.Usage.PromptTokensDetails.CachedTokens > 0 {
		stats.CacheReadTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}
	s.observe(s.model, elapsed, stats)

	s.logger.Debug("LLM: chat response received",
		"model", s.model,
		"total_tokens", stats.TotalTokens,
		"duration_ms", stats.TotalDurationMs)
	return resp.Choices[0].Message.Content, stats, nil
}

func (s *service) Transcribe(ctx context.Context, audio []byte) (*Transcription, *CallStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.transcriptionModel,
		FilePath: AudioFilename(audio),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		s.logger.Warn("LLM: transcription failed", "provider", s.provider, "model", s.transcriptionModel, "error", err)
		return nil, nil, fmt.Errorf("llm transcription failed: %w", err)
	}

	elapsed := time.Since(start)
	stats := &CallStats{TotalDurationMs: elapsed.Milliseconds()}
	s.observe(s.transcriptionModel, elapsed, nil)

	t := &Transcription{
		Text:            resp.Text,
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
	}
	if n := len(resp.Segments); n > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += math.Exp(seg.AvgLogprob)
		}
		c := min(max(sum/float64(n), 0), 1)
		t.Confidence = &c
	}
	return t, stats, nil
}

func (s *service) Warmup(ctx context.Context) {
	if s.model == "" {
		return
	}
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := s.client.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hi"}},
	})
	if err != nil {
		s.logger.Warn("LLM: warmup ping failed, first request may be slower",
			"provider", s.provider, "model", s.model, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Info("LLM: connection warmed up",
		"provider", s.provider, "model", s.model,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *service) observe(model string, elapsed time.Duration, stats *CallStats) {
	if s.observer == nil {
		return
	}
	s.observer.RecordLLMLatency(model, s.provider, elapsed)
	if stats != nil {
		s.observer.RecordLLMTokens(model, "prompt", stats.PromptTokens)
		s.observer.RecordLLMTokens(model, "completion", stats.CompletionTokens)
	}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		if m.ImageDataURL == "" {
			out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
			continue
		}
		parts := []openai.ChatMessagePart{}
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: m.ImageDataURL, Detail: openai.ImageURLDetailAuto},
		})
		out[i] = openai.ChatCompletionMessage{Role: role, MultiContent: parts}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// ImageMessage creates a user message carrying an encoded image.
func ImageMessage(content, mimeType string, data []byte) Message {
	return Message{Role: "user", Content: content, ImageDataURL: DataURL(mimeType, data)}
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// AudioFilename picks a filename whose extension matches the sniffed container, so
// servers that dispatch on extension decode the upload correctly.
func AudioFilename(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "clip.wav"
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return "clip.ogg"
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return "clip.flac"
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "clip.webm"
	case len(data) >= 3 && string(data[0:3]) == "ID3",
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "clip.mp3"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "clip.m4a"
	default:
		return "clip.wav"
	}
}
