package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu      sync.Mutex
	tokens  map[string]int
	latency int
}

func (o *recordingObserver) RecordLLMTokens(_, tokenType string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tokens == nil {
		o.tokens = map[string]int{}
	}
	o.tokens[tokenType] += count
}

func (o *recordingObserver) RecordLLMLatency(string, string, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latency++
}

func newFakeServer(t *testing.T) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"amount\": 4.5}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`)
	})
	mux.HandleFunc("/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "clip.wav", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"task": "transcribe", "language": "english", "duration": 2.5, "text": "coffee four fifty",
			"segments": [{"id": 0, "avg_logprob": -0.1}, {"id": 1, "avg_logprob": -0.3}]
		}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestNewService_RequiresModel(t *testing.T) {
	_, err := NewService(Config{Provider: "openai"}, nil, nil)
	assert.Error(t, err)
}

func TestNewService_ProviderDefaults(t *testing.T) {
	for _, p := range []string{"openai", "deepseek", "siliconflow", "dashscope", "openrouter", "ollama", "custom"} {
		t.Run(p, func(t *testing.T) {
			svc, err := NewService(Config{Provider: p, Model: "m", APIKey: "k"}, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, p, svc.Provider())
			assert.Equal(t, "m", svc.Model())
		})
	}
}

func TestCompleteJSON(t *testing.T) {
	srv, requests := newFakeServer(t)
	obs := &recordingObserver{}
	svc, err := NewService(Config{Provider: "openai", Model: "test-model", BaseURL: srv.URL}, obs, nil)
	require.NoError(t, err)

	out, stats, err := svc.CompleteJSON(context.Background(), []Message{
		SystemPrompt("extract"),
		ImageMessage("receipt", "image/jpeg", []byte{0xFF, 0xD8}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 4.5}`, out)
	assert.Equal(t, 150, stats.TotalTokens)
	assert.Equal(t, 120, obs.tokens["prompt"])
	assert.Equal(t, 1, obs.latency)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
	msgs := req["messages"].([]any)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/jpeg;base64,"))
}

func TestCompleteJSON_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewService(Config{Model: "m", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)
	_, _, err = svc.CompleteJSON(context.Background(), []Message{UserMessage("hi")})
	assert.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	srv, _ := newFakeServer(t)
	svc, err := NewService(Config{TranscriptionModel: "whisper-1", BaseURL: srv.URL}, nil, nil)
	require.NoError(t, err)

	wav := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 64)...)
	tr, _, err := svc.Transcribe(context.Background(), wav)
	require.NoError(t, err)
	assert.Equal(t, "coffee four fifty", tr.Text)
	assert.Equal(t, "english", tr.Language)
	require.NotNil(t, tr.Confidence)
	assert.InDelta(t, 0.8228, *tr.Confidence, 1e-3)
}

func TestAudioFilename(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte("RIFF\x00\x00\x00\x00WAVEfmt "), "clip.wav"},
		{[]byte("OggS\x00\x02"), "clip.ogg"},
		{[]byte("fLaC\x00"), "clip.flac"},
		{[]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "clip.webm"},
		{[]byte("ID3\x04"), "clip.mp3"},
		{[]byte{0xFF, 0xFB, 0x90}, "clip.mp3"},
		{[]byte("\x00\x00\x00\x20ftypM4A "), "clip.m4a"},
		{[]byte("??"), "clip.wav"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AudioFilename(tt.data))
	}
}
