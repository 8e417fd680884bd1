package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/ai/stats"
)

func testAlert() *stats.CostAlert {
	return &stats.CostAlert{
		Type:      "budget_exceeded",
		SpendUSD:  12,
		BudgetUSD: 10,
		OverByUSD: 2,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestSendCostAlert(t *testing.T) {
	var got AlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"code":0,"message":"ok"}`))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).SendCostAlert(context.Background(), testAlert())
	require.NoError(t, err)
	require.NotNil(t, got.Alert)
	assert.Equal(t, "budget_exceeded", got.Alert.Type)
	assert.Equal(t, "fincue", got.Source)
	assert.Contains(t, got.Message, "exceeds budget")
}

func TestSendCostAlert_EmptyBodyAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.NoError(t, NewNotifier(srv.URL).SendCostAlert(context.Background(), testAlert()))
}

func TestSendCostAlert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errPart string
	}{
		{name: "bad status", status: http.StatusBadGateway, body: "down", errPart: "status code: 502"},
		{name: "error code", status: http.StatusOK, body: `{"code":3,"message":"nope"}`, errPart: "code 3"},
		{name: "bad json", status: http.StatusOK, body: "not json", errPart: "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewNotifier(srv.URL).SendCostAlert(context.Background(), testAlert())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}
