package backend

import (
	"context"

	"github.com/hrygo/fincue/ai/capability"
)

// Backend is the three-operation contract both adapters implement.
type Backend interface {
	ParseText(ctx context.Context, text string) (*TextResult, error)
	ExtractReceipt(ctx context.Context, img ImageInput) (*ReceiptResult, error)
	Transcribe(ctx context.Context, audio []byte) (*TranscriptResult, error)
}

// Local is the on-device adapter.
type Local interface {
	Backend
	Capabilities() capability.OfflineCapabilities
}

// Remote is the cloud adapter. Its operations must fail with ErrNetworkUnavailable while
// disconnected.
type Remote interface {
	Backend
	// EstimateCost returns the expected USD cost of a call for an input of size bytes.
	EstimateCost(kind TaskKind, size int) float64
}

// ConnectivityChecker is the slice of the network monitor adapters depend on.
type ConnectivityChecker interface {
	IsConnected() bool
}
