// Package routing decides, per task, whether to run on-device inference, the cloud
// backend or both, and how to combine, score and fall back between them.
package routing

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hrygo/fincue/ai/backend"
)

// Strategy selects a dispatch algorithm.
type Strategy string

const (
	StrategyLocalOnly   Strategy = "local_only"
	StrategyLocalFirst  Strategy = "local_first"
	StrategyRemoteFirst Strategy = "remote_first"
	StrategyHybrid      Strategy = "hybrid"
	StrategyAuto        Strategy = "auto"
)

// AllStrategies lists every strategy in display order.
var AllStrategies = []Strategy{
	StrategyLocalOnly,
	StrategyLocalFirst,
	StrategyRemoteFirst,
	StrategyHybrid,
	StrategyAuto,
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLocalOnly, StrategyLocalFirst, StrategyRemoteFirst, StrategyHybrid, StrategyAuto:
		return true
	}
	return false
}

func (s Strategy) String() string { return string(s) }

// ParseStrategy converts a stored or user-supplied name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	if st := Strategy(s); st.Valid() {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
}

func strategyNames() []string {
	names := make([]string, len(AllStrategies))
	for i, s := range AllStrategies {
		names[i] = string(s)
	}
	return names
}

// ProcessingResult is the outcome of one dispatch. ProcessingTime is encoded in JSON as
// processing_time_seconds.
type ProcessingResult[T any] struct {
	Data   T              `json:"data"`
	Source backend.Source `json:"source"`
	// Confidence is the value the dispatch algorithm settled on.
	Confidence float64 `json:"confidence"`
	// AdjustedConfidence is Confidence after speed, source and connectivity adjustments.
	AdjustedConfidence float64       `json:"adjusted_confidence"`
	ProcessingTime     time.Duration `json:"-"`
	FallbackUsed       bool          `json:"fallback_used"`
	// Strategy is the algorithm that ran; never StrategyAuto.
	Strategy Strategy `json:"strategy"`
	CostUSD  float64  `json:"cost_usd"`
}

type plainResult[T any] ProcessingResult[T]

type resultJSON[T any] struct {
	*plainResult[T]
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

func (r ProcessingResult[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON[T]{
		plainResult:           (*plainResult[T])(&r),
		ProcessingTimeSeconds: r.ProcessingTime.Seconds(),
	})
}

func (r *ProcessingResult[T]) UnmarshalJSON(data []byte) error {
	v := resultJSON[T]{plainResult: (*plainResult[T])(r)}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	r.ProcessingTime = secondsToDuration(v.ProcessingTimeSeconds)
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// StrategyChange describes a transition of the effective strategy.
type StrategyChange struct {
	Previous  Strategy
	Current   Strategy
	Preferred Strategy
	// Forced is true while connectivity loss overrides the preference.
	Forced bool
	At     time.Time
}
