package routing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/ai/backend"
)

func TestProcessingResult_JSONSeconds(t *testing.T) {
	res := ProcessingResult[string]{
		Data:           "coffee",
		Source:         backend.SourceHybrid,
		Confidence:     0.99,
		ProcessingTime: 1250 * time.Millisecond,
		Strategy:       StrategyHybrid,
	}
	data, err := json.Marshal(&res)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, 1.25, fields["processing_time_seconds"])
	assert.NotContains(t, fields, "processing_time")
	assert.NotContains(t, fields, "ProcessingTime")
	assert.Equal(t, "coffee", fields["data"])
	assert.Equal(t, "hybrid", fields["source"])

	var back ProcessingResult[string]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res, back)
}
