package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/network"
	"github.com/hrygo/fincue/store"
)

type mockBackend struct {
	mock.Mock
	cost float64
}

func (m *mockBackend) ParseText(ctx context.Context, text string) (*backend.TextResult, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(*backend.TextResult)
	return res, args.Error(1)
}

func (m *mockBackend) ExtractReceipt(ctx context.Context, img backend.ImageInput) (*backend.ReceiptResult, error) {
	args := m.Called(ctx, img)
	res, _ := args.Get(0).(*backend.ReceiptResult)
	return res, args.Error(1)
}

func (m *mockBackend) Transcribe(ctx context.Context, audio []byte) (*backend.TranscriptResult, error) {
	args := m.Called(ctx, audio)
	res, _ := args.Get(0).(*backend.TranscriptResult)
	return res, args.Error(1)
}

func (m *mockBackend) Capabilities() capability.OfflineCapabilities {
	return capability.OfflineCapabilities{TextProcessing: true, ImageProcessing: true, VoiceProcessing: true}
}

func (m *mockBackend) EstimateCost(backend.TaskKind, int) float64 { return m.cost }

type recordingObserver struct {
	mu         sync.Mutex
	dispatches []string
	effective  string
	hits       int
	misses     int
}

func (o *recordingObserver) RecordDispatch(task, strategy, source string, _ time.Duration, _ float64, fallback, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches = append(o.dispatches, fmt.Sprintf("%s/%s/%s/%t/%t", task, strategy, source, fallback, success))
}

func (o *recordingObserver) SetEffectiveStrategy(current string, _ []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.effective = current
}

func (o *recordingObserver) RecordCacheHit(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits++
}

func (o *recordingObserver) RecordCacheMiss(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misses++
}

type fixture struct {
	router *Router
	local  *mockBackend
	remote *mockBackend
	net    *network.StaticMonitor
	obs    *recordingObserver
}

func newFixture(t *testing.T, strategy Strategy, opts ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		local:  &mockBackend{},
		remote: &mockBackend{cost: 0.002},
		net:    network.NewStaticMonitor(true, network.QualityGood),
		obs:    &recordingObserver{},
	}
	state, err := NewStrategyState(context.Background(), nil, f.local.Capabilities(), nil)
	require.NoError(t, err)
	require.NoError(t, state.Update(context.Background(), strategy))

	cfg := Config{
		Device:    capability.DeviceProfile{Cores: 6, MemoryGB: 4},
		CacheSize: -1,
	}
	for _, o := range opts {
		o(&cfg)
	}
	f.router, err = NewRouter(cfg, Deps{
		Local:    f.local,
		Remote:   f.remote,
		Network:  f.net,
		Strategy: state,
		Observer: f.obs,
	})
	require.NoError(t, err)
	return f
}

func textResult(description string, conf float64) *backend.TextResult {
	return &backend.TextResult{
		Transaction: backend.ParsedTransaction{Description: description, Amount: 1},
		Confidence:  &conf,
	}
}

func remoteText(description string, conf, cost float64) *backend.TextResult {
	r := textResult(description, conf)
	r.CostUSD = cost
	return r
}

func TestNewRouter_RequiresBackends(t *testing.T) {
	_, err := NewRouter(Config{}, Deps{Local: &mockBackend{}})
	assert.ErrorIs(t, err, ErrMissingBackend)
}

func TestLocalOnly(t *testing.T) {
	f := newFixture(t, StrategyLocalOnly)
	f.local.On("ParseText", mock.Anything, "coffee").Return(&backend.TextResult{Transaction: backend.ParsedTransaction{Amount: 4}}, nil).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Equal(t, backend.SourceLocal, res.Source)
	assert.Equal(t, defaultTextConfidence, res.Confidence)
	assert.Equal(t, StrategyLocalOnly, res.Strategy)
	assert.False(t, res.FallbackUsed)
	f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
}

func TestLocalOnly_PropagatesError(t *testing.T) {
	f := newFixture(t, StrategyLocalOnly)
	f.local.On("ParseText", mock.Anything, mock.Anything).
		Return(nil, backend.Fail(backend.TaskText, backend.SourceLocal, errors.New("model crashed"))).Once()

	_, err := f.router.ProcessText(context.Background(), "coffee")
	assert.ErrorIs(t, err, backend.ErrTextProcessingFailed)
	f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
}

func TestLocalOnly_AudioDefaultConfidence(t *testing.T) {
	f := newFixture(t, StrategyLocalOnly)
	f.local.On("Transcribe", mock.Anything, mock.Anything).Return(&backend.TranscriptResult{Text: "hello"}, nil).Once()

	res, err := f.router.ProcessAudio(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Data)
	assert.Equal(t, defaultAudioConfidence, res.Confidence)
}

func TestLocalFirst_Accepts(t *testing.T) {
	for _, conf := range []float64{0.9, DefaultThreshold} {
		f := newFixture(t, StrategyLocalFirst)
		f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", conf), nil).Once()

		res, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.NoError(t, err)
		assert.Equal(t, "local", res.Data.Description)
		assert.False(t, res.FallbackUsed)
		f.remote.AssertNumberOfCalls(t, "ParseText", 0)
	}
}

func TestLocalFirst_EscalatesBelowThreshold(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.70), nil).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.95, 0.001), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Data.Description)
	assert.Equal(t, backend.SourceRemote, res.Source)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, 0.001, res.CostUSD)
	f.remote.AssertNumberOfCalls(t, "ParseText", 1)
}

func TestLocalFirst_RespectsThresholdChange(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	require.NoError(t, f.router.Strategy().SetThreshold(context.Background(), 0.6))
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.70), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.False(t, res.FallbackUsed)
	f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
}

func TestLocalFirst_LocalErrorEscalates(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("no amount")).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.9, 0), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "hmm")
	require.NoError(t, err)
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, backend.SourceRemote, res.Source)
}

func TestLocalFirst_KeepsLocalWhenRemoteFails(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.5), nil).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, "local", res.Data.Description)
	assert.False(t, res.FallbackUsed)
}

func TestLocalFirst_BothFail(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("local broke")).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("remote broke")).Once()

	_, err := f.router.ProcessText(context.Background(), "coffee 4")
	assert.ErrorIs(t, err, backend.ErrTextProcessingFailed)
	assert.Contains(t, err.Error(), "local broke")
	assert.Contains(t, err.Error(), "remote broke")
}

func TestRemoteFirst(t *testing.T) {
	t.Run("remote succeeds", func(t *testing.T) {
		f := newFixture(t, StrategyRemoteFirst)
		f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.9, 0.001), nil).Once()

		res, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.NoError(t, err)
		assert.Equal(t, backend.SourceRemote, res.Source)
		assert.False(t, res.FallbackUsed)
		f.local.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
	})

	t.Run("remote fails", func(t *testing.T) {
		f := newFixture(t, StrategyRemoteFirst)
		f.remote.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()
		f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.6), nil).Once()

		res, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.NoError(t, err)
		assert.Equal(t, backend.SourceLocal, res.Source)
		assert.True(t, res.FallbackUsed)
	})

	t.Run("disconnected skips remote", func(t *testing.T) {
		f := newFixture(t, StrategyRemoteFirst)
		f.net.Set(false, network.QualityOffline)
		f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.6), nil).Once()

		res, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.NoError(t, err)
		assert.True(t, res.FallbackUsed)
		f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
	})

	t.Run("local failure is terminal", func(t *testing.T) {
		f := newFixture(t, StrategyRemoteFirst)
		f.remote.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("503")).Once()
		f.local.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("no amount")).Once()

		_, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.Error(t, err)
		var pe *backend.ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, backend.SourceLocal, pe.Source)
	})
}

func TestHybrid_BothSucceed(t *testing.T) {
	tests := []struct {
		name     string
		local    float64
		remote   float64
		wantData string
		wantConf float64
	}{
		{"local higher", 0.80, 0.75, "local", 0.88},
		{"remote higher", 0.60, 0.70, "remote", 0.77},
		{"tie prefers local", 0.70, 0.70, "local", 0.77},
		{"boost clamps", 0.95, 0.50, "local", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, StrategyHybrid)
			f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", tt.local), nil).Once()
			f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", tt.remote, 0.003), nil).Once()

			res, err := f.router.ProcessText(context.Background(), "coffee 4")
			require.NoError(t, err)
			assert.Equal(t, backend.SourceHybrid, res.Source)
			assert.Equal(t, tt.wantData, res.Data.Description)
			assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
			assert.Equal(t, 0.003, res.CostUSD)
			assert.False(t, res.FallbackUsed)
		})
	}
}

func TestHybrid_RunsConcurrently(t *testing.T) {
	f := newFixture(t, StrategyHybrid)
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(mock.Arguments) {
		started.Done()
		started.Wait()
	}
	f.local.On("ParseText", mock.Anything, mock.Anything).Run(barrier).Return(textResult("local", 0.8), nil).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Run(barrier).Return(remoteText("remote", 0.7, 0), nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.router.ProcessText(context.Background(), "coffee 4")
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hybrid branches did not run concurrently")
	}
}

func TestHybrid_OneFails(t *testing.T) {
	f := newFixture(t, StrategyHybrid)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(nil, errors.New("no amount")).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.7, 0.001), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, backend.SourceRemote, res.Source)
	assert.Equal(t, 0.7, res.Confidence)
	assert.False(t, res.FallbackUsed)
}

func TestHybrid_BothFail(t *testing.T) {
	f := newFixture(t, StrategyHybrid)
	f.local.On("ExtractReceipt", mock.Anything, mock.Anything).Return(nil, errors.New("blurry")).Once()
	f.remote.On("ExtractReceipt", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	_, err := f.router.ProcessImage(context.Background(), backend.ImageInput{Data: []byte{1}, Width: 10, Height: 10})
	assert.ErrorIs(t, err, backend.ErrImageProcessingFailed)
	var pe *backend.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, backend.SourceHybrid, pe.Source)

	agg := f.router.Monitor().Refresh(context.Background())
	assert.Zero(t, agg.Local.Successes)
	assert.Zero(t, agg.Remote.Successes)
	assert.Equal(t, int64(2), agg.TotalAttempts)
}

func TestHybrid_DisconnectedRunsLocalOnly(t *testing.T) {
	f := newFixture(t, StrategyHybrid)
	f.net.Set(false, network.QualityOffline)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.6), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, StrategyLocalOnly, res.Strategy)
	assert.Equal(t, backend.SourceLocal, res.Source)
	f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
}

func TestOfflineForce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefs := store.New(store.NewMemoryDriver())
	f := newFixture(t, StrategyHybrid)
	state, err := NewStrategyState(ctx, prefs, f.local.Capabilities(), nil)
	require.NoError(t, err)
	require.NoError(t, state.Update(ctx, StrategyHybrid))
	f.router.strategy = state
	f.router.Start(ctx)

	f.net.Set(false, network.QualityOffline)
	require.Eventually(t, func() bool { return state.Current() == StrategyLocalOnly }, time.Second, 5*time.Millisecond)
	v, _, err := prefs.GetPreference(ctx, PreferenceStrategy)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", v)

	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.5), nil).Once()
	res, err := f.router.ProcessText(ctx, "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, StrategyLocalOnly, res.Strategy)

	f.net.Set(true, network.QualityGood)
	require.Eventually(t, func() bool { return state.Current() == StrategyHybrid }, time.Second, 5*time.Millisecond)

	cancel()
	f.router.Wait()
}

func TestAuto_ScenarioDispatchesLocalOnly(t *testing.T) {
	f := newFixture(t, StrategyAuto)
	text := "we had two small cups of tea at home now"
	require.Len(t, text, 40)
	f.local.On("ParseText", mock.Anything, text).Return(textResult("local", 0.5), nil).Once()

	assert.GreaterOrEqual(t, f.router.DeviceCapability(), 0.8)
	res, err := f.router.ProcessText(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, StrategyLocalOnly, res.Strategy)
	f.remote.AssertNotCalled(t, "ParseText", mock.Anything, mock.Anything)
}

func TestDecideAuto(t *testing.T) {
	tests := []struct {
		name       string
		device     float64
		complexity float64
		connected  bool
		lowBW      bool
		want       Strategy
	}{
		{"offline", 1, 0, false, false, StrategyLocalOnly},
		{"strong device simple task", 0.9, 0.5, true, false, StrategyLocalOnly},
		{"strong device low bandwidth", 0.9, 0.5, true, true, StrategyLocalFirst},
		{"capable device", 0.7, 0.7, true, false, StrategyLocalFirst},
		{"complex task", 0.9, 0.9, true, false, StrategyRemoteFirst},
		{"weak device", 0.4, 0.3, true, false, StrategyRemoteFirst},
		{"middle ground", 0.6, 0.6, true, false, StrategyHybrid},
		{"strong device moderately complex", 0.9, 0.75, true, false, StrategyHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := network.NewStaticMonitor(tt.connected, network.QualityGood)
			net.SetLowBandwidth(tt.lowBW)
			assert.Equal(t, tt.want, decideAuto(tt.device, tt.complexity, net))
		})
	}
}

func TestAdapterTimeout(t *testing.T) {
	f := newFixture(t, StrategyLocalOnly, func(c *Config) { c.AdapterTimeout = 20 * time.Millisecond })
	f.local.On("Transcribe", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded).Once()

	_, err := f.router.ProcessAudio(context.Background(), []byte{1})
	assert.ErrorIs(t, err, backend.ErrProcessingTimeout)
}

func TestMonitorRecordsEveryAttempt(t *testing.T) {
	f := newFixture(t, StrategyLocalFirst)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.9), nil).Once()
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 0.1), nil).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.9, 0.004), nil).Once()

	_, err := f.router.ProcessText(context.Background(), "a")
	require.NoError(t, err)
	_, err = f.router.ProcessText(context.Background(), "b")
	require.NoError(t, err)

	agg := f.router.Monitor().Refresh(context.Background())
	assert.Equal(t, int64(2), agg.Local.Attempts)
	assert.Equal(t, int64(1), agg.Remote.Attempts)
	assert.InDelta(t, 0.004, agg.RemoteSpendUSD, 1e-12)
	// Only the accepted local result avoided a remote call.
	assert.InDelta(t, 0.002, agg.CostSavingsUSD, 1e-12)
	assert.Len(t, f.router.Monitor().History(nil, time.Hour), 3)
}

func TestResultCache(t *testing.T) {
	f := newFixture(t, StrategyRemoteFirst, func(c *Config) { c.CacheSize = 8 })
	f.remote.On("ParseText", mock.Anything, "coffee 4").Return(remoteText("remote", 0.9, 0.002), nil).Once()

	first, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, 0.002, first.CostUSD)

	second, err := f.router.ProcessText(context.Background(), "coffee 4")
	require.NoError(t, err)
	assert.Equal(t, "remote", second.Data.Description)
	assert.Zero(t, second.CostUSD)
	f.remote.AssertNumberOfCalls(t, "ParseText", 1)
	assert.Equal(t, 1, f.obs.hits)
	assert.Equal(t, 1, f.obs.misses)
	assert.Equal(t, uint64(1), f.router.CacheStats().Hits)
}

func TestAdjustedConfidenceBounded(t *testing.T) {
	f := newFixture(t, StrategyHybrid)
	f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", 1), nil).Once()
	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 1, 0), nil).Once()

	res, err := f.router.ProcessText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.AdjustedConfidence)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestObserver(t *testing.T) {
	f := newFixture(t, StrategyRemoteFirst)
	assert.Equal(t, "remote_first", f.obs.effective)

	f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.9, 0), nil).Once()
	_, err := f.router.ProcessText(context.Background(), "x")
	require.NoError(t, err)

	f.router.Strategy().OnConnectivityChanged(false)
	assert.Equal(t, "local_only", f.obs.effective)
	assert.Equal(t, []string{"text/remote_first/remote/false/true"}, f.obs.dispatches)
}

func TestProcessTextBatch(t *testing.T) {
	f := newFixture(t, StrategyLocalOnly)
	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("item %d", i)
		if i == 3 {
			f.local.On("ParseText", mock.Anything, text).Run(func(mock.Arguments) { calls.Add(1) }).
				Return(nil, errors.New("no amount")).Once()
			continue
		}
		f.local.On("ParseText", mock.Anything, text).Run(func(mock.Arguments) { calls.Add(1) }).
			Return(textResult(text, 0.9), nil).Once()
	}

	texts := []string{"item 0", "item 1", "item 2", "item 3", "item 4"}
	items := f.router.ProcessTextBatch(context.Background(), texts, 2)
	require.Len(t, items, 5)
	assert.Equal(t, int32(5), calls.Load())
	for i, it := range items {
		assert.Equal(t, i, it.Index)
		if i == 3 {
			assert.ErrorIs(t, it.Err, backend.ErrTextProcessingFailed)
			continue
		}
		require.NoError(t, it.Err)
		assert.Equal(t, texts[i], it.Result.Data.Description)
	}
}

func TestLocalFirst_EscalationMatchesScorer(t *testing.T) {
	for _, conf := range []float64{0.5, 0.849, DefaultThreshold, 0.86, 1} {
		f := newFixture(t, StrategyLocalFirst)
		f.local.On("ParseText", mock.Anything, mock.Anything).Return(textResult("local", conf), nil).Once()
		f.remote.On("ParseText", mock.Anything, mock.Anything).Return(remoteText("remote", 0.95, 0), nil).Maybe()

		res, err := f.router.ProcessText(context.Background(), "coffee 4")
		require.NoError(t, err)
		assert.Equal(t, f.router.scorer.ShouldFallback(conf), res.FallbackUsed, "confidence %v", conf)
	}
}
