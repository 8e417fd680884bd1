package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/fincue/ai/backend/cloud"
	"github.com/hrygo/fincue/ai/backend/ondevice"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/core/llm"
	"github.com/hrygo/fincue/ai/metrics"
	"github.com/hrygo/fincue/ai/network"
	"github.com/hrygo/fincue/ai/routing"
	"github.com/hrygo/fincue/ai/stats"
	"github.com/hrygo/fincue/internal/profile"
	"github.com/hrygo/fincue/plugin/webhook"
	"github.com/hrygo/fincue/store"
	"github.com/hrygo/fincue/store/db"
)

const (
	snapshotQueueSize    = 512
	persisterDrainWindow = 5 * time.Second
	pruneInterval        = 6 * time.Hour
)

// app holds every long-lived component built from a profile.
type app struct {
	profile   *profile.Profile
	store     *store.Store
	network   network.Monitor
	probe     *network.ProbeMonitor
	monitor   *stats.Monitor
	persister *stats.Persister
	exporter  *metrics.PrometheusExporter
	router    *routing.Router
	logger    *slog.Logger

	cancel context.CancelFunc
	bgWg   sync.WaitGroup
}

// appOptions tune newApp for short-lived CLI commands.
type appOptions struct {
	// Persist enables asynchronous snapshot persistence.
	Persist bool
}

// newApp opens the store and builds the router with both backends.
func newApp(ctx context.Context, p *profile.Profile, opts appOptions, logger *slog.Logger) (*app, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	a := &app{profile: p, store: storeInstance, logger: logger}
	if err := a.build(ctx, opts); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, opts appOptions) error {
	p := a.profile
	a.exporter = metrics.NewPrometheusExporter(metrics.DefaultConfig())

	a.network = a.newNetworkMonitor()

	local, err := a.newLocalBackend()
	if err != nil {
		return err
	}
	remote, err := a.newRemoteBackend()
	if err != nil {
		return err
	}

	monitorCfg := stats.DefaultConfig()
	if p.MonitorInterval > 0 {
		monitorCfg.RefreshInterval = time.Duration(p.MonitorInterval) * time.Second
	}
	monitorCfg.RemoteBudgetUSD = p.RemoteBudgetUSD
	a.monitor, err = stats.NewMonitor(monitorCfg, a.logger.With("component", "monitor"))
	if err != nil {
		return err
	}
	a.monitor.SetExporter(a.exporter)
	if p.AlertWebhookURL != "" {
		a.monitor.SetNotifier(webhook.NewNotifier(p.AlertWebhookURL))
	}
	if opts.Persist {
		a.persister = stats.NewPersister(a.store, snapshotQueueSize, a.logger.With("component", "persister"))
		a.monitor.SetSink(a.persister)
	}

	state, err := routing.NewStrategyState(ctx, a.store, local.Capabilities(), a.logger.With("component", "strategy"))
	if err != nil {
		return err
	}

	cfg := routing.DefaultConfig()
	cfg.AdapterTimeout = p.AdapterTimeoutDuration()
	cfg.Device = deviceProfile(p)
	a.router, err = routing.NewRouter(cfg, routing.Deps{
		Local:    local,
		Remote:   remote,
		Network:  a.network,
		Strategy: state,
		Monitor:  a.monitor,
		Observer: a.exporter,
		Logger:   a.logger.With("component", "router"),
	})
	return err
}

// newNetworkMonitor probes ProbeURL when configured. Without a probe the link is assumed
// up, unless no remote backend is configured, in which case the router runs offline.
func (a *app) newNetworkMonitor() network.Monitor {
	p := a.profile
	if !p.IsRemoteEnabled() {
		a.logger.Warn("no remote backend configured, routing stays on device")
		return network.NewStaticMonitor(false, network.QualityOffline)
	}
	if p.ProbeURL == "" {
		return network.NewStaticMonitor(true, network.QualityUnknown)
	}
	cfg := network.DefaultProbeConfig()
	cfg.URL = p.ProbeURL
	if p.ProbeInterval > 0 {
		cfg.Interval = time.Duration(p.ProbeInterval) * time.Second
	}
	a.probe = network.NewProbeMonitor(cfg, a.logger.With("component", "network"))
	return a.probe
}

func (a *app) newLocalBackend() (*ondevice.Backend, error) {
	p := a.profile
	opts := ondevice.Options{
		DefaultCurrency: p.DefaultCurrency,
		Logger:          a.logger.With("component", "ondevice"),
	}
	localService := func(baseURL, model, transcriptionModel string) (llm.Service, error) {
		return llm.NewService(llm.Config{
			Provider:           "ollama",
			BaseURL:            baseURL,
			Model:              model,
			TranscriptionModel: transcriptionModel,
			Timeout:            p.RemoteTimeoutDuration(),
		}, a.exporter, a.logger)
	}

	var err error
	if p.LocalTextBaseURL != "" && p.LocalTextModel != "" {
		if opts.Text, err = localService(p.LocalTextBaseURL, p.LocalTextModel, ""); err != nil {
			return nil, errors.Wrap(err, "failed to create local text model")
		}
	}
	if p.LocalVisionBaseURL != "" && p.LocalVisionModel != "" {
		if opts.Vision, err = localService(p.LocalVisionBaseURL, p.LocalVisionModel, ""); err != nil {
			return nil, errors.Wrap(err, "failed to create local vision model")
		}
	}
	if p.LocalSpeechBaseURL != "" {
		if opts.Speech, err = localService(p.LocalSpeechBaseURL, "", p.LocalSpeechModel); err != nil {
			return nil, errors.Wrap(err, "failed to create local speech model")
		}
	}
	return ondevice.New(opts), nil
}

func (a *app) newRemoteBackend() (*cloud.Backend, error) {
	p := a.profile
	cfg := cloud.DefaultConfig()
	cfg.RequestsPerSecond = p.RemoteRateLimit
	cfg.MaxConcurrent = int64(p.RemoteMaxConcurrent)
	opts := cloud.Options{
		Config:  cfg,
		Network: a.network,
		Logger:  a.logger.With("component", "cloud"),
	}
	if !p.IsRemoteEnabled() {
		return cloud.New(opts), nil
	}

	remoteService := func(model, transcriptionModel string) (llm.Service, error) {
		return llm.NewService(llm.Config{
			Provider:           p.RemoteProvider,
			Model:              model,
			APIKey:             p.RemoteAPIKey,
			BaseURL:            p.RemoteBaseURL,
			Timeout:            p.RemoteTimeoutDuration(),
			TranscriptionModel: transcriptionModel,
		}, a.exporter, a.logger)
	}

	var err error
	if opts.Chat, err = remoteService(p.RemoteModel, ""); err != nil {
		return nil, errors.Wrap(err, "failed to create remote chat model")
	}
	if p.RemoteVisionModel != p.RemoteModel {
		if opts.Vision, err = remoteService(p.RemoteVisionModel, ""); err != nil {
			return nil, errors.Wrap(err, "failed to create remote vision model")
		}
	}
	if p.RemoteSpeechModel != "" {
		if opts.Speech, err = remoteService("", p.RemoteSpeechModel); err != nil {
			return nil, errors.Wrap(err, "failed to create remote speech model")
		}
	}
	return cloud.New(opts), nil
}

// start launches the background loops; they stop when ctx is canceled or close is called.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	if a.probe != nil {
		a.probe.Start(ctx)
	}
	a.monitor.Start(ctx)
	a.router.Start(ctx)
	if a.persister != nil && a.profile.SnapshotRetentionDays > 0 {
		a.bgWg.Add(1)
		go func() {
			defer a.bgWg.Done()
			a.pruneSnapshots(ctx)
		}()
	}
}

// syncConnectivity probes once and applies the result, for short-lived commands that
// never call start.
func (a *app) syncConnectivity(ctx context.Context) {
	if a.probe != nil {
		a.probe.Probe(ctx)
	}
	a.router.Strategy().OnConnectivityChanged(a.network.IsConnected())
}

func (a *app) pruneSnapshots(ctx context.Context) {
	retention := time.Duration(a.profile.SnapshotRetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := a.store.PrunePerformanceSnapshots(ctx, retention)
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("failed to prune performance snapshots", "error", err)
		} else if n > 0 {
			a.logger.Info("pruned performance snapshots", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// close stops background loops, drains pending snapshots and closes the store.
func (a *app) close() error {
	if a.cancel != nil {
		a.cancel()
		if a.probe != nil {
			a.probe.Wait()
		}
		a.monitor.Wait()
		a.router.Wait()
		a.bgWg.Wait()
	}
	if a.persister != nil {
		if err := a.persister.Close(persisterDrainWindow); err != nil {
			a.logger.Warn("snapshot persister did not drain", "error", err)
		}
	}
	return a.store.Close()
}

// deviceProfile reports the device the router scores against.
func deviceProfile(p *profile.Profile) capability.DeviceProfile {
	d := capability.DetectDevice()
	d.LowPower = d.LowPower || p.LowPower
	return d
}
