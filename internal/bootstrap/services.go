package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sophanos/saga-sub015/config"
	"github.com/Sophanos/saga-sub015/internal/adapters/dispatcher"
	"github.com/Sophanos/saga-sub015/internal/adapters/reaper"
	"github.com/Sophanos/saga-sub015/internal/adapters/scheduler"
	"github.com/Sophanos/saga-sub015/internal/core"
	"github.com/Sophanos/saga-sub015/internal/data"
	"github.com/Sophanos/saga-sub015/internal/observability/statsd"
	"github.com/Sophanos/saga-sub015/internal/service"
	"github.com/redis/go-redis/v9"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Notifications *service.NotificationEmitter
	Handlers      *service.Handlers
	Registry      *core.Registry
	Dispatcher    *dispatcher.Dispatcher
	Providers     Providers
	Capabilities  core.CapabilitySet
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled.
	MetricsSink   statsd.Sink
	MetricsConfig config.ObservabilityMetricsConfig
	client        *statsd.Client
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	if o.client == nil {
		return nil
	}
	return o.client.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	Jobs          *data.JobRepo
	Content       *data.ContentRepo
	Notifications *data.NotificationRepo
	Digests       *data.DigestRepo
	Evidence      *data.EvidenceRepo
	Rules         *data.RuleRepo
	Entitlements  *data.EntitlementRepo
	// Cache is nil without Redis.
	Cache *data.RedisCacheRepo
}

// buildObservability configures the metrics adapter.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{MetricsConfig: cfg.Metrics}
	if !cfg.Metrics.IsEnabled() {
		return out
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled:       true,
		Address:       cfg.Metrics.StatsdAddress,
		Prefix:        cfg.Metrics.Prefix,
		Tags:          cfg.Metrics.Tags,
		PacketBytes:   cfg.Metrics.PacketBytes,
		FlushInterval: cfg.Metrics.FlushInterval,
		Logger:        obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return out
	}
	out.client = client
	out.MetricsSink = client
	return out
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, rc redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		Jobs:          data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
		Content:       data.NewContentRepo(db, logger),
		Notifications: data.NewNotificationRepo(db),
		Digests:       data.NewDigestRepo(db),
		Evidence:      data.NewEvidenceRepo(db),
		Rules:         data.NewRuleRepo(db),
		Entitlements:  data.NewEntitlementRepo(db),
	}
	if rc != nil {
		repos.Cache = data.NewRedisCacheRepo(rc)
	}
	return repos
}

// cacheRepository avoids handing a typed nil to the core port.
//
//nolint:ireturn // nil when Redis is off.
func (r *serviceRepositories) cacheRepository() core.CacheRepository {
	if r.Cache == nil {
		return nil
	}
	return r.Cache
}

// NewServices wires repositories, providers and the handler registry into a ServiceContainer.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("config and database are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability)
	metrics := observability.MetricsSink
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)
	settings := service.NewPipelineSettings(cfg.Pipeline, cfg.Debounce)

	providers, err := BuildProviders(ctx, ProviderDeps{
		Config: cfg,
		Cache:  repos.cacheRepository(),
		Logger: logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}
	caps := providers.Capabilities()

	notifications, err := service.NewNotificationEmitter(service.NotificationEmitterOptions{
		Repo:    repos.Notifications,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create notification emitter: %w", err)
	}

	handlers, err := service.NewHandlers(service.HandlerDeps{
		Content:       repos.Content,
		Notifications: notifications,
		Digests:       repos.Digests,
		Evidence:      repos.Evidence,
		Rules:         repos.Rules,
		Embeddings: service.NewEmbeddingSync(service.EmbeddingSyncOptions{
			Embedder: providers.Embedder,
			Index:    providers.Index,
			Content:  repos.Content,
			Settings: settings,
			Logger:   logger,
			Metrics:  metrics,
		}),
		Generator: providers.Generator,
		Images:    providers.Images,
		Detector:  providers.Detector,
		Analyzer:  providers.Analyzer,
		Execution: service.NewExecutionContextResolver(service.ExecutionContextResolverOptions{
			Entitlements: repos.Entitlements,
			Config:       cfg.Execution,
			DefaultModel: cfg.OpenAI.ChatModel,
			Logger:       logger,
		}),
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create handlers: %w", err)
	}

	registry := core.NewRegistry()
	if err := service.RegisterHandlers(registry, handlers); err != nil {
		return ServiceContainer{}, fmt.Errorf("register handlers: %w", err)
	}

	disp, err := dispatcher.New(dispatcher.Options{
		Jobs:         repos.Jobs,
		Registry:     registry,
		Capabilities: caps,
		Concurrency:  cfg.Pipeline.Concurrency,
		BatchSize:    cfg.Pipeline.BatchSize,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create dispatcher: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         repos.Jobs,
		Entitlements: repos.Entitlements,
		Settings:     settings,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	logger.InfoContext(ctx, "pipeline services initialized",
		"kinds", len(registry.Kinds()),
		"capabilities", enabledCapabilities(caps),
	)

	return ServiceContainer{
		Jobs:          jobs,
		Notifications: notifications,
		Handlers:      handlers,
		Registry:      registry,
		Dispatcher:    disp,
		Providers:     providers,
		Capabilities:  caps,
		Observability: observability,
	}, nil
}

func enabledCapabilities(caps core.CapabilitySet) []string {
	out := make([]string, 0, len(caps))
	for _, c := range []core.Capability{
		core.CapEmbedding,
		core.CapVectorIndex,
		core.CapTextGeneration,
		core.CapImageAnalysis,
		core.CapEntityDetection,
		core.CapAnalysis,
	} {
		if caps[c] {
			out = append(out, string(c))
		}
	}
	return out
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

// newDispatchRunner builds the interval loop around the container's dispatcher.
func newDispatchRunner(deps *serviceStartupDeps) (*scheduler.Runner, error) {
	if deps.cfg.Services.Dispatcher == nil {
		return nil, errors.New("dispatcher is not initialized")
	}
	var pipeline config.PipelineConfig
	if deps.cfg.Config != nil {
		pipeline = deps.cfg.Config.Pipeline
	}
	opts := scheduler.RunnerOptions{
		Dispatch:  deps.cfg.Services.Dispatcher,
		Interval:  pipeline.Interval,
		BatchSize: pipeline.BatchSize,
		Logger:    deps.logger,
		Metrics:   deps.cfg.Services.Observability.MetricsSink,
	}
	if deps.cfg.RedisClient != nil && pipeline.SingleFlightTTL > 0 {
		opts.Lock = data.NewRedisCacheRepo(deps.cfg.RedisClient)
		opts.LockTTL = pipeline.SingleFlightTTL
	}
	return scheduler.NewRunner(opts)
}

func newDispatcherBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeDispatcher,
		name: "dispatcher",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			runner, err := newDispatchRunner(deps)
			if err != nil {
				return fmt.Errorf("create dispatch runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				DB:      deps.cfg.DB,
				Config:  reaperCfg,
				Logger:  deps.logger,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
			if err != nil {
				return fmt.Errorf("create reaper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newDispatcherBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	signals     <-chan os.Signal
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := cfg.signals
	if quit == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		quit = ch
	}

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to drain in-flight work.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
