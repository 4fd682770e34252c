package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agoncharov-reef/pretrain-subnet/internal/admin"
	"github.com/agoncharov-reef/pretrain-subnet/internal/alert"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain/subtensor"
	"github.com/agoncharov-reef/pretrain-subnet/internal/chain/subtensor/rpc"
	"github.com/agoncharov-reef/pretrain-subnet/internal/config"
	"github.com/agoncharov-reef/pretrain-subnet/internal/domain/model"
	"github.com/agoncharov-reef/pretrain-subnet/internal/pipeline"
	"github.com/agoncharov-reef/pretrain-subnet/internal/registry/sidecar"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store"
	"github.com/agoncharov-reef/pretrain-subnet/internal/store/postgres"
	redispkg "github.com/agoncharov-reef/pretrain-subnet/internal/store/redis"
	"github.com/agoncharov-reef/pretrain-subnet/internal/telemetry"
	"github.com/agoncharov-reef/pretrain-subnet/internal/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName        = "pretrain-validator"
	roundSinkBuffer    = 64
	breakerCooldown = 30 * time.Second
	signerTimeout      = 30 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "validator",
		Short:         "Pretraining subnet validator: evaluates miner models and sets weights",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				slog.Error("failed to load config", "error", err)
				return err
			}
			logger := newLogger(cfg.Log.Level)
			slog.SetDefault(logger)
			if err := run(cfg, logger); err != nil {
				logger.Error("validator exited with error", "error", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML file overlaid on the environment config")
	f.Int("netuid", 0, "subnet uid")
	f.String("network", "", "chain network name")
	f.String("rpc-url", "", "subtensor JSON-RPC endpoint")
	f.String("sidecar-url", "", "model sidecar base URL")
	f.String("device", "", "device the sidecar evaluates on")
	f.Int64("blocks-per-epoch", 0, "blocks between weight commits")
	f.Int("pages-per-eval", 0, "dataset pages sampled per round")
	f.Int("sample-min", 0, "active set size kept after each round")
	f.Bool("dont-set-weights", false, "evaluate without committing weights")
	f.Bool("offline", false, "run without submitting anything to the chain")
	f.Bool("test", false, "test mode: small initial set, no commits")
	f.String("redis-url", "", "redis URL for the weight vector snapshot")
	f.String("db-url", "", "postgres URL for round history")
	f.Int("health-port", 0, "port for /healthz, /metrics and /status")
	f.String("log-level", "", "debug, info, warn or error")
	return cmd
}

// loadConfig reads env and the YAML overlay, then applies only the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command, configFile string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			v, err := f.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if f.Changed(name) {
			v, err := f.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	integer("netuid", &cfg.Chain.NetUID)
	str("network", &cfg.Chain.Network)
	str("rpc-url", &cfg.Chain.RPCURL)
	str("sidecar-url", &cfg.Sidecar.URL)
	str("device", &cfg.Validator.Device)
	if f.Changed("blocks-per-epoch") {
		v, err := f.GetInt64("blocks-per-epoch")
		errs = append(errs, err)
		cfg.Validator.BlocksPerEpoch = v
	}
	integer("pages-per-eval", &cfg.Validator.PagesPerEval)
	integer("sample-min", &cfg.Validator.SampleMin)
	boolean("dont-set-weights", &cfg.Validator.DontSetWeights)
	boolean("offline", &cfg.Validator.Offline)
	boolean("test", &cfg.Validator.TestMode)
	str("redis-url", &cfg.Redis.URL)
	str("db-url", &cfg.DB.URL)
	integer("health-port", &cfg.Server.HealthPort)
	str("log-level", &cfg.Log.Level)

	return errors.Join(errs...)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	netuid := model.NetUID(cfg.Chain.NetUID)
	network := cfg.Chain.Network

	logger.Info("starting pretrain validator",
		"network", network,
		"netuid", cfg.Chain.NetUID,
		"rpc", maskCredentials(cfg.Chain.RPCURL),
		"sidecar", cfg.Sidecar.URL,
		"device", cfg.Validator.Device,
		"blocks_per_epoch", cfg.Validator.BlocksPerEpoch,
		"sample_min", cfg.Validator.SampleMin,
		"set_weights", cfg.Validator.SetWeightsEnabled(),
		"test_mode", cfg.Validator.TestMode,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	weights, closeWeights, err := openWeightStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWeights()

	reporters := telemetry.Multi{telemetry.NewLogReporter(logger)}
	var (
		db        *postgres.DB
		sink      *telemetry.RoundSink
		adminOpts []admin.ServerOption
	)
	if cfg.DB.URL != "" {
		db, err = postgres.New(ctx, postgres.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to database", "url", maskCredentials(cfg.DB.URL))
		roundRepo := postgres.NewRoundRepo(db)
		sink = telemetry.NewRoundSink(roundRepo, netuid, roundSinkBuffer, logger)
		reporters = append(reporters, sink)
		adminOpts = append(adminOpts, admin.WithRoundHistory(roundRepo))
	}

	alerter := alert.New(alert.Config{
		SlackWebhookURL: cfg.Alert.SlackWebhookURL,
		WebhookURL:      cfg.Alert.WebhookURL,
		Cooldown:        cfg.Alert.Cooldown,
	}, logger)

	side := sidecar.NewClient(cfg.Sidecar.URL, cfg.Sidecar.Timeout, cfg.Validator.MaxPages, logger)

	chainClient := newChainClient(cfg, logger)
	if err := verifyRegistration(ctx, cfg.Validator.Offline, chainClient, netuid, logger); err != nil {
		return err
	}

	p := pipeline.New(pipelineConfig(cfg, alerter), pipeline.Deps{
		Chain:    chainClient,
		Registry: side,
		Dataset:  side,
		Scorer:   side,
		Weights:  weights,
		Reporter: reporters,
	}, logger.With("network", network, "netuid", cfg.Chain.NetUID))

	adminLimiter := admin.NewRateLimitMiddleware(logger)
	defer adminLimiter.Stop()
	adminSrv := admin.NewServer(netuid, p, p.Pool(), logger, adminOpts...)
	adminHandler := admin.AuditMiddleware(logger, adminLimiter.Wrap(adminSrv.Handler()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, newHealthMux(p.Health().Snapshot, p.Status, adminHandler, logger), logger)
	})

	// The loop returning ends the process, whatever the reason.
	g.Go(func() error {
		defer cancel()
		return p.Run(gCtx)
	})

	if sink != nil {
		g.Go(func() error {
			return sink.Run(gCtx)
		})
	}
	if db != nil {
		startDBPoolStatsPump(gCtx, db, network, netuid, cfg.DB.PoolStatsIntervalMS, logger)
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if sink != nil && sink.Dropped() > 0 {
		logger.Warn("round summaries dropped by postgres sink", "dropped", sink.Dropped())
	}
	logger.Info("validator shut down gracefully")
	return nil
}

func pipelineConfig(cfg *config.Config, alerter alert.Alerter) pipeline.Config {
	v := cfg.Validator
	return pipeline.Config{
		Network:        cfg.Chain.Network,
		NetUID:         model.NetUID(cfg.Chain.NetUID),
		SampleMin:      v.SampleMin,
		PagesPerEval:   v.PagesPerEval,
		BlocksPerEpoch: v.BlocksPerEpoch,
		Alpha:          v.Alpha,
		Temperature:    v.Temperature,
		Epsilon:        v.Epsilon,
		EvalRoundTTL:   v.EvalRoundTTL,
		CommitTTL:      v.CommitTTL,
		SyncTTL:        v.SyncTTL,
		SetWeights:     v.SetWeightsEnabled(),
		TestMode:       v.TestMode,
		Alerter:        alerter,
	}
}

// newChainClient builds the subtensor adapter. Without a signer, or in
// offline mode, it can still read blocks but every submit fails.
func newChainClient(cfg *config.Config, logger *slog.Logger) *subtensor.Adapter {
	opts := []subtensor.Option{
		subtensor.WithRateLimit(cfg.Chain.RateLimit, cfg.Chain.RateBurst),
		subtensor.WithBreakerThreshold(cfg.Chain.BreakerMax, breakerCooldown),
	}
	if cfg.Chain.SignerURL != "" && !cfg.Validator.Offline {
		opts = append(opts, subtensor.WithSigner(subtensor.NewHTTPSigner(cfg.Chain.SignerURL, signerTimeout), cfg.Chain.Hotkey))
	} else if cfg.Validator.SetWeightsEnabled() {
		logger.Warn("weight setting enabled but no signer configured, commits will fail")
	}
	return subtensor.NewAdapter(cfg.Chain.Network, rpc.NewClient(cfg.Chain.RPCURL, logger), logger, opts...)
}

type registrationChecker interface {
	CheckRegistration(ctx context.Context, netuid model.NetUID) (model.UID, error)
}

// verifyRegistration refuses to start unless the hotkey holds a uid on the
// subnet. Offline mode skips the lookup.
func verifyRegistration(ctx context.Context, offline bool, chain registrationChecker, netuid model.NetUID, logger *slog.Logger) error {
	if offline {
		logger.Info("offline mode, skipping hotkey registration check")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, signerTimeout)
	defer cancel()
	if _, err := chain.CheckRegistration(ctx, netuid); err != nil {
		return fmt.Errorf("validator hotkey check failed, run with --offline to skip: %w", err)
	}
	return nil
}

// openWeightStore picks Redis when configured and falls back to memory.
func openWeightStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.WeightStore, func(), error) {
	redisURL := strings.TrimSpace(cfg.Redis.URL)
	if redisURL == "" {
		logger.Info("no redis configured, weight vector kept in memory")
		return store.NewMemoryWeightStore(), func() {}, nil
	}
	ws, err := redispkg.Open(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis weight store: %w", err)
	}
	logger.Info("redis weight store enabled", "redis_url", maskCredentials(redisURL))
	return ws, func() {
		if err := ws.Close(); err != nil {
			logger.Warn("redis close error", "error", err)
		}
	}, nil
}

// maskCredentials hides the userinfo part of a URL for logging.
func maskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return strings.Replace(raw, u.User.String()+"@", "***@", 1)
}

// newHealthMux serves probes, metrics and status. The admin API, when
// given, is mounted under /admin/.
func newHealthMux(health func() pipeline.HealthSnapshot, status func() pipeline.Status, adminHandler http.Handler, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := health()
		if !snap.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte(strings.ToLower(snap.Status))); err != nil {
				logger.Warn("failed to write health response", "error", err)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			logger.Warn("failed to write status response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	if adminHandler != nil {
		mux.Handle("/admin/", adminHandler)
	}
	return mux
}

func runHealthServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

type poolStatsReporter interface {
	ReportPoolStats(network, netuid string)
}

func collectDBPoolStats(db poolStatsReporter, network string, netuid model.NetUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}
	db.ReportPoolStats(network, netuid.String())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db poolStatsReporter, network string, netuid model.NetUID, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)

	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db, network, netuid); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, network, netuid); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}
