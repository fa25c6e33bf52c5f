// Package ledgerlink parses client flags and runs one command against the
// configured backends.
package ledgerlink

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/louisbranch/ledgerlink/internal/client"
	"github.com/louisbranch/ledgerlink/internal/identity"
	entrypoint "github.com/louisbranch/ledgerlink/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/ledgerlink/internal/platform/grpc"
	"github.com/louisbranch/ledgerlink/internal/platform/retry"
	"github.com/louisbranch/ledgerlink/internal/platform/telemetry/metrics"
	"github.com/louisbranch/ledgerlink/internal/platform/timeouts"
	"github.com/louisbranch/ledgerlink/internal/querycache"
	"github.com/louisbranch/ledgerlink/internal/registry"
	"github.com/louisbranch/ledgerlink/internal/session"
	"github.com/louisbranch/ledgerlink/internal/session/storage/sqlite"
	"github.com/louisbranch/ledgerlink/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds ledgerlink command configuration.
type Config struct {
	Endpoint        string `env:"ENDPOINT" envDefault:"127.0.0.1:8090"`
	LedgerAddr      string `env:"LEDGER_ADDR"`
	NFTAddr         string `env:"NFT_ADDR"`
	ForumsAddr      string `env:"FORUMS_ADDR"`
	PreferencesAddr string `env:"PREFERENCES_ADDR"`
	TLSCAFile       string `env:"TLS_CA_FILE"`
	TLSServerName   string `env:"TLS_SERVER_NAME"`

	DialTimeout    time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s"`
	CallTimeout    time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	HealthCheck    bool          `env:"HEALTH_CHECK" envDefault:"false"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"100ms"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"2s"`
	CallsPerSecond float64       `env:"CALLS_PER_SECOND" envDefault:"0"`
	CallBurst      int           `env:"CALL_BURST" envDefault:"1"`

	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CacheRefreshAhead float64       `env:"CACHE_REFRESH_AHEAD" envDefault:"0"`

	ContinuationPath       string        `env:"CONTINUATION_PATH"`
	ContinuationTTL        time.Duration `env:"CONTINUATION_TTL" envDefault:"24h"`
	ContinuationPassphrase string        `env:"CONTINUATION_PASSPHRASE"`
	Mnemonic               string        `env:"MNEMONIC"`

	MetricsAddr string `env:"METRICS_ADDR"`

	// Args are the positional arguments: the command name and its operands.
	Args []string
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Default backend address")
	fs.StringVar(&cfg.LedgerAddr, "ledger-addr", cfg.LedgerAddr, "Ledger backend address")
	fs.StringVar(&cfg.NFTAddr, "nft-addr", cfg.NFTAddr, "NFT backend address")
	fs.StringVar(&cfg.ForumsAddr, "forums-addr", cfg.ForumsAddr, "Forums backend address")
	fs.StringVar(&cfg.PreferencesAddr, "preferences-addr", cfg.PreferencesAddr, "Preferences backend address")
	fs.StringVar(&cfg.TLSCAFile, "tls-ca-file", cfg.TLSCAFile, "CA bundle; empty dials plaintext")
	fs.StringVar(&cfg.TLSServerName, "tls-server-name", cfg.TLSServerName, "TLS server name override")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Backend dial timeout")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Per-call timeout")
	fs.BoolVar(&cfg.HealthCheck, "health-check", cfg.HealthCheck, "Wait for backend health before use")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Attempts per call on network errors")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Default cache freshness window")
	fs.StringVar(&cfg.ContinuationPath, "continuation-path", cfg.ContinuationPath, "SQLite file for session continuations")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Address serving /metrics; empty disables")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	if r := c.CacheRefreshAhead; r != 0 && (r < 0 || r >= 1) {
		return fmt.Errorf("cache refresh-ahead must be in (0, 1): %v", r)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1: %d", c.MaxAttempts)
	}
	if c.ContinuationPassphrase != "" && c.ContinuationPath == "" {
		return errors.New("continuation passphrase requires a continuation path")
	}
	return nil
}

func (c Config) connection() registry.ConnectionContext {
	endpoints := map[registry.Service]string{}
	for service, addr := range map[registry.Service]string{
		registry.Ledger:      c.LedgerAddr,
		registry.NFT:         c.NFTAddr,
		registry.Forums:      c.ForumsAddr,
		registry.Preferences: c.PreferencesAddr,
	} {
		if addr != "" {
			endpoints[service] = addr
		}
	}
	return registry.ConnectionContext{
		Endpoint:  c.Endpoint,
		Endpoints: endpoints,
		Trust:     platformgrpc.TrustConfig{CAFile: c.TLSCAFile, ServerName: c.TLSServerName},
	}
}

// Run executes the configured command, writing its output to stdout.
func Run(ctx context.Context, cfg Config, stdout io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedgerlink, func(ctx context.Context) error {
		return run(ctx, cfg, stdout, deps{logger: slog.Default()})
	})
}

// deps are the collaborators tests replace.
type deps struct {
	dialer platformgrpc.Dialer
	logger *slog.Logger
}

func run(ctx context.Context, cfg Config, stdout io.Writer, d deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Args) == 0 {
		return fmt.Errorf("command is required: one of %s", commandNames())
	}
	cmd, ok := commands[cfg.Args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: want one of %s", cfg.Args[0], commandNames())
	}

	registryMetrics := prometheus.NewRegistry()
	m, err := metrics.New(registryMetrics)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, registryMetrics, d.logger)
		defer stop()
	}

	var sessionOpts session.Options
	if cfg.ContinuationPath != "" {
		store, err := sqlite.Open(ctx, cfg.ContinuationPath)
		if err != nil {
			return fmt.Errorf("open continuation store: %w", err)
		}
		defer store.Close()
		sessionOpts = session.Options{
			Continuations:   store,
			Passphrase:      cfg.ContinuationPassphrase,
			ContinuationTTL: cfg.ContinuationTTL,
		}
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialBackoff,
		MaxInterval:     cfg.MaxBackoff,
	}
	c := client.New(client.Options{
		Connection: cfg.connection(),
		Registry: registry.Options{
			Dialer:         d.dialer,
			DialTimeout:    cfg.DialTimeout,
			CheckHealth:    cfg.HealthCheck,
			CallsPerSecond: cfg.CallsPerSecond,
			CallBurst:      cfg.CallBurst,
			Transport:      transport.Options{CallTimeout: cfg.CallTimeout},
		},
		Cache: querycache.Options{
			TTL:          cfg.CacheTTL,
			RefreshAhead: cfg.CacheRefreshAhead,
			Retry:        policy,
		},
		Session: sessionOpts,
		Metrics: m,
		Logger:  d.logger,
	})
	defer c.Close()

	if err := signIn(ctx, c, cfg); err != nil {
		return err
	}
	return cmd.run(ctx, c, cfg.Args[1:], stdout)
}

// signIn prefers an explicit recovery phrase and falls back to a stored
// continuation. Neither leaves the client anonymous.
func signIn(ctx context.Context, c *client.Client, cfg Config) error {
	if cfg.Mnemonic != "" {
		if _, err := c.Login(ctx, identity.MnemonicAuthenticator{Mnemonic: cfg.Mnemonic}); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		return nil
	}
	if _, err := c.Resume(ctx); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	return nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
