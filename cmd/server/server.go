package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stephnangue/vanguard/config"
	"github.com/stephnangue/vanguard/credential"
	"github.com/stephnangue/vanguard/gateway"
	vanguardhttp "github.com/stephnangue/vanguard/http"
	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/policy"
	"github.com/stephnangue/vanguard/ratelimit"
	"github.com/stephnangue/vanguard/storage"
	"github.com/stephnangue/vanguard/token"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const shutdownGrace = 10 * time.Second

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a Vanguard server that responds to API requests",
		Long: `
Usage: vanguard server [options]

  This command starts a Vanguard server that terminates client authentication
  and forwards authorized requests to the backend services named in the
  configuration file:

      $ vanguard server --config=/etc/vanguard/config.hcl
  `,
		RunE: run,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/vanguard.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("config file path is required. Use -c or --config flag")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := buildLogger(cfg)
	defer log.Close()

	props, transport, err := buildProperties(cfg, log)
	if err != nil {
		return err
	}

	listener, err := cfg.GetApiListener()
	if err != nil {
		return fmt.Errorf("config requires an api listener block: %w", err)
	}

	infoKeys := make([]string, 0, 8)
	info := make(map[string]string)
	info["log level"] = cfg.LogLevel
	infoKeys = append(infoKeys, "log level")
	info["log format"] = cfg.LogFormat
	infoKeys = append(infoKeys, "log format")
	info["api address"] = listener.Address
	infoKeys = append(infoKeys, "api address")
	info["registered services"] = fmt.Sprintf("%d", props.Registry.Len())
	infoKeys = append(infoKeys, "registered services")
	if cfg.Storage != nil {
		info["storage"] = cfg.Storage.Type
		infoKeys = append(infoKeys, "storage")
	}

	sort.Strings(infoKeys)
	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Vanguard server configuration:\n\n")
	titleCaser := cases.Title(language.English, cases.NoLower)
	for _, k := range infoKeys {
		fmt.Fprintf(cmd.OutOrStdout(), "%24s: %s\n", titleCaser.String(k), info[k])
	}

	// Keep the upstream connection pool tidy for as long as we serve
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go gateway.CleanupIdleConnections(ctx, transport)

	server := &http.Server{
		Addr:              listener.Address,
		Handler:           vanguardhttp.Handler(props),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		var err error
		if listener.TLSEnabled {
			err = server.ListenAndServeTLS(listener.TLSCertFile, listener.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Vanguard server started! Log data will stream in below:\n")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("listener failed: %w", err)
	case sig := <-signals:
		fmt.Fprintf(cmd.OutOrStdout(), "Vanguard shutdown triggered by signal: %s\n", sig)
	case <-ctx.Done():
		fmt.Fprintf(cmd.OutOrStdout(), "Vanguard shutdown triggered\n")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Vanguard server stopped\n")
	return nil
}

// buildLogger constructs the process logger from the log settings
func buildLogger(cfg *config.Config) logger.Logger {
	logConfig := logger.DefaultConfig()
	logConfig.Level = logger.ParseLogLevel(cfg.LogLevel)
	logConfig.Format = logger.ParseOutputFormat(cfg.LogFormat)
	if cfg.LogFile != "" {
		logConfig.FileConfig = &logger.FileConfig{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogRotateMegabytes,
			MaxBackups: cfg.LogRotateMaxFiles,
		}
	}
	return logger.NewZerologLogger(logConfig)
}

// buildProperties assembles every component the HTTP handler needs
func buildProperties(cfg *config.Config, log logger.Logger) (*vanguardhttp.HandlerProperties, *http.Transport, error) {
	store, err := buildStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	accessTTL, err := config.ParseDuration(cfg.Token.AccessTTL, token.DefaultAccessTTL)
	if err != nil {
		return nil, nil, err
	}
	refreshTTL, err := config.ParseDuration(cfg.Token.RefreshTTL, token.DefaultRefreshTTL)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := token.NewService(token.Config{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return nil, nil, err
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := gateway.NewRegistry(log)
	for _, svc := range cfg.Services {
		timeout, err := config.ParseDuration(svc.Timeout, gateway.DefaultTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("service %q: %w", svc.Name, err)
		}
		err = registry.Register(&gateway.ServiceRegistration{
			Name:          svc.Name,
			UpstreamURL:   svc.UpstreamURL,
			PathPrefix:    svc.PathPrefix,
			RewritePrefix: svc.RewritePrefix,
			Auth:          policy.ParseAuthMode(svc.Auth),
			RequiredRoles: svc.RequiredRoles,
			Timeout:       timeout,
			RetryCount:    svc.RetryCount,
			HealthPath:    svc.HealthPath,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	transport := gateway.NewTransport()

	props := &vanguardhttp.HandlerProperties{
		Logger:      log,
		Tokens:      tokens,
		Credentials: credential.NewService(credential.DefaultCost),
		Users:       storage.NewUserStore(store, nil),
		Limiter:     limiter,
		Engine:      policy.NewEngine(tokens, log),
		Registry:    registry,
		Forwarder:   gateway.NewForwarder(transport, log),
		Health:      gateway.NewHealthChecker(registry, transport, log),
	}
	return props, transport, nil
}

func buildStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage == nil {
		return storage.NewMemoryStorage(), nil
	}
	switch cfg.Storage.Type {
	case "inmem", "":
		return storage.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func buildLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	limiterCfg := ratelimit.Config{}
	if cfg.RateLimit != nil {
		window, err := config.ParseDuration(cfg.RateLimit.Window, ratelimit.DefaultWindow)
		if err != nil {
			return nil, err
		}
		limiterCfg.Window = window
		limiterCfg.MaxAttempts = cfg.RateLimit.MaxAttempts
	}
	return ratelimit.NewLimiter(limiterCfg), nil
}
