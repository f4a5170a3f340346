package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/sync/errgroup"

	"telefeed/internal/cache"
	"telefeed/internal/feed"
	"telefeed/internal/platform/telegram"
	"telefeed/internal/render"
	"telefeed/internal/server"
	"telefeed/internal/signing"
)

const (
	envConfigFile           = "TELEFEED_CONFIG_FILE"
	defaultConfigFilePath   = "config/telefeed.json"
	alternateConfigFilePath = "bin/config/telefeed.json"

	defaultListenAddress     = ":8080"
	defaultShutdownTimeout   = 10 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second

	defaultSessionFile = ".cache/telegram/session.json"
	defaultDataDir     = ".cache/content"
	defaultIndexFile   = ".cache/index.json"
	defaultKeyFile     = ".cache/signing.key"
)

type appConfig struct {
	logLevel        slog.Level
	listenAddress   string
	shutdownTimeout time.Duration

	appID       int
	appHash     string
	botToken    string
	phone       string
	code        string
	password    string
	sessionFile string

	dataDir           string
	indexFile         string
	retention         time.Duration
	reconcileInterval time.Duration
	downloadInterval  time.Duration

	keyFile      string
	enforceSigns bool
}

type fileConfig struct {
	LogLevel        string             `json:"log_level"`
	ListenAddress   string             `json:"listen_address"`
	ShutdownTimeout string             `json:"shutdown_timeout"`
	Telegram        fileTelegramConfig `json:"telegram"`
	Cache           fileCacheConfig    `json:"cache"`
	Signing         fileSigningConfig  `json:"signing"`
}

type fileTelegramConfig struct {
	AppID       int    `json:"app_id"`
	AppHash     string `json:"app_hash"`
	BotToken    string `json:"bot_token"`
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	Password    string `json:"password"`
	SessionFile string `json:"session_file"`
}

type fileCacheConfig struct {
	Directory         string `json:"directory"`
	IndexFile         string `json:"index_file"`
	Retention         string `json:"retention"`
	ReconcileInterval string `json:"reconcile_interval"`
	DownloadInterval  string `json:"download_interval"`
}

type fileSigningConfig struct {
	KeyFile string `json:"key_file"`
	Enforce *bool  `json:"enforce"`
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionStorage, err := newSessionStorage(cfg.sessionFile)
	if err != nil {
		return fmt.Errorf("new session storage: %w", err)
	}
	gotdClient := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		SessionStorage: sessionStorage,
	})

	err = gotdClient.Run(ctx, func(runCtx context.Context) error {
		if err := authenticate(runCtx, logger, gotdClient, cfg); err != nil {
			return fmt.Errorf("authenticate telegram client: %w", err)
		}

		return serve(runCtx, logger, gotdClient, cfg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run telegram client: %w", err)
	}

	return nil
}

// serve wires the request path and runs the HTTP server next to the cache
// reconciler until the context is cancelled.
func serve(ctx context.Context, logger *slog.Logger, gotdClient *gotdtelegram.Client, cfg appConfig) error {
	client, err := telegram.NewClient(gotdClient, logger)
	if err != nil {
		return fmt.Errorf("new platform client: %w", err)
	}

	signer, err := newSigner(cfg)
	if err != nil {
		return fmt.Errorf("new signer: %w", err)
	}
	renderer, err := render.New(signer, render.DefaultConfig(), logger)
	if err != nil {
		return fmt.Errorf("new renderer: %w", err)
	}
	assembler, err := feed.NewAssembler(client, renderer, logger)
	if err != nil {
		return fmt.Errorf("new feed assembler: %w", err)
	}
	index, err := cache.NewIndex(cfg.indexFile)
	if err != nil {
		return fmt.Errorf("new cache index: %w", err)
	}
	manager, err := cache.NewManager(client, index, cfg.dataDir, logger,
		cache.WithRetention(cfg.retention),
		cache.WithReconcileInterval(cfg.reconcileInterval),
		cache.WithDownloadInterval(cfg.downloadInterval),
	)
	if err != nil {
		return fmt.Errorf("new cache manager: %w", err)
	}
	httpFacade, err := server.New(client, renderer, assembler, manager, signer, logger)
	if err != nil {
		return fmt.Errorf("new http server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.listenAddress,
		Handler:           httpFacade.Routes(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := manager.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run cache reconciler: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("http server listening", "address", cfg.listenAddress, "signing_enforced", signer.Enforced())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newSigner(cfg appConfig) (*signing.Signer, error) {
	if !cfg.enforceSigns {
		return signing.NewDisabled(), nil
	}

	return signing.New(cfg.keyFile)
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// authenticate restores the persisted session when possible and otherwise
// performs a fresh bot or user login from the configured credentials.
func authenticate(ctx context.Context, logger *slog.Logger, client *gotdtelegram.Client, cfg appConfig) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored", "session_file", cfg.sessionFile)
		return nil
	}

	if cfg.botToken != "" {
		if _, err := client.Auth().Bot(ctx, cfg.botToken); err != nil {
			return fmt.Errorf("bot login: %w", err)
		}
		logger.Info("telegram authorized with bot token")
		return nil
	}

	if cfg.phone == "" {
		return fmt.Errorf("no stored session; configure telegram.bot_token or telegram.phone")
	}

	codeAuthenticator := auth.CodeAuthenticatorFunc(func(context.Context, *tg.AuthSentCode) (string, error) {
		if cfg.code == "" {
			return "", fmt.Errorf("telegram.code is required for first user login")
		}
		return cfg.code, nil
	})
	var authenticator auth.UserAuthenticator = auth.CodeOnly(cfg.phone, codeAuthenticator)
	if cfg.password != "" {
		authenticator = auth.Constant(cfg.phone, cfg.password, codeAuthenticator)
	}

	if err := client.Auth().IfNecessary(ctx, auth.NewFlow(authenticator, auth.SendCodeOptions{})); err != nil {
		return fmt.Errorf("user login: %w", err)
	}
	logger.Info("telegram authorized with user flow", "session_file", cfg.sessionFile)

	return nil
}

func loadConfig() (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:        slog.LevelInfo,
		listenAddress:   defaultListenAddress,
		shutdownTimeout: defaultShutdownTimeout,

		sessionFile: defaultSessionFile,

		dataDir:   defaultDataDir,
		indexFile: defaultIndexFile,

		keyFile:      defaultKeyFile,
		enforceSigns: true,
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if address := strings.TrimSpace(parsed.ListenAddress); address != "" {
		cfg.listenAddress = address
	}
	if err := applyDuration(&cfg.shutdownTimeout, parsed.ShutdownTimeout, "shutdown_timeout"); err != nil {
		return err
	}

	cfg.appID = parsed.Telegram.AppID
	cfg.appHash = strings.TrimSpace(parsed.Telegram.AppHash)
	cfg.botToken = strings.TrimSpace(parsed.Telegram.BotToken)
	cfg.phone = strings.TrimSpace(parsed.Telegram.Phone)
	cfg.code = strings.TrimSpace(parsed.Telegram.Code)
	cfg.password = strings.TrimSpace(parsed.Telegram.Password)
	if sessionFile := strings.TrimSpace(parsed.Telegram.SessionFile); sessionFile != "" {
		cfg.sessionFile = sessionFile
	}

	if directory := strings.TrimSpace(parsed.Cache.Directory); directory != "" {
		cfg.dataDir = directory
	}
	if indexFile := strings.TrimSpace(parsed.Cache.IndexFile); indexFile != "" {
		cfg.indexFile = indexFile
	}
	if err := applyDuration(&cfg.retention, parsed.Cache.Retention, "cache.retention"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.reconcileInterval, parsed.Cache.ReconcileInterval, "cache.reconcile_interval"); err != nil {
		return err
	}
	if err := applyDuration(&cfg.downloadInterval, parsed.Cache.DownloadInterval, "cache.download_interval"); err != nil {
		return err
	}

	if keyFile := strings.TrimSpace(parsed.Signing.KeyFile); keyFile != "" {
		cfg.keyFile = keyFile
	}
	if parsed.Signing.Enforce != nil {
		cfg.enforceSigns = *parsed.Signing.Enforce
	}

	return nil
}

func applyDuration(target *time.Duration, raw string, scope string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", scope, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("parse %s: must be > 0", scope)
	}
	*target = parsed

	return nil
}

func validateAppConfig(cfg *appConfig) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.appID <= 0 {
		return fmt.Errorf("telegram.app_id must be > 0")
	}
	if cfg.appHash == "" {
		return fmt.Errorf("telegram.app_hash is required")
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
