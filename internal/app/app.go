// Package app wires configuration, storage, the upstream client and the
// services into a runnable stocksync instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/stocksync/internal/clients/kiwoom"
	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/services/pricesync"
	"github.com/bobmcallan/stocksync/internal/services/stock"
	"github.com/bobmcallan/stocksync/internal/services/trade"
	"github.com/bobmcallan/stocksync/internal/storage"
)

// Credential names in system_kv
const (
	kiwoomAppKeyName    = "kiwoom_app_key"
	kiwoomSecretKeyName = "kiwoom_secret_key"
)

// ErrAppClosing is returned by RunTracked once Close has begun.
var ErrAppClosing = errors.New("app is shutting down")

// App holds all initialized services and clients.
// It is the shared core of every cmd/stocksync-server subcommand.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	KiwoomClient     *kiwoom.Client
	Tokens           *kiwoom.TokenCache
	SyncHub          *pricesync.SyncWSHub
	PriceSyncService interfaces.PriceSyncService
	StockService     interfaces.StockService
	TradeService     interfaces.TradeService
	StartupTime      time.Time

	wg              sync.WaitGroup
	hubCancel       context.CancelFunc
	schedulerCancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	lifetime       context.Context
	lifetimeCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath picks the config file: the given path, STOCKSYNC_CONFIG,
// stocksync.toml next to the binary, then config/stocksync.toml.
func resolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("STOCKSYNC_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "stocksync.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/stocksync.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and initializes storage, the Kiwoom client and
// all services. configPath may be empty.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	config, err := common.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(getBinaryDir(), config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := newApp(config, logger, storageManager, resolveKiwoomClient(ctx, config, storageManager.InternalStore(), logger))
	a.StartupTime = startupStart

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// resolveKiwoomClient builds the upstream client from credentials in env,
// system_kv or the config file. Missing credentials leave the client unable
// to authenticate, which aborts each cycle with a logged error.
func resolveKiwoomClient(ctx context.Context, config *common.Config, kv interfaces.InternalStore, logger *common.Logger) *kiwoom.Client {
	kc := config.Clients.Kiwoom

	appKey, err := common.ResolveAPIKey(ctx, kv, kiwoomAppKeyName, kc.AppKey)
	if err != nil {
		logger.Warn().Msg("Kiwoom app key not configured - price sync will fail to authenticate")
	}
	secretKey, err := common.ResolveAPIKey(ctx, kv, kiwoomSecretKeyName, kc.SecretKey)
	if err != nil {
		logger.Warn().Msg("Kiwoom secret key not configured - price sync will fail to authenticate")
	}

	opts := []kiwoom.ClientOption{
		kiwoom.WithLogger(logger),
		kiwoom.WithTimeout(kc.GetTimeout()),
		kiwoom.WithPageDelay(config.Sync.GetPageDelay()),
	}
	if kc.Host != "" {
		opts = append(opts, kiwoom.WithBaseURL(kc.Host))
	}
	if kc.RateLimit > 0 {
		opts = append(opts, kiwoom.WithRateLimit(kc.RateLimit))
	}
	if kc.MaxRetries > 0 {
		opts = append(opts, kiwoom.WithMaxRetries(kc.MaxRetries))
	}
	return kiwoom.NewClient(appKey, secretKey, opts...)
}

// newApp assembles the services around an already opened storage manager.
func newApp(config *common.Config, logger *common.Logger, storageManager interfaces.StorageManager, client *kiwoom.Client) *App {
	loc := config.Sync.GetLocation()
	tokens := kiwoom.NewTokenCache(client, logger)
	hub := pricesync.NewSyncWSHub(logger)

	return &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		KiwoomClient:     client,
		Tokens:           tokens,
		SyncHub:          hub,
		PriceSyncService: pricesync.NewService(storageManager, client, tokens, hub, logger, pricesync.OptionsFromConfig(&config.Sync)),
		StockService:     stock.NewService(storageManager, logger, loc),
		TradeService:     trade.NewService(storageManager, logger, loc),
		StartupTime:      time.Now(),
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (a *App) safeGo(name string, fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in app goroutine")
			}
		}()
		fn()
	}()
}

// RunTracked runs fn on the caller's goroutine with a context that lives
// until Close. Close waits for every tracked fn to return before closing
// storage.
func (a *App) RunTracked(fn func(ctx context.Context) error) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAppClosing
	}
	if a.lifetime == nil {
		a.lifetime, a.lifetimeCancel = context.WithCancel(context.Background())
	}
	ctx := a.lifetime
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()
	return fn(ctx)
}

// StoreKiwoomCredentials saves upstream credentials to system_kv, where they
// take precedence over the config file on the next start.
func (a *App) StoreKiwoomCredentials(ctx context.Context, appKey, secretKey string) error {
	if appKey == "" && secretKey == "" {
		return errors.New("no credentials given")
	}
	kv := a.Storage.InternalStore()
	if appKey != "" {
		if err := kv.SetSystemKV(ctx, kiwoomAppKeyName, appKey); err != nil {
			return fmt.Errorf("store app key: %w", err)
		}
	}
	if secretKey != "" {
		if err := kv.SetSystemKV(ctx, kiwoomSecretKeyName, secretKey); err != nil {
			return fmt.Errorf("store secret key: %w", err)
		}
	}
	return nil
}

// StartSyncHub starts delivering sync events to WebSocket subscribers.
func (a *App) StartSyncHub() {
	ctx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	a.safeGo("sync-hub", func() { a.SyncHub.Run(ctx) })
}

// StartSyncScheduler launches the daily price sync scheduler when enabled.
func (a *App) StartSyncScheduler() {
	if !a.Config.Sync.Enabled {
		a.Logger.Info().Msg("Sync scheduler: disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	a.safeGo("sync-scheduler", func() {
		startSyncScheduler(ctx, a.PriceSyncService, &a.Config.Sync, a.Logger, time.Now)
	})
}

// Close releases all resources held by the App.
// Shutdown order: refuse new tracked runs, cancel scheduler and hub, wait
// for goroutines and tracked runs, close storage.
func (a *App) Close() {
	a.mu.Lock()
	a.closed = true
	if a.lifetimeCancel != nil {
		a.lifetimeCancel()
	}
	a.mu.Unlock()

	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.hubCancel != nil {
		a.hubCancel()
		a.hubCancel = nil
	}
	a.wg.Wait()
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
