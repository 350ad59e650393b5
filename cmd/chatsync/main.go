package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/cache"
	"github.com/quillchat/chatsync/internal/config"
	"github.com/quillchat/chatsync/internal/database"
	"github.com/quillchat/chatsync/internal/logging"
	"github.com/quillchat/chatsync/internal/merge"
	"github.com/quillchat/chatsync/internal/primer"
	"github.com/quillchat/chatsync/internal/remote"
	"github.com/quillchat/chatsync/internal/resolver"
	"github.com/quillchat/chatsync/internal/server"
	"github.com/quillchat/chatsync/internal/signals"
	synccoord "github.com/quillchat/chatsync/internal/sync"
	"github.com/quillchat/chatsync/internal/unread"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatsync",
		Short: "Chat event-window synchronization daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite event cache path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("user-id", "", "Local user id")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Chat service base URL")
	cmd.PersistentFlags().String("signals-url", "", "Websocket signaling relay URL (optional)")
	cmd.PersistentFlags().Int("max-messages", defaults.GetInt("sync.max_messages"), "Message cap per loaded page")
	cmd.PersistentFlags().Int("max-events", defaults.GetInt("sync.max_events"), "Event cap per loaded page")
	cmd.PersistentFlags().Int("max-missing", defaults.GetInt("sync.max_missing"), "Gap threshold before a full page fetch")
	cmd.PersistentFlags().Int("fetch-timeout-seconds", defaults.GetInt("sync.fetch_timeout_seconds"), "Remote fetch timeout in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "user.id", "user-id")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "signals.url", "signals-url")
	bindFlag(cmd, "sync.max_messages", "max-messages")
	bindFlag(cmd, "sync.max_events", "max-events")
	bindFlag(cmd, "sync.max_missing", "max-missing")
	bindFlag(cmd, "sync.fetch_timeout_seconds", "fetch-timeout-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := cache.NewSQLiteStore(cache.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	eventResolver, err := resolver.New(resolver.Config{
		Cache:       store,
		Logger:      logger,
		MaxMessages: appConfig.MaxMessages,
		MaxEvents:   appConfig.MaxEvents,
		MaxMissing:  appConfig.MaxMissing,
	})
	if err != nil {
		return err
	}

	tracker := unread.NewTracker()

	engine, err := merge.NewEngine(merge.EngineConfig{
		ReadState:   tracker,
		LocalUserID: appConfig.UserID,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logReader, err := remote.NewHTTPLogReader(remote.HTTPLogReaderConfig{
		BaseURL: appConfig.RemoteBaseURL,
	})
	if err != nil {
		return err
	}

	coordinator, err := synccoord.New(synccoord.Config{
		Resolver: eventResolver,
		Remote:   logReader,
		Engine:   engine,
		Tracker:  tracker,
		Cache:    store,
		Logger:   logger,
		Caps: remote.PageCaps{
			Messages: appConfig.MaxMessages,
			Events:   appConfig.MaxEvents,
		},
		FetchTimeout: appConfig.FetchTimeout,
	})
	if err != nil {
		return err
	}

	cachePrimer, err := primer.New(primer.Config{
		Coordinator: coordinator,
		Cache:       store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Coordinator: coordinator,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := cachePrimer.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("cache primer stopped", zap.Error(err))
		}
	}()

	if appConfig.SignalsURL != "" {
		ingestor, err := signals.NewIngestor(signals.IngestorConfig{
			Engine: engine,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		feed, err := signals.NewFeed(signals.FeedConfig{
			URL:      appConfig.SignalsURL,
			Ingestor: ingestor,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := feed.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("signal feed stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
