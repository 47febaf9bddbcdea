package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/campbot/internal/config"
	"github.com/MarcoPoloResearchLab/campbot/internal/database"
	"github.com/MarcoPoloResearchLab/campbot/internal/logging"
	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "campbot",
		Short:         "Camptocamp cache synchronisation and markdown clean-up bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSyncCommand(),
		newSearchCommand(),
		newFixMarkdownCommand(),
		newServeCommand(),
		newTokenCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "campbot:", err)
		stop()
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite cache path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Also write JSON logs to this rotated file")
	flags.String("api-url", defaults.GetString("remote.api_url"), "Platform API base URL")
	flags.String("ui-url", defaults.GetString("remote.ui_url"), "Platform UI base URL used in reports")
	flags.Duration("delay", defaults.GetDuration("remote.min_delay"), "Minimum delay between two API requests")
	flags.String("login", "", "Bot login")
	flags.String("password", "", "Bot password")
	flags.Int("batch-size", defaults.GetInt("sync.batch_size"), "Contributions committed per transaction")
	flags.String("oldest-date", defaults.GetString("sync.oldest_date"), "Oldest contribution date read from the feed")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address for serve")
	flags.String("signing-secret", "", "HS256 secret protecting the API (overrides env)")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "remote.api_url", "api-url")
	bindFlag(cmd, "remote.ui_url", "ui-url")
	bindFlag(cmd, "remote.min_delay", "delay")
	bindFlag(cmd, "remote.username", "login")
	bindFlag(cmd, "remote.password", "password")
	bindFlag(cmd, "sync.batch_size", "batch-size")
	bindFlag(cmd, "sync.oldest_date", "oldest-date")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("campbot")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// app holds what every command needs once configuration is loaded.
type app struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	store  *store.Store
}

func openApp() (*app, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLoggerWithFile(appConfig.LogLevel, logging.FileConfig{
		Path:      appConfig.LogFile,
		MaxSizeMB: appConfig.LogMaxSizeMB,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	cache, err := store.NewStore(store.Config{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &app{config: appConfig, logger: logger, db: db, store: cache}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) newClient() (*remote.Client, error) {
	return remote.NewClient(remote.ClientConfig{
		APIURL:   a.config.APIURL,
		UIURL:    a.config.UIURL,
		MinDelay: a.config.MinDelay,
		Logger:   a.logger,
	})
}

func (a *app) newLoggedInClient(ctx context.Context) (*remote.Client, error) {
	if !a.config.HasCredentials() {
		return nil, errors.New("--login and --password are required")
	}
	client, err := a.newClient()
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, a.config.Username, a.config.Password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return client, nil
}
