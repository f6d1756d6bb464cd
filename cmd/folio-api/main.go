package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/folio/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/config"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/database"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/server"
	"github.com/MarcoPoloResearchLab/folio/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "folio-api",
		Short: "Folio document hierarchy service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString(config.KeyDatabaseDriver), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString(config.KeyDatabasePath), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("session-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt(config.KeySessionTTLMinutes), "Issued session TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("redis-url", "", "Redis URL for cross-instance change notifications")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")

	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyDatabaseDriver, "database-driver")
	bindFlag(cmd, config.KeyDatabasePath, "database-path")
	bindFlag(cmd, config.KeyDatabaseDSN, "database-dsn")
	bindFlag(cmd, config.KeySessionSigningSecret, "session-secret")
	bindFlag(cmd, config.KeySessionTTLMinutes, "session-ttl-minutes")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeyRealtimeRedisURL, "redis-url")
	bindFlag(cmd, config.KeyCORSAllowedOrigins, "allowed-origins")
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

func newIssueSessionCommand() *cobra.Command {
	var identity auth.SessionIdentity
	cmd := &cobra.Command{
		Use:   "issue-session",
		Short: "Print a session cookie for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningSecret),
				Issuer:        appConfig.SessionIssuer,
				CookieName:    appConfig.SessionCookieName,
				TTL:           appConfig.SessionTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(identity)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n# expires %s\n", issuer.CookieName(), token, expiresAt.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user-id", "", "Session subject")
	cmd.Flags().StringVar(&identity.Email, "email", "", "Session email")
	cmd.Flags().StringVar(&identity.DisplayName, "display-name", "", "Author name shown on documents")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realtime, err := newChangeBroker(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Users:            userService,
		DocumentsService: documentsService,
		Realtime:         realtime,
		Logger:           logger,
		AllowedOrigins:   appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newChangeBroker fans notifications out through Redis when configured and
// keeps them in-process otherwise.
func newChangeBroker(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (server.ChangeBroker, error) {
	if appConfig.RealtimeRedisURL == "" {
		return server.NewRealtimeDispatcher(), nil
	}
	client, err := server.NewRedisClient(ctx, appConfig.RealtimeRedisURL)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	broker, err := server.NewRedisBroker(server.RedisBrokerConfig{
		Client:  client,
		Channel: appConfig.RealtimeChannel,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if err := broker.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("realtime broker started", zap.String("channel", appConfig.RealtimeChannel))
	return broker, nil
}
