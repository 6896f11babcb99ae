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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tmarkov/authgate/internal/authcore"
	"github.com/tmarkov/authgate/internal/directory"
	"github.com/tmarkov/authgate/internal/httpapi"
	"github.com/tmarkov/authgate/internal/oauth"
	"github.com/tmarkov/authgate/internal/service"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authgate",
		Short:   "Auth service with password login, OAuth identity federation (Google, GitHub, LinkedIn), and JWT bearer tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("token_signing_key", "", "HS256 signing secret for access tokens")
	rootCmd.Flags().String("token_issuer", "authgate", "Issuer claim embedded in access tokens")
	rootCmd.Flags().Duration("token_ttl", 30*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("state_ttl", 5*time.Minute, "OAuth state token lifetime")
	rootCmd.Flags().String("database_url", "sqlite://authgate.db", "Database URL for the user directory (postgres:// or sqlite://)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("google_redirect_uri", "", "Google OAuth redirect URI")
	rootCmd.Flags().String("github_client_id", "", "GitHub OAuth client ID")
	rootCmd.Flags().String("github_client_secret", "", "GitHub OAuth client secret")
	rootCmd.Flags().String("github_redirect_uri", "", "GitHub OAuth redirect URI")
	rootCmd.Flags().String("linkedin_client_id", "", "LinkedIn OAuth client ID")
	rootCmd.Flags().String("linkedin_client_secret", "", "LinkedIn OAuth client secret")
	rootCmd.Flags().String("linkedin_redirect_uri", "", "LinkedIn OAuth redirect URI")

	for _, flagName := range []string{
		"listen_addr", "token_signing_key", "token_issuer", "token_ttl", "state_ttl",
		"database_url", "enable_cors", "cors_allowed_origins",
		"google_client_id", "google_client_secret", "google_redirect_uri",
		"github_client_id", "github_client_secret", "github_redirect_uri",
		"linkedin_client_id", "linkedin_client_secret", "linkedin_redirect_uri",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingSigningKey       = "config.missing_token_signing_key"
	configCodeInvalidTokenTTL         = "config.invalid_token_ttl"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig aggregates everything the process needs, constructed once at
// startup and passed by reference into the components that use it.
type ServerConfig struct {
	ListenAddr         string
	TokenSigningKey    []byte
	TokenIssuer        string
	TokenTTL           time.Duration
	StateTTL           time.Duration
	DatabaseURL        string
	EnableCORS         bool
	CORSAllowedOrigins []string
	Providers          oauth.Config
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates configuration from viper.
func LoadServerConfig() (ServerConfig, error) {
	tokenSigningKey := viper.GetString("token_signing_key")
	if tokenSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingSigningKey, "token_signing_key must be provided")
	}

	tokenTTL := viper.GetDuration("token_ttl")
	if tokenTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidTokenTTL, "token_ttl must be greater than zero")
	}

	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		return ServerConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	stateTTL := 5 * time.Minute
	if configuredStateTTL := viper.GetDuration("state_ttl"); configuredStateTTL > 0 {
		stateTTL = configuredStateTTL
	}

	tokenIssuer := viper.GetString("token_issuer")
	if tokenIssuer == "" {
		tokenIssuer = "authgate"
	}

	return ServerConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		TokenSigningKey:    []byte(tokenSigningKey),
		TokenIssuer:        tokenIssuer,
		TokenTTL:           tokenTTL,
		StateTTL:           stateTTL,
		DatabaseURL:        databaseURL,
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		Providers: oauth.Config{
			Google: oauth.ProviderConfig{
				ClientID:     viper.GetString("google_client_id"),
				ClientSecret: viper.GetString("google_client_secret"),
				RedirectURI:  viper.GetString("google_redirect_uri"),
			},
			GitHub: oauth.ProviderConfig{
				ClientID:     viper.GetString("github_client_id"),
				ClientSecret: viper.GetString("github_client_secret"),
				RedirectURI:  viper.GetString("github_redirect_uri"),
			},
			LinkedIn: oauth.ProviderConfig{
				ClientID:     viper.GetString("linkedin_client_id"),
				ClientSecret: viper.GetString("linkedin_client_secret"),
				RedirectURI:  viper.GetString("linkedin_redirect_uri"),
			},
		},
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := httpapi.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	databaseHandle, openErr := directory.Open(context.Background(), serverConfig.DatabaseURL)
	if openErr != nil {
		return openErr
	}
	userDirectory := directory.NewDirectory(databaseHandle, logger)
	logger.Info("user directory ready", zap.String("database_scheme", schemeOf(serverConfig.DatabaseURL)))

	httpClient := &http.Client{Timeout: oauth.DefaultHTTPTimeout}
	stateStore := oauth.NewMemoryStateStore(serverConfig.StateTTL)
	exchanger := oauth.NewExchanger(httpClient, stateStore, logger)
	metricsRecorder := authcore.NewCounterMetrics()

	orchestrator := service.New(service.Config{
		TokenSigningKey: serverConfig.TokenSigningKey,
		TokenIssuer:     serverConfig.TokenIssuer,
		TokenTTL:        serverConfig.TokenTTL,
	}, userDirectory, serverConfig.Providers, exchanger, httpClient, authcore.NewSystemClock(), logger, metricsRecorder)

	httpapi.MountAuthRoutes(router, orchestrator, logger)

	protected := router.Group("/api")
	protected.Use(httpapi.RequireBearerToken(orchestrator))
	protected.GET("/me", httpapi.HandleCurrentUser(orchestrator, logger))

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func schemeOf(databaseURL string) string {
	for position := 0; position < len(databaseURL); position++ {
		if databaseURL[position] == ':' {
			return databaseURL[:position]
		}
	}
	return ""
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
