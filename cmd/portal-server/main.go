package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hospital/portal/internal/config"
	"github.com/hospital/portal/internal/domain/billing"
	"github.com/hospital/portal/internal/domain/clinical"
	"github.com/hospital/portal/internal/domain/content"
	"github.com/hospital/portal/internal/domain/identity"
	"github.com/hospital/portal/internal/domain/scheduling"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
	"github.com/hospital/portal/internal/platform/metrics"
	"github.com/hospital/portal/internal/platform/middleware"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/internal/platform/password"
	"github.com/hospital/portal/internal/platform/payment"
	"github.com/hospital/portal/internal/platform/websocket"
)

const (
	requestTimeout   = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
	webhookTolerance = 5 * time.Minute
	revocationSweep  = time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Hospital portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir := migrationsDir(cmd, cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) from %s.\n", count, dir)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

// adminCmd bootstraps the first administrator. Every other account is
// provisioned through the API.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := os.Getenv("ADMIN_PASSWORD")
			if plain == "" {
				return fmt.Errorf("ADMIN_PASSWORD must be set")
			}
			accountIn, profileIn := adminInputs(cmd, plain)

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := newIdentityService(pool, auth.NewEngine(), cfg, logger)
			account, err := svc.CreateAdmin(ctx, accountIn, profileIn)
			if err != nil {
				return err
			}
			fmt.Printf("Created administrator %s (%s).\n", account.User.Username, account.User.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "admin", "Login name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("name", "Administrator", "Full name")
	createCmd.Flags().String("gender", identity.GenderOther, "Male, Female or Other")
	_ = createCmd.MarkFlagRequired("email")

	cmd.AddCommand(createCmd)
	return cmd
}

// newLogger writes to stdout and, when LOG_FILE is set, to a size-rotated
// file as well. The file always receives JSON.
func adminInputs(cmd *cobra.Command, password string) (identity.AccountInput, identity.ProfileInput) {
	username, _ := cmd.Flags().GetString("username")
	email, _ := cmd.Flags().GetString("email")
	fullName, _ := cmd.Flags().GetString("name")
	gender, _ := cmd.Flags().GetString("gender")
	return identity.AccountInput{Username: username, Email: email, Password: password, PasswordConfirm: password},
		identity.ProfileInput{FullName: fullName, Gender: gender}
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		l, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("LOG_LEVEL: %w", err)
		}
		level = l
	}

	var stdout io.Writer = os.Stdout
	if cfg.IsDev() {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	out := stdout
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func newIdentityService(pool *pgxpool.Pool, policy *auth.Engine, cfg *config.Config, logger zerolog.Logger) *identity.Service {
	svc := identity.NewService(
		db.NewTransactor(pool),
		identity.NewUserRepo(pool),
		identity.NewPatientRepo(pool),
		identity.NewDoctorRepo(pool),
		identity.NewAdminRepo(pool),
		password.NewHasher(password.DefaultParams()),
		policy,
		logger,
	)
	svc.SetPhoneRegion(cfg.PhoneRegion)
	return svc
}

// resolveSigningKey returns the session token key. Outside development an
// empty key is a configuration error; in development a random key is
// generated, which invalidates sessions on restart. The second return value
// reports whether the key was generated.
func resolveSigningKey(value string, dev bool) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	if !dev {
		return nil, false, fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

func newMailSender(cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	if !cfg.MailEnabled() {
		return notification.LogSender{Logger: logger}, nil
	}
	sender, err := notification.NewSMTPSender(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func newRevocationStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, func(), error) {
	if cfg.RedisURL == "" {
		store := auth.NewMemoryRevocationStore(revocationSweep)
		logger.Warn().Msg("REDIS_URL not set, logouts are kept in process memory")
		return store, store.Close, nil
	}
	store, err := auth.NewRedisRevocationStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Sessions
	signingKey, generated, err := resolveSigningKey(cfg.JWTSigningKey, cfg.IsDev())
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, using a random key; sessions end on restart")
	}
	tokens, err := auth.NewTokenIssuer(auth.JWTConfig{
		SigningKey: signingKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		TTL:        cfg.TokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("token issuer")
	}
	revocations, closeRevocations, err := newRevocationStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeRevocations()

	// Metrics and policy
	m := metrics.New()
	policy := auth.NewEngine()
	policy.OnDecision = func(_ *auth.Principal, op auth.Operation, t auth.Target, d auth.Decision) {
		m.ObserveDecision(string(t.Type), string(op), string(d.Reason))
	}

	// Notifications
	sender, err := newMailSender(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("mail sender")
	}
	dispatcher := notification.NewDispatcher(sender, notification.NewTemplateEngine(),
		logger.With().Str("component", "notification").Logger(), cfg.SMTPTimeout)
	dispatcher.OnFailure = func(ev notification.Event, _ error) {
		m.ObserveNotificationFailure(string(ev.Type))
	}

	hub := websocket.NewHub(logger)

	// Domain services
	identitySvc := newIdentityService(pool, policy, cfg, logger)
	identitySvc.SetNotifier(dispatcher)
	identitySvc.SetObserver(m)
	identitySvc.SetSessionRevoker(revocations, cfg.TokenTTL)

	clinicalSvc := clinical.NewService(clinical.NewHistoryRepoPG(pool), clinical.NewPrescriptionRepoPG(pool), policy, logger)

	schedulingSvc := scheduling.NewService(db.NewTransactor(pool), scheduling.NewAppointmentRepoPG(pool),
		identitySvc, clinicalSvc, policy, logger)
	schedulingSvc.SetNotifier(dispatcher)
	schedulingSvc.SetObserver(m)
	schedulingSvc.SetFeed(hub)

	gateway := payment.NewHTTPGateway(payment.Config{
		BaseURL:    cfg.PaymentGatewayURL,
		APIKey:     cfg.PaymentAPIKey,
		Currency:   cfg.PaymentCurrency,
		SuccessURL: cfg.PaymentSuccessURL,
		CancelURL:  cfg.PaymentCancelURL,
		Timeout:    cfg.PaymentTimeout,
	}, logger)
	billingSvc := billing.NewService(billing.NewBillRepoPG(pool), identitySvc, gateway, policy, logger)
	billingSvc.SetNotifier(dispatcher)
	billingSvc.SetFeed(hub)

	contentSvc := content.NewService(content.NewFacilityRepoPG(pool), content.NewEducationRepoPG(pool),
		content.NewBulletinRepoPG(pool), policy, logger)
	contentSvc.SetContact(dispatcher, cfg.ContactEmail, cfg.SMTPTimeout)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(m.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(auth.JWTMiddleware(tokens, revocations, logger))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", m.Handler())

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(requestTimeout))
	apiV1.Use(middleware.Audit(logger))

	identity.NewHandler(identitySvc, tokens, revocations).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedulingSvc).RegisterRoutes(apiV1)
	clinical.NewHandler(clinicalSvc).RegisterRoutes(apiV1)
	billingHandler := billing.NewHandler(billingSvc, payment.NewVerifier(cfg.PaymentWebhookSecret, webhookTolerance), logger)
	billingHandler.RegisterRoutes(apiV1)
	if cfg.PaymentsEnabled() {
		billingHandler.RegisterWebhook(apiV1)
	}
	content.NewHandler(contentSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	hub.Close()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pending notifications dropped")
	}
	logger.Info().Msg("server stopped")
	return nil
}
