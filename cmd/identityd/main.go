package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	identity "github.com/quartzestates/identity-core"
)

// AppConfig is loaded from the environment; every engine tunable has a
// default so a bare dev machine can run the service.
type AppConfig struct {
	HTTPAddr        string        `env:"IDENTITY_HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN     string        `env:"IDENTITY_DB_DSN" envDefault:"file:identity.db?cache=shared&mode=rwc"`
	RedisAddr       string        `env:"IDENTITY_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword   string        `env:"IDENTITY_REDIS_PASSWORD"`
	SigningKey      string        `env:"IDENTITY_SIGNING_KEY,required"`
	Issuer          string        `env:"IDENTITY_TOKEN_ISSUER" envDefault:"identity-core"`
	TokenExpiration int           `env:"IDENTITY_TOKEN_EXPIRATION_HOURS" envDefault:"24"`
	CodeLength      int           `env:"IDENTITY_CODE_LENGTH" envDefault:"6"`
	CodeTTL         time.Duration `env:"IDENTITY_CODE_TTL" envDefault:"10m"`
	MaxAttempts     int           `env:"IDENTITY_CODE_MAX_ATTEMPTS" envDefault:"5"`
	BcryptCost      int           `env:"IDENTITY_BCRYPT_COST" envDefault:"14"`
	// ExposeCodes echoes issued codes in API responses. Diagnostic
	// switch for non-production environments only.
	ExposeCodes bool `env:"IDENTITY_EXPOSE_CODES" envDefault:"false"`
}

func main() {
	root := &cobra.Command{
		Use:           "identityd",
		Short:         "Identity and credential lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.ParseAs[AppConfig]()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg AppConfig) error {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("identityd"),
		glog.WithAddSource(false),
	)

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqldb.Close()

	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	if err := createSchema(ctx, db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	repo := identity.NewRepositoryManager(db)
	repo.MustValidate()

	engineCfg := identity.Config{
		CodeLength:      cfg.CodeLength,
		CodeTTL:         cfg.CodeTTL,
		MaxAttempts:     cfg.MaxAttempts,
		BcryptCost:      cfg.BcryptCost,
		ExposeCodes:     cfg.ExposeCodes,
		SigningKey:      cfg.SigningKey,
		TokenExpiration: cfg.TokenExpiration,
		Issuer:          cfg.Issuer,
	}

	apiLogger := lgr.GetLogger("api")
	controller := identity.NewAPIController(
		repo,
		identity.NewRedisPendingStore(rdb),
		identity.NewLogNotifier(lgr.GetLogger("notifier")),
		identity.NewTokenService([]byte(cfg.SigningKey), cfg.TokenExpiration, cfg.Issuer, apiLogger),
		engineCfg,
		identity.WithAPILogger(apiLogger),
	)

	app := fiber.New(fiber.Config{
		AppName:               "identityd",
		DisableStartupMessage: true,
	})
	controller.RegisterRoutes(app)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	lgr.Info("identityd listening", "addr", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	case <-ctx.Done():
	}

	lgr.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func createSchema(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*identity.Principal)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}
