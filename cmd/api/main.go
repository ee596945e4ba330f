package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"
	_ "time/tzdata"

	"bites/internal/auth"
	"bites/internal/db"
	"bites/internal/domain/storage"
	"bites/internal/idgen"
	"bites/internal/ingest"
	"bites/internal/ledger"
	"bites/internal/mailer"
	"bites/internal/profile"
	"bites/internal/query"
	"bites/internal/ratelimiter"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	// Default values
	defaultRequests := 200
	defaultEnabled := false

	// Retrieve request count with error handling
	requestsPerTimeFrame := defaultRequests
	if val, exists := os.LookupEnv("RATELIMITER_REQUESTS_COUNT"); exists {
		if parsedVal, err := strconv.Atoi(val); err == nil {
			requestsPerTimeFrame = parsedVal
		} else {
			fmt.Println("Invalid RATELIMITER_REQUESTS_COUNT, defaulting to", defaultRequests)
		}
	}

	// Retrieve enabled flag with error handling
	enabled := defaultEnabled
	if val, exists := os.LookupEnv("RATELIMITER_ENABLED"); exists {
		if parsedVal, err := strconv.ParseBool(val); err == nil {
			enabled = parsedVal
		} else {
			fmt.Println("Invalid RATELIMITER_ENABLED, defaulting to", defaultEnabled)
		}
	}

	return ratelimiter.Config{
		RequestsPerTimeFrame: requestsPerTimeFrame,
		TimeFrame:            5 * time.Second,
		Enabled:              enabled,
	}
}

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	// Configure the encoder to be a console encoder with color
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder // This adds color to log levels (INFO, WARN, ERROR)

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	level := zapcore.InfoLevel

	// Use zapcore.NewCore to write logs to standard output (stdout) with color
	core := zapcore.NewCore(consoleEncoder, zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)), level)

	logger := zap.New(core)

	return logger.Sugar(), nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("Invalid value for %s: %v", key, err)
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		log.Fatalf("Invalid value for %s: %v", key, err)
	}
	return parsed
}

var version = "0.4.0"

//	@title			Bites API
//	@description	Campus dining reviews and visit tracking.

//	@contact.name	API Support
//	@contact.url	http://www.swagger.io/support
//	@contact.email	support@swagger.io

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@BasePath					/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						Authorization
//	@securityDefinitions.basic	BasicAuth

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config{
		addr:   getEnv("ADDR", ":8080"),
		env:    getEnv("ENV", "development"),
		apiURL: getEnv("EXTERNAL_URL", "localhost:8080"),
		ledger: ledgerConfig{
			backend:     getEnv("LEDGER_BACKEND", "memory"),
			callTimeout: getEnvDuration("LEDGER_CALL_TIMEOUT", ledger.CallTimeout),
		},
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    int32(getEnvInt("DB_MAX_CONNS", 30)),
			maxIdleTime: getEnv("DB_MAX_IDLE_TIME", "15m"),
		},
		mail: mailConfig{
			fromEmail: getEnv("SMTP_FROM_EMAIL", "hello@bites.local"),
			smtp: smtpConfig{
				host:     os.Getenv("SMTP_HOST"),
				port:     getEnvInt("SMTP_PORT", 587),
				username: os.Getenv("SMTP_USERNAME"),
				password: os.Getenv("SMTP_PASSWORD"),
			},
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				refreshSecret: os.Getenv("AUTH_TOKEN_REFRESH_SECRET"),
				secret:        os.Getenv("AUTH_TOKEN_SECRET"),
				iss:           "Bites",
			},
		},
		idSalt:      getEnv("IDGEN_SALT", "bites"),
		campusTZ:    getEnv("CAMPUS_TZ", "America/Los_Angeles"),
		rateLimiter: LoadRateLimiterConfig(),
	}

	// Logger
	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	if cfg.auth.token.secret == "" || cfg.auth.token.refreshSecret == "" {
		logger.Fatal("AUTH_TOKEN_SECRET and AUTH_TOKEN_REFRESH_SECRET must be set")
	}

	ledger.CallTimeout = cfg.ledger.callTimeout

	// Ledger
	var backend ledger.Store
	switch cfg.ledger.backend {
	case "memory":
		backend = ledger.NewMemoryStore()
		logger.Warn("using the in-memory ledger, data is lost on restart")
	case "postgres":
		pool, err := db.New(cfg.db.addr, cfg.db.maxConns, cfg.db.maxIdleTime)
		if err != nil {
			logger.Fatal(err)
		}
		logger.Info("database connection pool established")

		pg := ledger.NewPostgresStore(pool)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pg.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatal(err)
		}
		backend = pg

		expvar.Publish("database", expvar.Func(func() any {
			stat := pool.Stat()
			return map[string]int32{
				"total_conns":    stat.TotalConns(),
				"idle_conns":     stat.IdleConns(),
				"acquired_conns": stat.AcquiredConns(),
			}
		}))
	default:
		logger.Fatalf("unknown LEDGER_BACKEND %q", cfg.ledger.backend)
	}

	//storage
	store := storage.NewContainer(backend)
	defer store.Close()

	ids, err := idgen.New(cfg.idSalt, nil)
	if err != nil {
		logger.Fatal(err)
	}

	// meal periods are read off the campus wall clock, not the host's
	campus, err := time.LoadLocation(cfg.campusTZ)
	if err != nil {
		logger.Fatalf("invalid CAMPUS_TZ %q: %v", cfg.campusTZ, err)
	}

	// client to send the welcome email
	var mail mailer.Client = mailer.NopClient{}
	if cfg.mail.smtp.host != "" {
		smtp, err := mailer.NewSMTPClient(mailer.SMTPConfig{
			Host:      cfg.mail.smtp.host,
			Port:      cfg.mail.smtp.port,
			Username:  cfg.mail.smtp.username,
			Password:  cfg.mail.smtp.password,
			FromEmail: cfg.mail.fromEmail,
		})
		if err != nil {
			logger.Fatal(err)
		}
		mail = smtp
	}

	//cloudinary
	var avatars imageUploader = disabledUploader{}
	if cloudinaryURL := os.Getenv("CLOUDINARY_URL"); cloudinaryURL != "" {
		cld, err := newCloudinaryUploader(cloudinaryURL)
		if err != nil {
			logger.Fatal(err)
		}
		avatars = cld
	}

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)
	defer rateLimiter.Stop()

	// Authenticator
	jwtAuthenticator := auth.NewJWTAuthenticator(
		cfg.auth.token.secret,
		cfg.auth.token.refreshSecret,
		cfg.auth.token.iss,
		cfg.auth.token.iss,
	)

	app := &application{
		config:        cfg,
		logger:        logger,
		store:         store,
		ingest:        ingest.NewService(store, ids, logger, ingest.WithLocation(campus)),
		query:         query.NewService(store),
		profile:       profile.NewService(store, mail, logger),
		uploader:      avatars,
		authenticator: jwtAuthenticator,
		rateLimiter:   rateLimiter,
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.mount()

	if err := app.run(mux); err != nil {
		logger.Fatal(err)
	}
}
