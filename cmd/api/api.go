package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bites/docs" //this is required to generate swagger docs
	"bites/internal/auth"
	"bites/internal/domain/storage"
	"bites/internal/ingest"
	"bites/internal/profile"
	"bites/internal/query"
	"bites/internal/ratelimiter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type application struct {
	config        config
	store         *storage.Container
	ingest        *ingest.Service
	query         *query.Service
	profile       *profile.Service
	logger        *zap.SugaredLogger
	uploader      imageUploader
	authenticator auth.Authenticator
	rateLimiter   ratelimiter.Limiter
}

type config struct {
	addr        string
	env         string
	apiURL      string
	ledger      ledgerConfig
	db          dbConfig
	mail        mailConfig
	auth        authConfig
	idSalt      string
	campusTZ    string
	rateLimiter ratelimiter.Config
}

type ledgerConfig struct {
	backend     string
	callTimeout time.Duration
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}
type tokenConfig struct {
	refreshSecret string
	secret        string
	iss           string
}
type basicConfig struct {
	user string
	pass string
}

type mailConfig struct {
	fromEmail string
	smtp      smtpConfig
}

type smtpConfig struct {
	host     string
	port     int
	username string
	password string
}

type dbConfig struct {
	addr        string
	maxConns    int32
	maxIdleTime string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	if app.config.rateLimiter.Enabled {
		r.Use(app.RateLimiterMiddleware)
	}

	//Set a timeout value on the request context (ctx), that will signal through ctx.Done() that the request has timed out and further processing should be stopped
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		docsURL := fmt.Sprintf("%s/swagger/doc.json", app.config.addr)
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(docsURL)))

		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", app.listReviewsHandler)
			r.With(app.AuthTokenMiddleware).Post("/", app.createReviewHandler)
		})

		r.Route("/venues", func(r chi.Router) {
			r.Get("/totals", app.venueTotalsHandler)
			r.Route("/{venueID}", func(r chi.Router) {
				r.Get("/reviews", app.getVenueReviewsHandler)
				r.Get("/summary", app.venueSummaryHandler)
				r.With(app.AuthTokenMiddleware).Post("/visits", app.logVisitHandler)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Route("/me", func(r chi.Router) {
				r.Use(app.AuthTokenMiddleware)
				r.Get("/", app.getCurrentUserHandler)
				r.Patch("/", app.updateUserHandler)
				r.Post("/avatar", app.uploadAvatarHandler)
			})

			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", app.getUserHandler)
				r.Get("/reviews", app.getUserReviewsHandler)
				r.Get("/visits", app.getUserVisitsHandler)
			})
		})

		// Public routes
		r.Route("/authentication", func(r chi.Router) {
			r.Post("/user", app.registerUserHandler)
			r.Post("/token", app.createTokenHandler)
			r.Post("/refresh", app.refreshTokenHandler)
			r.With(app.BasicAuthMiddleware()).Post("/federated", app.federatedSignInHandler)
		})
	})
	return r
}

func (app *application) run(mux http.Handler) error {
	// Docs
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.Host = app.config.apiURL
	docs.SwaggerInfo.BasePath = "/v1"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env, "ledger", app.config.ledger.backend)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
