package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/haileyok/plcaudit/identity"
	"github.com/haileyok/plcaudit/plc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

const (
	DefaultCacheSize = 10_000
	DefaultCacheTTL  = 5 * time.Minute
)

type Server struct {
	httpd    *http.Server
	echo     *echo.Echo
	logger   *slog.Logger
	config   *config
	passport *identity.Passport
}

type Args struct {
	Addr                 string
	Logger               *slog.Logger
	Version              string
	CacheSize            int
	CacheTTL             time.Duration
	BodyLimit            string
	LenientSignatures    bool
	StrictNullifiedFlags bool
}

type config struct {
	Version string
}

type CustomValidator struct {
	validator *validator.Validate
}

type ValidationError struct {
	error
	Field string
	Tag   string
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}

		return err
	}

	return nil
}

func New(args *Args) (*Server, error) {
	if args.Addr == "" {
		return nil, fmt.Errorf("addr must be set")
	}

	if args.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must not be negative")
	}

	if args.CacheSize == 0 {
		args.CacheSize = DefaultCacheSize
	}

	if args.CacheTTL == 0 {
		args.CacheTTL = DefaultCacheTTL
	}

	if args.BodyLimit == "" {
		args.BodyLimit = "4M"
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	e := echo.New()
	e.HideBanner = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.BodyLimit(args.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		MaxAge:       100_000_000,
	}))

	vdtor := validator.New()
	vdtor.RegisterValidation("atproto-did", func(fl validator.FieldLevel) bool {
		if _, err := syntax.ParseDID(fl.Field().String()); err != nil {
			return false
		}
		return true
	})
	plc.RegisterValidations(vdtor)

	e.Validator = &CustomValidator{validator: vdtor}

	httpd := &http.Server{
		Addr:    args.Addr,
		Handler: e,
	}

	plcValidator := plc.NewValidator(plc.Options{
		Verifier:             plc.KeyVerifier{Lenient: args.LenientSignatures},
		Logger:               args.Logger,
		StrictNullifiedFlags: args.StrictNullifiedFlags,
	})

	s := &Server{
		httpd:  httpd,
		echo:   e,
		logger: args.Logger,
		config: &config{
			Version: args.Version,
		},
		passport: identity.NewPassport(identity.NewMemCache(args.CacheSize, args.CacheTTL), plcValidator, args.Logger),
	}

	s.addRoutes()

	return s, nil
}

func (s *Server) addRoutes() {
	s.echo.GET("/_health", s.handleHealth)
	s.echo.GET("/robots.txt", s.handleRobots)

	s.echo.POST("/plc/:did/validate", s.handleValidate)
	s.echo.POST("/plc/:did/data", s.handleData)
}

func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting plcaudit", "addr", s.httpd.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpd.Shutdown(shutdownCtx)
}
