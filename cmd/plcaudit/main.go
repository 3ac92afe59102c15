package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/haileyok/plcaudit/plc"
	"github.com/haileyok/plcaudit/server"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "plcaudit",
		Usage: "Validate did:plc audit logs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"PLCAUDIT_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "lenient-signatures",
				Usage:   "accept high-S signatures",
				Value:   true,
				EnvVars: []string{"PLCAUDIT_LENIENT_SIGNATURES"},
			},
			&cli.BoolFlag{
				Name:    "strict-nullified-flags",
				Usage:   "reject logs whose nullified flags disagree with the recomputed history",
				EnvVars: []string{"PLCAUDIT_STRICT_NULLIFIED_FLAGS"},
			},
		},
		Commands: []*cli.Command{
			verify,
			serve,
			createRotationKey,
			signGenesis,
		},
		ErrWriter: os.Stdout,
		Version:   Version,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newLogger(cmd *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

var verify = &cli.Command{
	Name:      "verify",
	Usage:     "Validate an audit log read from a file or stdin",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "did",
			Usage: "did the log must belong to, defaults to the did of the first entry",
		},
		&cli.StringFlag{
			Name:  "file",
			Usage: "path to a JSON audit log, - or empty reads stdin",
		},
	},
	Action: func(cmd *cli.Context) error {
		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}

		in := os.Stdin
		if path := cmd.String("file"); path != "" && path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer f.Close()
			in = f
		}

		v := plc.NewValidator(plc.Options{
			Verifier:             plc.KeyVerifier{Lenient: cmd.Bool("lenient-signatures")},
			Logger:               logger,
			StrictNullifiedFlags: cmd.Bool("strict-nullified-flags"),
		})

		out, err := verifyLog(cmd.Context, v, cmd.String("did"), in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "audit log rejected: %v\n", err)
			return err
		}

		return writeVerifyOutput(os.Stdout, out)
	},
}

var serve = &cli.Command{
	Name:  "serve",
	Usage: "Start the plcaudit http server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Value:   ":8080",
			EnvVars: []string{"PLCAUDIT_ADDR"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Value:   server.DefaultCacheSize,
			EnvVars: []string{"PLCAUDIT_CACHE_SIZE"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Value:   server.DefaultCacheTTL,
			EnvVars: []string{"PLCAUDIT_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "body-limit",
			Value:   "4M",
			EnvVars: []string{"PLCAUDIT_BODY_LIMIT"},
		},
	},
	Action: func(cmd *cli.Context) error {
		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}

		s, err := server.New(&server.Args{
			Addr:                 cmd.String("addr"),
			Logger:               logger,
			Version:              Version,
			CacheSize:            cmd.Int("cache-size"),
			CacheTTL:             cmd.Duration("cache-ttl"),
			BodyLimit:            cmd.String("body-limit"),
			LenientSignatures:    cmd.Bool("lenient-signatures"),
			StrictNullifiedFlags: cmd.Bool("strict-nullified-flags"),
		})
		if err != nil {
			fmt.Printf("error creating plcaudit: %v", err)
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.Serve(ctx); err != nil {
			fmt.Printf("error starting plcaudit: %v", err)
			return err
		}

		return nil
	},
}
