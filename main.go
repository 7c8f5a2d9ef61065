package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"mailbench/api"
	"mailbench/benchmark"
	"mailbench/config"
	"mailbench/mcp"
	"mailbench/objectstore"
	"mailbench/smtp"
	"mailbench/sns"
	"mailbench/storage"
)

// requestTimeout bounds reading and answering a single webhook call
const requestTimeout = 30 * time.Second

const shutdownTimeout = 10 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	app := &cli.App{
		Name:  "mailbench",
		Usage: "Compare S3-backed and inline SNS email ingestion latency",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setLogLevel,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the benchmark webhook server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Usage:   "HTTP server port",
						Value:   config.DefaultPort,
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "region",
						Usage:   "AWS region",
						Value:   config.DefaultRegion,
						EnvVars: []string{"AWS_REGION"},
					},
					&cli.StringFlag{
						Name:    "access-key-id",
						Usage:   "AWS access key ID (optional, default credential chain otherwise)",
						EnvVars: []string{"AWS_ACCESS_KEY_ID"},
					},
					&cli.StringFlag{
						Name:    "secret-access-key",
						Usage:   "AWS secret access key",
						EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
					},
					&cli.StringFlag{
						Name:    "bucket",
						Usage:   "Bucket the debug endpoints read from",
						EnvVars: []string{"S3_BUCKET"},
					},
					&cli.StringFlag{
						Name:  "debug-prefix",
						Usage: "Key prefix listed by /benchmark/list-objects",
						Value: config.DefaultDebugPrefix,
					},
					&cli.StringFlag{
						Name:  "debug-key",
						Usage: "Object fetched by /benchmark/get-obj",
						Value: config.DefaultDebugKey,
					},
				},
				Action: serve,
			},
			{
				Name:  "mcp",
				Usage: "Run an MCP server over stdio that reads a running daemon",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Usage:   "Base URL of the benchmark daemon",
						Value:   "http://localhost:3000",
						EnvVars: []string{"MAILBENCH_API_URL"},
					},
				},
				Action: runMCP,
			},
			{
				Name:  "send",
				Usage: "Send test emails through an SMTP relay",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "smtp-addr",
						Usage:    "SMTP relay address (host:port)",
						Required: true,
						EnvVars:  []string{"SMTP_ADDR"},
					},
					&cli.StringFlag{
						Name:    "smtp-user",
						Usage:   "SMTP username",
						EnvVars: []string{"SMTP_USER"},
					},
					&cli.StringFlag{
						Name:    "smtp-pass",
						Usage:   "SMTP password",
						EnvVars: []string{"SMTP_PASS"},
					},
					&cli.BoolFlag{
						Name:  "insecure",
						Usage: "Do not require STARTTLS",
					},
					&cli.StringFlag{
						Name:     "from",
						Usage:    "Sender address",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "to",
						Usage:    "Recipient address handled by the SES receipt rule",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Number of emails to send",
						Value: 10,
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Pause between emails",
						Value: time.Second,
					},
				},
				Action: send,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

func setLogLevel(c *cli.Context) error {
	level, err := config.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func serve(c *cli.Context) error {
	cfg := config.Config{
		Port:            c.Int("port"),
		Region:          c.String("region"),
		AccessKeyID:     c.String("access-key-id"),
		SecretAccessKey: c.String("secret-access-key"),
		Bucket:          c.String("bucket"),
		DebugPrefix:     c.String("debug-prefix"),
		DebugKey:        c.String("debug-key"),
		LogLevel:        c.String("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().Str("region", cfg.Region).Msg("Initializing S3 client")
	awsCfg, err := config.LoadAWS(c.Context, cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	recorder := storage.NewRecorder(registry)
	fetcher := objectstore.NewFetcher(awsCfg)
	svc := benchmark.NewService(fetcher, sns.NewConfirmer(nil), recorder)

	handler := api.NewHandler(svc, recorder, fetcher, registry, api.DebugConfig{
		Bucket: cfg.Bucket,
		Prefix: cfg.DebugPrefix,
		Key:    cfg.DebugKey,
	})
	httpServer := newHTTPServer(cfg.Addr(), handler.SetupRoutes(), requestTimeout)

	l, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", httpServer.Addr, err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", cfg.Addr()).Msg("HTTP server starting")
	log.Info().Msg("Endpoints: POST /benchmark/s3-approach, POST /benchmark/direct-sns-approach, POST /benchmark/health, GET /benchmark/metrics")
	if err := runServer(ctx, httpServer, l); err != nil {
		return err
	}

	snapshot := recorder.Snapshot()
	for approach, stats := range snapshot {
		log.Info().Str("approach", string(approach)).Int("count", stats.Count).Float64("mean_ms", stats.Mean).Msg("Final latency stats")
	}
	log.Info().Msg("Server stopped")
	return nil
}

// newHTTPServer bounds reading a request and writing its response by timeout
func newHTTPServer(addr string, handler http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  2 * timeout,
	}
}

// runServer serves on l until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func runServer(ctx context.Context, srv *http.Server, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}
	return nil
}

func runMCP(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mcp.NewServer(c.String("api-url")).Run(ctx)
}

func send(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := smtp.NewSender(smtp.Config{
		Addr:     c.String("smtp-addr"),
		Username: c.String("smtp-user"),
		Password: c.String("smtp-pass"),
		Insecure: c.Bool("insecure"),
		From:     c.String("from"),
		To:       c.StringSlice("to"),
		Count:    c.Int("count"),
		Interval: c.Duration("interval"),
	})

	summary, err := sender.Run(ctx)
	log.Info().Int("sent", summary.Sent).Int("failed", summary.Failed).Msg("Send run finished")
	return err
}
