package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"

	"github.com/KodeKenobi/nusuru-admin/internal/consumer"
	"github.com/KodeKenobi/nusuru-admin/internal/routes"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve the send-notification endpoint (and consume the push queue when RABBITMQ_URL is set)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "port",
			Usage: "listen port, overrides HTTP_PORT",
		},
		&cli.DurationFlag{
			Name:  "drain",
			Value: 0,
			Usage: "time to report not-ready before shutting down",
		},
	},
	Action: serve,
}

func serve(cCtx *cli.Context) error {
	cfg, logr, err := loadConfig(cCtx, os.Stdout)
	if err != nil {
		return err
	}
	if port := cCtx.String("port"); port != "" {
		cfg.HTTPPort = port
	}
	logr.Info("starting push dispatch service", slog.String("app", cfg.AppName))

	p, err := newPipeline(cfg, logr, true)
	if err != nil {
		logr.Error("failed to build dispatch pipeline", slog.Any("error", err))
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := atomic.NewBool(true)
	router := routes.NewRouter(routes.RouterConfig{
		Dispatcher: p.dispatcher,
		Statuses:   statusReader(p),
		Metrics:    p.metrics,
		Logger:     logr,
		Ready:      ready,
		Started:    time.Now(),
	})
	// fatal carries errors that must end the process with a failure
	fatal := make(chan error, 2)
	httpSrv := startHTTPServer(cfg.HTTPPort, router, cfg.RequestTimeout, logr, fatal)

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			logr.Error("failed to connect rabbitmq", slog.Any("error", err))
			shutdownHTTP(httpSrv, logr)
			return err
		}
		defer conn.Close()

		base := consumer.NewBaseConsumer(conn, consumer.QueueOptions{
			Queue:      cfg.PushQueue,
			DeadLetter: cfg.DeadLetterQueue,
			Prefetch:   cfg.PrefetchCount,
			Workers:    cfg.WorkerCount,
		}, logr)
		pushConsumer := consumer.NewPushConsumer(base, p.dispatcher, p.metrics, logr, cfg.MaxDeliveries)
		go func() {
			if err := pushConsumer.Start(ctx); err != nil {
				logr.Error("push consumer exited", slog.Any("error", err))
				fatal <- err
			}
		}()
	}

	select {
	case err := <-fatal:
		ready.Store(false)
		stop()
		shutdownHTTP(httpSrv, logr)
		return err
	case <-ctx.Done():
	}

	ready.Store(false)
	if drain := cCtx.Duration("drain"); drain > 0 {
		logr.Info("draining before shutdown", slog.Duration("drain", drain))
		time.Sleep(drain)
	}

	shutdownHTTP(httpSrv, logr)
	logr.Info("push dispatch service stopped")
	return nil
}

// statusReader avoids handing the router a typed nil.
func statusReader(p *pipeline) routes.StatusReader {
	if p.statuses == nil {
		return nil
	}
	return p.statuses
}

// startHTTPServer listens in the background. A listen or serve failure other
// than a shutdown is sent on errc, which must be buffered.
func startHTTPServer(port string, handler http.Handler, requestTimeout time.Duration, logr *slog.Logger, errc chan<- error) *http.Server {
	if port == "" {
		port = "8082"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
	}
	go func() {
		logr.Info("starting HTTP server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("http server error", slog.Any("error", err))
			errc <- fmt.Errorf("http server on %s: %w", srv.Addr, err)
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
