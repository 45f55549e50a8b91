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
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/httpapi"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the webhook server and the batch processor",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (overrides http.port)",
			},
			&cli.BoolFlag{
				Name:  "no-worker",
				Usage: "Only accept webhooks; run the processor elsewhere with the worker command",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if p := c.Int("port"); p > 0 {
				cfg.HTTP.Port = p
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if !c.Bool("no-worker") {
				stopBackground, err := a.startBackground(ctx)
				if err != nil {
					return err
				}
				defer stopBackground()
			}

			if !cfg.Log.Pretty {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
				Handler:           httpapi.NewRouter(a.segments, a.sessions, *cfg),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run only the batch processor and retention sweeper",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			stopBackground, err := a.startBackground(ctx)
			if err != nil {
				return err
			}
			log.Info().Dur("poll_interval", cfg.Processor.PollInterval).Msg("worker started")

			<-ctx.Done()
			log.Info().Msg("worker shutting down")
			stopBackground()
			return nil
		},
	}
}
