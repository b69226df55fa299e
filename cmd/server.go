/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/onboarding/api"
	"github.com/blnkfinance/onboarding/config"
	pg_listener "github.com/blnkfinance/onboarding/internal/pg-listener"
	"github.com/blnkfinance/onboarding/internal/stream"
	trace "github.com/blnkfinance/onboarding/internal/traces"
)

const shutdownTimeout = 15 * time.Second

// newTLSServer prepares an HTTPS server whose certificates are managed by CertMagic.
// Without a domain the certificate is issued for localhost.
func newTLSServer(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, "onboarding", cfg.OtelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// backgroundWorkers are the long-running loops that move events between the services.
type backgroundWorkers struct {
	stops []func()
}

func (w *backgroundWorkers) stop() {
	for i := len(w.stops) - 1; i >= 0; i-- {
		w.stops[i]()
	}
}

// startBackgroundWorkers starts the outbox dispatcher with its postgres wake-up listener,
// the stream consumers of every service group and the refresh scheduler.
func startBackgroundWorkers(ctx context.Context, app *onboardingInstance) (*backgroundWorkers, error) {
	cnf := app.cnf
	workers := &backgroundWorkers{}

	partitioner := stream.Partitioner{Prefix: cnf.Stream.Prefix, Partitions: cnf.Stream.Partitions}
	publisher := stream.NewPublisher(app.redis, partitioner)

	dispatcher := app.onboarding.NewOutboxDispatcher(publisher, cnf.InstanceID)
	dispatcher.Start(ctx)
	workers.stops = append(workers.stops, dispatcher.Stop)

	listener := pg_listener.NewDBListener(pg_listener.ListenerConfig{
		PgConnStr: cnf.DataSource.Dns,
		Channel:   cnf.Outbox.ListenChannel,
	}, func(string) { dispatcher.Wake() })
	go func() {
		if err := listener.Start(ctx); err != nil {
			logrus.WithError(err).Warn("outbox listener stopped; dispatcher falls back to polling")
		}
	}()

	for _, consumer := range app.onboarding.NewConsumers(app.redis, partitioner, cnf.InstanceID) {
		if err := consumer.Start(ctx); err != nil {
			workers.stop()
			return nil, fmt.Errorf("error starting stream consumer: %v", err)
		}
		workers.stops = append(workers.stops, consumer.Stop)
	}

	scheduler := app.onboarding.NewRefreshScheduler(app.redis, cnf.InstanceID)
	scheduler.Start(ctx)
	workers.stops = append(workers.stops, scheduler.Stop)

	return workers, nil
}

func serverCommands(app *onboardingInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the onboarding server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer app.close()

			shutdownTelemetry, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			workers, err := startBackgroundWorkers(ctx, app)
			if err != nil {
				log.Fatal(err)
			}
			defer workers.stop()

			router := api.NewAPI(app.onboarding).Router()
			server := &http.Server{Addr: ":" + app.cnf.Server.Port, Handler: router}
			if app.cnf.Server.SSL {
				server, err = newTLSServer(ctx, router, app.cnf.Server)
				if err != nil {
					log.Fatal(err)
				}
			}

			errCh := make(chan error, 1)
			go func() {
				logrus.WithFields(logrus.Fields{"port": app.cnf.Server.Port, "tls": app.cnf.Server.SSL}).Info("starting onboarding server")
				if app.cnf.Server.SSL {
					errCh <- server.ListenAndServeTLS("", "")
					return
				}
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.WithError(err).Error("server stopped")
				}
			case <-ctx.Done():
				logrus.Info("shutting down onboarding server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logrus.WithError(err).Warn("server shutdown")
				}
			}
		},
	}

	return cmd
}
