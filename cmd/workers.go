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
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/blnkfinance/onboarding"
	"github.com/blnkfinance/onboarding/config"
	redis_db "github.com/blnkfinance/onboarding/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// deliveryTimeout bounds a single delivery attempt on top of the gateway's own deadline.
const deliveryTimeout = 30 * time.Second

// initializeQueues weights notifications above audit so a backlog of audit entries does
// not hold back reviewer alerts.
func initializeQueues(cnf *config.Configuration) map[string]int {
	return map[string]int{
		cnf.Queue.NotificationQueue: 3,
		cnf.Queue.AuditQueue:        1,
	}
}

func initializeWorkerServer(cnf *config.Configuration, opt asynq.RedisClientOpt) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cnf.Queue.Concurrency,
		Queues:      initializeQueues(cnf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			entry := logrus.WithError(err).WithFields(logrus.Fields{"task": task.Type(), "retry": retried})
			if retried >= maxRetry {
				entry.Error("task exhausted its retries")
				return
			}
			entry.Warn("task failed")
		}),
	})
}

func initializeTaskHandlers(d *onboarding.Deliverer, mux *asynq.ServeMux) {
	mux.HandleFunc(onboarding.TaskAuditDelivery, d.ProcessAudit)
	mux.HandleFunc(onboarding.TaskNotificationDelivery, d.ProcessNotification)
}

func serveMonitoring(cnf *config.Configuration, opt asynq.RedisClientOpt) {
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	addr := fmt.Sprintf(":%s", cnf.Queue.MonitoringPort)
	log.Printf("Asynqmon server listening on %s/monitoring", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatalf("could not start asynqmon server: %v", err)
	}
}

// workerCommands starts the asynq workers that deliver audit entries and notification
// triggers to their collaborators.
func workerCommands(app *onboardingInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start onboarding delivery workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			defer app.close()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			opt, err := redis_db.AsynqOptions(app.cnf.Redis.Dns, app.cnf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatalf("error parsing Redis URL: %v", err)
			}

			deliverer := onboarding.NewDeliverer(app.cnf, app.gateway, &http.Client{Timeout: deliveryTimeout})
			mux := asynq.NewServeMux()
			initializeTaskHandlers(deliverer, mux)

			go serveMonitoring(app.cnf, opt)

			srv := initializeWorkerServer(app.cnf, opt)
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
