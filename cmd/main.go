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
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/onboarding"
	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/database"
	"github.com/blnkfinance/onboarding/internal/gateway"
	"github.com/blnkfinance/onboarding/internal/notification"
	redis_db "github.com/blnkfinance/onboarding/internal/redis-db"
)

type CLI struct {
	cmd *cobra.Command
}

// onboardingInstance carries what every subcommand needs once preRun has loaded the config.
type onboardingInstance struct {
	onboarding *onboarding.Onboarding
	cnf        *config.Configuration
	redis      redis.UniversalClient
	queue      *onboarding.Queue
	gateway    *gateway.Gateway
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *onboardingInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		// migrate and config only need the configuration.
		if cmd.Name() != "start" && cmd.Name() != "workers" {
			return nil
		}

		if err := setupOnboarding(app); err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		return nil
	}
}

func setupOnboarding(app *onboardingInstance) error {
	cnf := app.cnf

	db, err := database.NewDataSource(cnf)
	if err != nil {
		return fmt.Errorf("error getting datasource: %v", err)
	}

	client, err := redis_db.NewRedisClient(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return fmt.Errorf("error connecting to redis: %v", err)
	}

	queue, err := onboarding.NewQueue(cnf)
	if err != nil {
		return fmt.Errorf("error creating task queue: %v", err)
	}

	gw, err := newGateway(cnf)
	if err != nil {
		return err
	}

	o, err := onboarding.NewOnboarding(db, client, queue, gw)
	if err != nil {
		return fmt.Errorf("error creating onboarding: %v", err)
	}

	app.onboarding = o
	app.redis = client
	app.queue = queue
	app.gateway = gw
	return nil
}

// newGateway applies the configured policy to every downstream. Breaker metrics go to the
// global meter provider, which is a no-op unless telemetry is enabled.
func newGateway(cnf *config.Configuration) (*gateway.Gateway, error) {
	recorder, err := gateway.NewOtelRecorder(otel.Meter("onboarding.gateway"))
	if err != nil {
		return nil, fmt.Errorf("error creating gateway metrics: %v", err)
	}
	policy := gateway.PolicyFromConfig(cnf.Gateway)
	gw := gateway.New(policy, recorder)
	for _, downstream := range []string{
		onboarding.DownstreamEvents,
		onboarding.DownstreamAudit,
		onboarding.DownstreamNotification,
		onboarding.DownstreamRisk,
	} {
		gw.Register(downstream, policy)
	}
	return gw, nil
}

func (app *onboardingInstance) close() {
	if app.queue != nil {
		if err := app.queue.Close(); err != nil {
			logrus.WithError(err).Warn("closing task queue")
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logrus.WithError(err).Warn("closing redis client")
		}
	}
}

func NewCLI() *CLI {
	var configFile string
	app := &onboardingInstance{}

	rootCmd := &cobra.Command{
		Use:   "onboarding",
		Short: "KYC and KYB onboarding orchestration",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./onboarding.json", "configuration file")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands(app))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
