/*
Copyright 2024 Corrit Electric Authors.

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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/corrit-electric/autopay"
	"github.com/corrit-electric/autopay/config"
	"github.com/corrit-electric/autopay/database"
	"github.com/corrit-electric/autopay/internal/notification"
)

// Autopay represents the CLI application, encapsulating the root command.
type Autopay struct {
	cmd *cobra.Command
}

// autopayInstance holds the engine and its configuration for the lifetime
// of a command.
type autopayInstance struct {
	engine *autopay.Autopay
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand executes.
func preRun(app *autopayInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("autopay.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newEngine, err := setupAutopay(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.engine = newEngine
		app.cnf = cnf

		return nil
	}
}

// setupAutopay connects the datasource and assembles the engine.
func setupAutopay(cfg *config.Configuration) (*autopay.Autopay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newEngine, err := autopay.NewAutopay(db)
	if err != nil {
		return nil, fmt.Errorf("error creating autopay engine: %v", err)
	}
	return newEngine, nil
}

// NewCLI builds the command tree: server, workers, migrations and the
// computed-config dump.
func NewCLI() *Autopay {
	var configFile string
	b := &autopayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "autopay",
		Short: "recurring mandate and debit lifecycle engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./autopay.json", "Configuration file for autopay")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Autopay{cmd: rootCmd}
}

func (w Autopay) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
