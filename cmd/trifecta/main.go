// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command trifecta is an operator shell and query engine for Kafka
// clusters and their ZooKeeper-published metadata.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spothero/trifecta/cli"
	"github.com/spothero/trifecta/config"
	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/log"
	"github.com/spothero/trifecta/runtime"
	"github.com/spothero/trifecta/sentry"
	"github.com/spothero/trifecta/shell"
	"github.com/spothero/trifecta/shell/registry"
	"github.com/spothero/trifecta/zkview"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logCfg    log.LoggingConfig
	zkCfg     zkview.Config
	kafkaCfg  kclient.Config
	sentryCfg sentry.Config
	cfgPath   string
	debug     bool
	history   bool
)

func main() {
	root := &cobra.Command{
		Use:               "trifecta",
		Short:             "Operator shell and query engine for Kafka and ZooKeeper",
		PersistentPreRunE: bootstrap,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Path to the trifecta properties config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Print stack traces on command failure")
	logCfg.RegisterFlags(root.PersistentFlags())
	zkCfg.RegisterFlags(root.PersistentFlags())
	kafkaCfg.RegisterFlags(root.PersistentFlags())
	sentryCfg.RegisterFlags(root.PersistentFlags())

	root.AddCommand(shellCommand(), execCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap runs as every subcommand's PersistentPreRunE: it merges
// environment variables and the on-disk properties file under the
// pflag-registered defaults, then initializes logging and Sentry.
func bootstrap(cmd *cobra.Command, args []string) error {
	cli.CobraBindEnvironmentVariables("trifecta")(cmd, args)

	v := viper.New()
	if err := config.Load(v, cmd.Flags(), cfgPath); err != nil {
		return err
	}
	for _, key := range v.AllKeys() {
		f := cmd.Flags().Lookup(key)
		if f == nil || f.Changed || !v.IsSet(key) {
			continue
		}
		if err := cmd.Flags().Set(key, v.GetString(key)); err != nil {
			return err
		}
	}

	if err := logCfg.InitializeLogger(); err != nil {
		return err
	}
	if sentryCfg.DSN != "" {
		if err := sentryCfg.InitializeSentry(); err != nil {
			return err
		}
		log.RegisterCore(nil, &sentry.Core{LevelEnabler: zapcore.ErrorLevel})
	}
	return nil
}

func buildRuntime(ctx context.Context, out *os.File) (*runtime.Context, error) {
	zk, err := zkCfg.Connect(ctx)
	if err != nil {
		return nil, err
	}
	rt := runtime.New(runtime.Config{ZK: zkCfg, Kafka: kafkaCfg, Debug: debug}, out, zk)

	reg := registry.New()
	if err := reg.Register(shell.NewCoreModule(rt)); err != nil {
		return nil, err
	}
	kafkaModule := shell.NewKafkaModule(rt)
	if err := reg.Register(kafkaModule.Module()); err != nil {
		return nil, err
	}
	rt.Install(reg)

	return rt, nil
}

func shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive trifecta session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := log.NewContext(context.Background(), zap.String("app", "trifecta"))
			rt, err := buildRuntime(ctx, os.Stdout)
			if err != nil {
				return err
			}
			defer rt.ZK.Close()

			historyPath, err := config.Expand("~/.trifecta/history")
			if err != nil {
				return err
			}
			historyFile, err := os.OpenFile(filepath.Clean(historyPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer historyFile.Close()

			s := shell.New(rt, os.Stdin, os.Stdout)
			s.Debug = debug
			s.History = historyFile
			s.Resolver = shell.NewKafkaModule(rt)
			return s.Run(ctx)
		},
	}
}

func execCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec -- <command line>",
		Short: "Run a single trifecta command and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := log.NewContext(context.Background(), zap.String("app", "trifecta"))
			rt, err := buildRuntime(ctx, os.Stdout)
			if err != nil {
				return err
			}
			defer rt.ZK.Close()

			s := shell.New(rt, os.Stdin, os.Stdout)
			s.Debug = debug
			s.Resolver = shell.NewKafkaModule(rt)

			line := args[0]
			for _, a := range args[1:] {
				line += " " + a
			}
			if err := s.RunOne(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", shell.ClassifyError(err), err)
				os.Exit(1)
			}
			return nil
		},
	}
}
