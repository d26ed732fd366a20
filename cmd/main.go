package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MimeLyc/hospital-agent/internal/config"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// app carries state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	return newAppCmd(&app{v: viper.New()})
}

func newAppCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "hospital-agent",
		Short:         "Smart Hospital AI Agent API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")
	bindFlags(a.v, flags, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	})

	serve := newServeCmd(a)
	root.AddCommand(serve, newToolsCmd(), newPingCmd(a))

	// serve is the default command
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return errors.Wrapf(err, "load %s", a.envFile)
		}
	}
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config file %s", a.cfgFile)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	a.cfg = cfg

	log.InitLogger(log.Options{
		Level:  log.ParseLevel(cfg.Log.Level),
		Format: strings.ToLower(cfg.Log.Format),
		File:   cfg.Log.File,
	})
	if a.v.ConfigFileUsed() != "" {
		log.Info("Using config file %s", a.v.ConfigFileUsed())
	}
	return nil
}

// bindFlags lets explicitly set flags override config file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(errors.Wrapf(err, "bind flag %s", name))
		}
	}
}
