package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goliatone/go-persistence/config"
	"github.com/goliatone/go-persistence/persistence"
	"github.com/goliatone/go-persistence/pkg/di"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "0.1.0"

type app struct {
	v   *viper.Viper
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "persistctl",
		Short: "work with objects through a persistence cache",
		Long: fmt.Sprintf(`persistctl (v%s)

Loads, saves and erases objects using the database, classes, statements
and storages declared in a config file.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.initEnv()
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"))
			if err != nil {
				return err
			}
			a.log = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.v.GetBool("metrics") {
				persistence.WritePrometheus(cmd.OutOrStdout())
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "persistence.yaml", "config file (yaml or json)")
	flags.String("connection", "", "connection to run statements on, defaults to the first one")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Bool("metrics", false, "print storage counters in Prometheus format on exit")
	_ = a.v.BindPFlags(flags)

	root.AddCommand(
		newVersionCmd(),
		newSchemaCmd(a),
		newLoadCmd(a),
		newSaveCmd(a),
		newEraseCmd(a),
	)
	return root
}

// initEnv reads .env files and lets PERSIST_* variables override flags.
func (a *app) initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v.GetString("config"))
}

// open builds a started container from the config file.
func (a *app) open(ctx context.Context) (*di.Container, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := di.NewContainer(ctx, cfg, di.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (a *app) connection(c *di.Container) (string, error) {
	if name := a.v.GetString("connection"); name != "" {
		return name, nil
	}
	conns := c.Config().Database.Connections
	if len(conns) == 0 {
		return "", errors.New("no connection configured")
	}
	return conns[0].Name, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of persistctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "persistctl v%s\n", Version)
		},
	}
}
