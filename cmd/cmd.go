package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/cytoscape/jupyter-bridge/config"
)

const (
	ServiceName = "jupyter-bridge"
)

var (
	version    = "0.0.0"
	commit     = "hash"
	commitDate = time.Now().String()
	branch     = "branch"
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Rendezvous relay between a notebook kernel and a browser-local application",
		Commands: []*cli.Command{
			serveCmd(),
			statusCmd(),
		},
	}

	return app.Run(os.Args)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, host:port (overrides BRIDGE_ADDR)",
			},
			&cli.StringFlag{
				Name:  "store-backend",
				Usage: "store backend: memory or redis (overrides BRIDGE_STORE_BACKEND)",
			},
			&cli.StringFlag{
				Name:  "cross-slot-policy",
				Usage: "cross-slot policy: strict or relaxed (overrides BRIDGE_CROSS_SLOT_POLICY)",
			},
		},
		Action: func(c *cli.Context) error {
			v := viper.New()
			flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			if err := config.BindFlags(v, flags); err != nil {
				return err
			}
			// Only mark a flag Changed (and so higher-precedence than the
			// environment in viper's eyes) when the operator actually set it
			// on the command line; urfave/cli already owns argv parsing, so
			// pflag here is never Parse()'d against it.
			for _, name := range []string{"addr", "store-backend", "cross-slot-policy"} {
				if c.IsSet(name) {
					if err := flags.Set(name, c.String(name)); err != nil {
						return err
					}
				}
			}

			cfg, watcher, err := config.Load(c.String("config_file"), v)
			if err != nil {
				return err
			}
			app := NewApp(cfg, watcher)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("relay: shutting down")
			return app.Stop(context.Background())
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Live dashboard of recently active channels, polling the relay's /status endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "relay base URL, e.g. http://localhost:8086",
				Value: "http://localhost:8086",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "polling interval",
				Value: 2 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return RunStatusDashboard(c.Context, c.String("addr"), c.Duration("interval"))
		},
	}
}

func buildInfo() string {
	return fmt.Sprintf("%s %s (%s, %s, %s)", ServiceName, version, commit, branch, commitDate)
}
