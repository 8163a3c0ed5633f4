package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	env := config.LoadEnv()

	app := &cli.App{
		Name:  "hotfolderd",
		Usage: "watch hotfolders, process documents and export them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: env.ConfigPath, Usage: "hotfolder configuration file", EnvVars: []string{"HOTFOLDER_CONFIG"}},
			&cli.StringFlag{Name: "control", Value: env.ControlAddr, Usage: "control channel address (unix:// or tcp://)"},
			&cli.StringFlag{Name: "log-level", Value: env.LogLevel, Usage: "debug, info, warn or error"},
		},
		Before: func(c *cli.Context) error {
			env.ConfigPath = c.String("config")
			env.ControlAddr = c.String("control")
			logger, err := logging.New(os.Stdout, c.String("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			for _, w := range env.Warnings {
				logger.Warn("Ignoring environment value.", "detail", w)
			}
			return nil
		},
		Action: func(c *cli.Context) error { return runAction(c, env) },
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the service in the foreground",
				Action: func(c *cli.Context) error { return runAction(c, env) },
			},
			{
				Name:   "ping",
				Usage:  "check that the service is reachable",
				Action: func(c *cli.Context) error { return sendAction(c, env, "ping") },
			},
			{
				Name:   "reload",
				Usage:  "make the service reload its configuration",
				Action: func(c *cli.Context) error { return sendAction(c, env, "reload_configuration") },
			},
			{
				Name:   "status",
				Usage:  "show the state of every hotfolder worker",
				Action: func(c *cli.Context) error { return statusAction(c, env) },
			},
			{
				Name:      "validate",
				Usage:     "strictly load a configuration file and report problems",
				ArgsUsage: "[file]",
				Action:    func(c *cli.Context) error { return validateAction(c, env) },
			},
			{
				Name:  "history",
				Usage: "list the most recent processing runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: func(c *cli.Context) error { return historyAction(c, env) },
			},
			{
				Name:  "counters",
				Usage: "administer persistent counters",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Action: func(c *cli.Context) error { return countersListAction(c, env) },
					},
					{
						Name:      "set",
						ArgsUsage: "<name> <value>",
						Action:    func(c *cli.Context) error { return countersSetAction(c, env) },
					},
					{
						Name:      "delete",
						ArgsUsage: "<name>",
						Action:    func(c *cli.Context) error { return countersDeleteAction(c, env) },
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hotfolderd:", err)
		os.Exit(1)
	}
}
