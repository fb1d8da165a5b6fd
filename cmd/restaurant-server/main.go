// Command restaurant-server 运行餐厅后台 HTTP 服务
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"restaurant/app/service"
	"restaurant/config"
	"restaurant/logging"
	"restaurant/server"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "restaurant-server",
		Usage:   "restaurant back-office API over a single SQLite file",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database file (RESTAURANT_DB_PATH)"},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (RESTAURANT_HTTP_ADDR)"},
			&cli.StringFlag{Name: "transport", Usage: "kitchen event transport: memory, inline, nats, redis or rabbitmq"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text or json"},
			&cli.BoolFlag{Name: "serialize-by-table", Usage: "serialize order writes per table"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("addr") {
		cfg.HTTPAddr = c.String("addr")
	}
	if c.IsSet("transport") {
		cfg.Events.Transport = c.String("transport")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("serialize-by-table") {
		cfg.Dispatch.SerializeByTable = c.Bool("serialize-by-table")
	}

	logger := cfg.Logger()
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(c.Context, fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn(c.Context, "failed to set GOMAXPROCS", logging.Error(err))
	}

	engine := server.NewEngine(service.New(service.WithConfig(cfg), service.WithLogger(logger)),
		server.WithVersion(version),
		server.WithLogger(logger),
		server.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
	)
	return engine.Start(c.Context)
}
