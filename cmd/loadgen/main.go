// Command loadgen 对 restaurant-server 施加并发下单负载并输出汇总
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"restaurant/loadgen"
	"restaurant/logging"
)

func main() {
	def := loadgen.DefaultConfig()
	app := &cli.App{
		Name:  "loadgen",
		Usage: "drive concurrent order traffic against restaurant-server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: def.BaseURL, EnvVars: []string{"LOADGEN_URL"}},
			&cli.IntFlag{Name: "tables", Value: def.Tables},
			&cli.IntFlag{Name: "menu-items", Value: def.MenuItems},
			&cli.IntFlag{Name: "workers", Value: def.Workers},
			&cli.IntFlag{Name: "iterations", Value: def.Iterations, Usage: "orders attempted per worker"},
			&cli.Float64Flag{Name: "cancel-ratio", Value: def.CancelRatio},
			&cli.IntFlag{Name: "retries", Value: def.MaxRetries, Usage: "retries for 503 responses"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed, 0 picks one"},
			&cli.BoolFlag{Name: "verbose", Usage: "debug logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := logging.InfoLevel
	if c.Bool("verbose") {
		level = logging.DebugLevel
	}
	logger := logging.NewLogrusLogger(logging.LogrusOptions{Level: level, Output: os.Stderr})

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := loadgen.New(loadgen.Config{
		BaseURL:     c.String("url"),
		Tables:      c.Int("tables"),
		MenuItems:   c.Int("menu-items"),
		Workers:     c.Int("workers"),
		Iterations:  c.Int("iterations"),
		CancelRatio: c.Float64("cancel-ratio"),
		MaxRetries:  c.Int("retries"),
		Seed:        c.Uint64("seed"),
		Logger:      logger,
	})
	if err := r.Setup(ctx); err != nil {
		return err
	}
	summary, err := r.Run(ctx)
	if summary != nil {
		summary.Write(os.Stdout)
	}
	if err != nil && err != context.Canceled {
		return err
	}
	if n := summary.ServerErrors(); n > 0 {
		return cli.Exit(fmt.Sprintf("%d server errors", n), 2)
	}
	return nil
}
