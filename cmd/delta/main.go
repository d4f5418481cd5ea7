// Command delta audits billed marketplace shipping costs against a verified
// SKU truth table and keeps the seller's listings mirrored locally.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/juanbarco92/delta/core"
)

type cli struct {
	EnvFile     string `name:"env-file" help:"Dotenv file loaded before reading the environment." default:".env" type:"path"`
	LogLevel    string `name:"log-level" help:"trace, debug, info, warn or error." default:"info" env:"DELTA_LOG_LEVEL"`
	LogFormat   string `name:"log-format" help:"text or json." default:"text" env:"DELTA_LOG_FORMAT"`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address while the command runs." env:"DELTA_METRICS_ADDR"`

	Audit    auditCmd    `cmd:"" default:"withargs" help:"Audit recent orders and write the CSV report."`
	AuthURL  authURLCmd  `cmd:"" name:"auth-url" help:"Print the authorization URL."`
	Exchange exchangeCmd `cmd:"" help:"Exchange an authorization code for tokens."`
	Sync     syncCmd     `cmd:"" help:"Mirror a user's listings into the item store."`
	UserAdd  userAddCmd  `cmd:"" name:"user-add" help:"Register a local user for per-user storage."`
	Item     itemCmd     `cmd:"" help:"Show a stored listing."`
}

func main() {
	var args cli
	kctx := kong.Parse(&args,
		kong.Name("delta"),
		kong.Description("Shipping-cost audit for marketplace sellers."),
		kong.UsageOnError(),
	)

	if err := godotenv.Load(args.EnvFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "delta: load %s: %v\n", args.EnvFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{
		LogLevel:    args.LogLevel,
		LogFormat:   args.LogFormat,
		MetricsAddr: args.MetricsAddr,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	})
	if err != nil {
		exit(err)
	}
	defer rt.Close()

	if err := kctx.Run(rt); err != nil {
		exit(err)
	}
}

func exit(err error) {
	rich := core.MapError(err)
	fmt.Fprintf(os.Stderr, "delta: %s (%s)\n", err, rich.TextCode)
	os.Exit(1)
}
