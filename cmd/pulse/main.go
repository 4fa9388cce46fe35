package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/pulse"
	"goflare.io/pulse/internal/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	baseURL    string
	token      string
}

func main() {
	var flags globalFlags

	root := &cobra.Command{
		Use:     "pulse",
		Short:   "Pulse serves role-scoped dashboard metrics for the back-office",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", os.Getenv("PULSE_API_URL"), "upstream API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("PULSE_API_TOKEN"), "upstream API bearer token")

	root.AddCommand(
		newMetricsCmd(&flags),
		newServeCmd(&flags),
		newCacheCmd(&flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadFile reads the config file when one is given, else the CLI defaults.
func (g *globalFlags) loadFile() (*config.File, error) {
	if g.configPath == "" {
		return config.DefaultFile(), nil
	}
	return config.LoadFile(g.configPath)
}

// open builds a Pulse from the config file and flags. Flags win over the file.
func (g *globalFlags) open(ctx context.Context, f *config.File, logger *zap.Logger, reg prometheus.Registerer) (*pulse.Pulse, error) {
	opts := f.Options()
	opts = append(opts, pulse.WithLogger(logger))
	if g.baseURL != "" {
		opts = append(opts, pulse.WithBaseURL(g.baseURL))
	}
	if g.token != "" {
		opts = append(opts, pulse.WithToken(g.token))
	}
	if reg != nil {
		opts = append(opts, pulse.WithRegisterer(reg))
	}
	return pulse.New(ctx, opts...)
}
