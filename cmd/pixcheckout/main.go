// Command pixcheckout is a terminal buyer for the PIX checkout proxy: it
// creates a charge, remembers it on disk, and waits for it to be paid.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pix-checkout-api/config"
)

var Version = "dev"

type globalOptions struct {
	apiURL      string
	orderPath   string
	successPath string
	verbose     bool
}

func main() {
	opts := &globalOptions{}
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "pixcheckout",
		Short:         "Pay for an order with PIX from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log := opts.logger()
			for _, w := range cfg.Warnings {
				log.Debug("configuration", zap.String("warning", w))
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("PIX_API_URL", "http://localhost:8080"), "Checkout proxy base URL")
	rootCmd.PersistentFlags().StringVar(&opts.orderPath, "order-file", "", "Order file (default ~/.pixcheckout/orderData.json)")
	rootCmd.PersistentFlags().StringVar(&opts.successPath, "success-path", cfg.Routing.SuccessPath, "Page shown once the order is paid")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log polling activity")

	rootCmd.AddCommand(createCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(resetCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *globalOptions) orderFile() (*orderFile, error) {
	if o.orderPath != "" {
		return &orderFile{path: o.orderPath}, nil
	}
	path, err := defaultOrderPath()
	if err != nil {
		return nil, err
	}
	return &orderFile{path: path}, nil
}

// logger writes to stderr so stdout stays readable.
func (o *globalOptions) logger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if o.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func (o *globalOptions) successURL() string {
	path := o.successPath
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(o.apiURL, "/") + path
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
