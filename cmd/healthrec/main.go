package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/config"
	"github.com/KevoDB/healthrec/pkg/engine"
)

var (
	configPath string
	dataDir    string
	logLevel   string

	red    = color.New(color.FgRed, color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

var rootCmd = &cobra.Command{
	Use:           "healthrec",
	Short:         "Durable patient record store",
	Long:          "healthrec keeps patient records in a page-addressed memory file and serves them over gRPC and HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "server configuration file (default: ./healthrec.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides the configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for offline commands (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, shellCmd, infoCmd, backupCmd, restoreCmd, benchCmd)
}

// resolveDataDir picks the data directory from the flag, then the server
// configuration
func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return "", err
	}
	return cfg.DataDir, nil
}

// openEngine opens the store of the resolved data directory for an offline command
func openEngine(opts ...engine.Option) (*engine.Engine, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	return engine.Open(dir, opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
