package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chromamcp/config"
)

// Version is stamped at build time with -ldflags "-X chromamcp/internal/cli.Version=...".
var Version = "dev"

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chromamcp",
	Short: "MCP server exposing an in-memory vector store over JSON-RPC",
	Long: `chromamcp serves Chroma-style collection and document tools as MCP tools
over JSON-RPC 2.0 on HTTP. Documents are embedded locally and searched by
cosine similarity.

Example usage:
  chromamcp serve                          # Serve on 127.0.0.1:8000
  chromamcp tools                          # List the available tools
  chromamcp ingest ./docs --collection kb  # Send a directory to a running server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = cfg.Logging.NewLogger()
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./chromamcp.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory for config and data (default is current directory)")
	rootCmd.Version = Version
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
