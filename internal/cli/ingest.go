package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"chromamcp/internal/adapter/fs"
	"chromamcp/internal/adapter/rpcclient"
	"chromamcp/internal/usecase"
)

var (
	ingestCollection string
	ingestSmart      bool
	ingestServer     string
	ingestBatch      int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Send a directory of text files to a running server",
	Long: `Walk a directory, read every file matching ingest.includes and not
ingest.excludes, and add the files as documents on a running server.
Document ids are the slash-separated paths relative to <dir>.

Examples:
  chromamcp ingest ./docs --collection kb
  chromamcp ingest ./notes --smart --server http://127.0.0.1:9000/mcp`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestCollection, "collection", "c", "", "target collection")
	ingestCmd.Flags().BoolVar(&ingestSmart, "smart", false, "let the server classify each file into a collection")
	ingestCmd.Flags().StringVar(&ingestServer, "server", "", "server endpoint (default from config)")
	ingestCmd.Flags().IntVar(&ingestBatch, "batch-size", 0, "files per request (default from config)")
	ingestCmd.MarkFlagsMutuallyExclusive("collection", "smart")
	ingestCmd.MarkFlagsOneRequired("collection", "smart")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	endpoint := cfg.Ingest.ServerURL
	if ingestServer != "" {
		endpoint = ingestServer
	}
	batchSize := cfg.Ingest.BatchSize
	if ingestBatch > 0 {
		batchSize = ingestBatch
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes, cfg.Ingest.MaxBytes)
	client := rpcclient.New(endpoint)
	uc := usecase.NewIngestUseCase(walker, walker, client, batchSize, logger)

	fmt.Printf("Scanning %s...\n", path)

	var bar *progressbar.ProgressBar
	result, err := uc.Ingest(cmd.Context(), path, usecase.IngestOptions{
		Collection: ingestCollection,
		Smart:      ingestSmart,
		OnStart: func(total int) {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		},
		OnProgress: func(n int) {
			bar.Add(n)
		},
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Files found:   %d\n", result.FilesFound)
	fmt.Printf("  Files sent:    %d\n", result.FilesSent)
	fmt.Printf("  Files skipped: %d (empty or not text)\n", result.FilesSkipped)
	fmt.Printf("  Stored:        %d\n", result.Stored)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nServer: %s\n", client.Endpoint())
	return nil
}
