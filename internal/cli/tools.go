package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the server exposes",
	Long: `Print the tool catalogue with each tool's arguments.

Examples:
  chromamcp tools
  chromamcp tools --json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "output tool descriptors as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	// The catalogue does not depend on the backend, so never open the bolt file here.
	c := *GetConfig()
	c.Store.Backend = "memory"

	rt, err := newRuntime(&c, GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer rt.close()

	descriptors := rt.registry.Descriptors()
	out := cmd.OutOrStdout()

	if toolsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(descriptors)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range descriptors {
		args := make([]string, 0, len(d.InputSchema.Properties))
		required := make(map[string]bool, len(d.InputSchema.Required))
		for _, r := range d.InputSchema.Required {
			required[r] = true
		}
		for name := range d.InputSchema.Properties {
			if required[name] {
				name += "*"
			}
			args = append(args, name)
		}
		sort.Strings(args)
		fmt.Fprintf(w, "%s\t%s\n", d.Name, strings.Join(args, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n%d tools (* = required argument)\n", len(descriptors))
	return nil
}
