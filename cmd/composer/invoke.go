package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newInvokeCmd(a *app) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "invoke <agent> [input]",
		Short: "Invoke a configured agent and print its output as JSON",
		Long: `Invoke a configured agent. When input is omitted it is read from stdin.
The output is the composed result: "response", optional "messages" and one
entry per sub-agent key.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, stop, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			if list {
				for _, name := range c.Agents() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("agent name is required")
			}

			input := ""
			if len(args) == 2 {
				input = args[1]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				input = strings.TrimSpace(string(data))
			}

			out, err := c.Invoke(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list configured agents and exit")
	return cmd
}
