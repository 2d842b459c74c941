package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aixgo-dev/composer/pkg/sections"
	"github.com/spf13/cobra"
)

type extractResult struct {
	Sections   []string             `json:"sections"`
	Headers    []sections.Header    `json:"headers,omitempty"`
	Validation *sections.Validation `json:"validation,omitempty"`
}

func newExtractCmd() *cobra.Command {
	var (
		pattern  string
		headers  bool
		declared int
	)

	cmd := &cobra.Command{
		Use:   "extract <file|->",
		Short: "Split a long-form document into sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p sections.Pattern
			switch pattern {
			case sections.Microcycle.Label:
				p = sections.Microcycle
			case sections.Mesocycle.Label:
				p = sections.Mesocycle
			default:
				return fmt.Errorf("unknown pattern %q (microcycle or mesocycle)", pattern)
			}

			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			doc := string(data)
			res := extractResult{Sections: sections.Extract(doc, p)}
			if headers {
				res.Headers = sections.ExtractHeaders(doc, p)
			}
			if cmd.Flags().Changed("count") {
				v := sections.ValidateCount(p.Label, declared, res.Sections)
				res.Validation = &v
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", sections.Microcycle.Label, "delimiter pattern: microcycle or mesocycle")
	cmd.Flags().BoolVar(&headers, "headers", false, "include section numbers and titles")
	cmd.Flags().IntVar(&declared, "count", 0, "validate against a declared section count")
	return cmd
}
