package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
)

func newLabelsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the class id to MITRE ATT&CK mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tax := taxonomy.Default()
			if c.cfg.Labels.File != "" {
				var err error
				if tax, err = taxonomy.LoadFile(c.cfg.Labels.File); err != nil {
					return err
				}
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(tax.Entries())
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tTAG")
			for _, e := range tax.Entries() {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, e.Severity, e.Tag())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().String("file", "", "YAML label file replacing the defaults")
	mustBind(c.v.BindPFlag("labels.file", cmd.Flags().Lookup("file")))
	return cmd
}
