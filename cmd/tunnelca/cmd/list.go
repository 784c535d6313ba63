package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/tunnelca/authority"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list <customer>",
	Short: "List the certificates issued for a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := app.authority.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeEntries(cmd.OutOrStdout(), entries, listOutput)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format: table, yaml or json")
}

func writeEntries(w io.Writer, entries []authority.Issuance, format string) error {
	if entries == nil {
		entries = []authority.Issuance{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERIAL\tNAME\tEKU\tNOT AFTER\tFINGERPRINT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.16s\n",
				e.SerialNumber, e.Name, orDash(e.ExtKeyUsage), e.NotAfter.Format("2006-01-02"), e.FingerprintSHA256)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
