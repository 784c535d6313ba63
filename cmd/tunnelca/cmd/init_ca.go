package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tunnelca/pki"
)

var initCACmd = &cobra.Command{
	Use:   "init-ca <customer>",
	Short: "Create the certificate authority of a customer, or show the existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := app.authority.InitCA(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ca.Created {
			printBanner(out)
			fmt.Fprintf(out, "Created CA in %s\n", ca.Layout.Dir)
		} else {
			fmt.Fprintf(out, "CA already exists in %s\n", ca.Layout.Dir)
		}
		info := pki.Describe(ca.Certificate)
		fmt.Fprintf(out, "Subject:     %s\n", info.Subject)
		fmt.Fprintf(out, "Key:         %s\n", info.KeyAlgorithm)
		fmt.Fprintf(out, "Not after:   %s\n", info.NotAfter.Format("2006-01-02"))
		fmt.Fprintf(out, "Fingerprint: %s\n", info.FingerprintSHA256)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCACmd)
}
