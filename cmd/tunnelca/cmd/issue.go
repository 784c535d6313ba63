package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tunnelca/authority"
	"github.com/jmcleod/tunnelca/pki"
)

var (
	issueEKU               string
	issueSANs              []string
	issueOptions           []string
	issueChallengePassword string
)

var issueCmd = &cobra.Command{
	Use:   "issue <customer> <name>",
	Short: "Issue a certificate and write its VPN bundle",
	Long: `Issues a certificate for <name> signed by the CA of <customer>, creating the
CA first if needed, and writes <customer>-<name>.ovpn. The bundle starts with
commonopts.txt from the customer directory, followed by any --opt lines.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eku, err := pki.ParseExtKeyUsage(issueEKU)
		if err != nil {
			return err
		}
		issued, err := app.authority.Issue(cmd.Context(), authority.IssueRequest{
			Customer:          args[0],
			Name:              args[1],
			ExtKeyUsage:       eku,
			DNSNames:          issueSANs,
			ChallengePassword: issueChallengePassword,
			Options:           issueOptions,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "created certificate with serial: %d and subject: %s\n", issued.SerialNumber, args[1])
		fmt.Fprintf(out, "Certificate: %s\n", issued.CertFile)
		fmt.Fprintf(out, "Bundle:      %s\n", issued.BundleFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.Flags().StringVar(&issueEKU, "eku", "server_auth", "Extended key usage: server_auth, client_auth, code_signing or empty for none")
	issueCmd.Flags().StringSliceVar(&issueSANs, "san", nil, "DNS subject alternative name (repeatable)")
	issueCmd.Flags().StringArrayVar(&issueOptions, "opt", nil, "Extra bundle line appended after commonopts.txt (repeatable)")
	issueCmd.Flags().StringVar(&issueChallengePassword, "challenge-password", "", "Challenge password attribute for the request")
}
