package cmd

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/tunnelca/authority"
	"github.com/jmcleod/tunnelca/pki"
	"github.com/jmcleod/tunnelca/storage"
)

// ---------------------------------------------------------------------------
// Verification result types
// ---------------------------------------------------------------------------

type verifyResult struct {
	File     string        `json:"file"`
	Customer string        `json:"customer"`
	Serial   int64         `json:"serial"`
	Subject  string        `json:"subject"`
	Valid    bool          `json:"valid"`
	Checks   []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

// ledgerLookup is the ledger state for the certificate being verified.
type ledgerLookup struct {
	Entry       *authority.Issuance
	Unavailable bool
}

var errVerifyFailed = errors.New("certificate verification failed")

// ---------------------------------------------------------------------------
// Core verification logic
// ---------------------------------------------------------------------------

func verifyCertificate(cert, ca *x509.Certificate, ledger ledgerLookup, now time.Time) verifyResult {
	info := pki.Describe(cert)
	result := verifyResult{
		Serial:  info.SerialNumber,
		Subject: info.Subject,
		Valid:   true,
	}
	fail := func(name, detail string) {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
	}
	warn := func(name, detail string) {
		result.Checks = append(result.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
	}
	pass := func(name, detail string) {
		result.Checks = append(result.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
	}

	// 1. Issuer name.
	if bytes.Equal(cert.RawIssuer, ca.RawSubject) {
		pass("issuer_match", "")
	} else {
		fail("issuer_match", fmt.Sprintf("issuer %s does not match CA subject %s", info.Issuer, pki.Describe(ca).Subject))
	}

	// 2. Signature.
	if err := cert.CheckSignatureFrom(ca); err != nil {
		fail("signature", err.Error())
	} else {
		pass("signature", "")
	}

	// 3. Serial range. Serial 1 belongs to the CA.
	if info.SerialNumber > pki.CASerial {
		pass("serial_range", "")
	} else {
		fail("serial_range", fmt.Sprintf("serial %d is reserved for the CA", info.SerialNumber))
	}

	// 4. Validity window. Expiry is reported but not enforced.
	switch {
	case now.Before(cert.NotBefore):
		warn("validity", "not valid before "+cert.NotBefore.UTC().Format(time.RFC3339))
	case now.After(cert.NotAfter):
		warn("validity", "expired at "+cert.NotAfter.UTC().Format(time.RFC3339))
	default:
		pass("validity", "valid until "+cert.NotAfter.UTC().Format("2006-01-02"))
	}

	// 5. Leaf constraints.
	if cert.IsCA {
		warn("leaf_constraints", "certificate is marked as a CA")
	} else {
		pass("leaf_constraints", "")
	}

	// 6. Ledger record.
	switch {
	case ledger.Unavailable:
		warn("ledger_record", "no issuance ledger configured")
	case ledger.Entry == nil:
		fail("ledger_record", fmt.Sprintf("serial %d is not in the ledger", info.SerialNumber))
	case ledger.Entry.FingerprintSHA256 != info.FingerprintSHA256:
		fail("ledger_record", fmt.Sprintf("ledger fingerprint %s differs", ledger.Entry.FingerprintSHA256))
	default:
		pass("ledger_record", "issued as "+ledger.Entry.Name)
	}

	return result
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(w io.Writer, result verifyResult) {
	fmt.Fprintf(w, "Certificate verification: %s\n", result.File)
	fmt.Fprintf(w, "Customer: %s\n", result.Customer)
	fmt.Fprintf(w, "Subject:  %s\n", result.Subject)
	fmt.Fprintf(w, "Serial:   %d\n\n", result.Serial)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

func printJSONResult(w io.Writer, result verifyResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var verifyJSONOutput bool

var verifyCmd = &cobra.Command{
	Use:   "verify <customer> <cert-file>",
	Short: "Verify an issued certificate against the customer CA",
	Long: `Checks that a certificate was signed by the CA of <customer>, that its serial
is a leaf serial and, when a ledger is configured, that the ledger holds the
same certificate under that serial. Expiry is reported as a warning.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	customer, file := args[0], args[1]
	layout, err := authority.NewLayout(app.cfg.BaseDir, customer)
	if err != nil {
		return err
	}
	ca, err := authority.LoadCertificate(app.fs, layout.CACert())
	if err != nil {
		return err
	}
	cert, err := authority.LoadCertificate(app.fs, file)
	if err != nil {
		return err
	}

	var lookup ledgerLookup
	entry, err := app.authority.Find(cmd.Context(), customer, cert.SerialNumber.Int64())
	switch {
	case errors.Is(err, authority.ErrNoLedger):
		lookup.Unavailable = true
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		lookup.Entry = entry
	}

	result := verifyCertificate(cert, ca, lookup, time.Now())
	result.File = file
	result.Customer = customer

	out := cmd.OutOrStdout()
	if verifyJSONOutput {
		if err := printJSONResult(out, result); err != nil {
			return err
		}
	} else {
		printHumanResult(out, result)
	}
	if !result.Valid {
		return errVerifyFailed
	}
	return nil
}
