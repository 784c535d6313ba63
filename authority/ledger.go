package authority

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jmcleod/tunnelca/internal/uuid"
	"github.com/jmcleod/tunnelca/pki"
	"github.com/jmcleod/tunnelca/storage"
)

const (
	recordTypeIssuance = "issuance"
	recordTypeSerial   = "serial-index"
)

// Issuance is the ledger entry written for every leaf certificate.
type Issuance struct {
	ID                string    `json:"id" yaml:"id"`
	Customer          string    `json:"customer" yaml:"customer"`
	Name              string    `json:"name" yaml:"name"`
	SerialNumber      int64     `json:"serial_number" yaml:"serial_number"`
	Subject           string    `json:"subject" yaml:"subject"`
	ExtKeyUsage       string    `json:"ext_key_usage,omitempty" yaml:"ext_key_usage,omitempty"`
	DNSNames          []string  `json:"dns_names,omitempty" yaml:"dns_names,omitempty"`
	NotBefore         time.Time `json:"not_before" yaml:"not_before"`
	NotAfter          time.Time `json:"not_after" yaml:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256" yaml:"fingerprint_sha256"`
	CertFile          string    `json:"cert_file" yaml:"cert_file"`
	IssuedAt          time.Time `json:"issued_at" yaml:"issued_at"`
}

func newIssuance(customer, name string, eku pki.ExtKeyUsage, cert *x509.Certificate, certFile string) Issuance {
	info := pki.Describe(cert)
	return Issuance{
		ID:                uuid.New(),
		Customer:          customer,
		Name:              name,
		SerialNumber:      info.SerialNumber,
		Subject:           info.Subject,
		ExtKeyUsage:       eku.String(),
		DNSNames:          cert.DNSNames,
		NotBefore:         info.NotBefore,
		NotAfter:          info.NotAfter,
		FingerprintSHA256: info.FingerprintSHA256,
		CertFile:          certFile,
		IssuedAt:          time.Now().UTC(),
	}
}

// recordIssuance stores entry and its serial index in one batch. The index
// is written with compare-and-swap so a serial can only be recorded once.
func recordIssuance(repo storage.Repository, entry Issuance) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding issuance: %w", err)
	}
	serialID := strconv.FormatInt(entry.SerialNumber, 10)
	return repo.Batch(entry.Customer, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeSerial, serialID, 0, storage.NewRecord([]byte(entry.ID), 1)); err != nil {
			return fmt.Errorf("indexing serial %s: %w", serialID, err)
		}
		return tx.Put(recordTypeIssuance, entry.ID, storage.NewRecord(data, 1))
	})
}

// listIssuances returns every entry for customer ordered by serial.
func listIssuances(repo storage.Repository, customer string) ([]Issuance, error) {
	ids, err := repo.List(customer, recordTypeIssuance)
	if err != nil {
		return nil, err
	}
	entries := make([]Issuance, 0, len(ids))
	for _, id := range ids {
		entry, err := getIssuance(repo, customer, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sortBySerial(entries)
	return entries, nil
}

// findIssuance looks an entry up by serial.
func findIssuance(repo storage.Repository, customer string, serial int64) (Issuance, error) {
	rec, err := repo.Get(customer, recordTypeSerial, strconv.FormatInt(serial, 10))
	if err != nil {
		return Issuance{}, err
	}
	return getIssuance(repo, customer, string(rec.Data))
}

func getIssuance(repo storage.Repository, customer, id string) (Issuance, error) {
	rec, err := repo.Get(customer, recordTypeIssuance, id)
	if err != nil {
		return Issuance{}, err
	}
	var entry Issuance
	if err := json.Unmarshal(rec.Data, &entry); err != nil {
		return Issuance{}, fmt.Errorf("decoding issuance %s: %w", id, err)
	}
	return entry, nil
}

func sortBySerial(entries []Issuance) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].SerialNumber < entries[j].SerialNumber })
}
