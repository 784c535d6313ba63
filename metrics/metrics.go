// Package metrics exposes CA issuance counters in the Prometheus text format.
// The CLI is short-lived, so samples are written to a node exporter textfile
// instead of being scraped.
package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	certificatesIssuedName = "tunnelca_certificates_issued_total"
	caCreatedName          = "tunnelca_ca_created_total"
	lastSerialName         = "tunnelca_last_serial"
)

// Recorder holds the tunnelca collectors on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	textfile string

	// certificatesIssued counts leaf certificates.
	// Labels: customer, eku (server_auth, client_auth, code_signing, none)
	certificatesIssued *prometheus.CounterVec

	// caCreated counts self-signed CA certificates created.
	caCreated *prometheus.CounterVec

	// lastSerial is the most recent serial issued per customer.
	lastSerial *prometheus.GaugeVec
}

// New returns a Recorder. When textfile is not empty, Flush writes all
// samples there. Call Load to continue from the samples a previous run left
// in the textfile.
func New(textfile string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		textfile: textfile,
		certificatesIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: certificatesIssuedName,
				Help: "Total number of leaf certificates issued grouped by customer and extended key usage",
			},
			[]string{"customer", "eku"},
		),
		caCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: caCreatedName,
				Help: "Total number of CA certificates created grouped by customer",
			},
			[]string{"customer"},
		),
		lastSerial: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: lastSerialName,
				Help: "Last serial number issued grouped by customer",
			},
			[]string{"customer"},
		),
	}
}

// CertificateIssued records one leaf certificate.
func (r *Recorder) CertificateIssued(customer, eku string, serial int64) {
	if eku == "" {
		eku = "none"
	}
	r.certificatesIssued.WithLabelValues(customer, eku).Inc()
	r.lastSerial.WithLabelValues(customer).Set(float64(serial))
}

// CACreated records a new CA certificate.
func (r *Recorder) CACreated(customer string) {
	r.caCreated.WithLabelValues(customer).Inc()
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Flush writes the current samples to the textfile, if one is configured.
func (r *Recorder) Flush() error {
	if r.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.textfile, r.registry)
}

// Load seeds the collectors from the samples already in the textfile so that
// totals and other customers' series survive across runs. A missing textfile
// is not an error. Load is meant to run once, before anything is recorded.
func (r *Recorder) Load() error {
	if r.textfile == "" {
		return nil
	}
	f, err := os.Open(r.textfile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening metrics textfile: %w", err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parsing metrics textfile %s: %w", r.textfile, err)
	}

	for _, m := range families[certificatesIssuedName].GetMetric() {
		if v := m.GetCounter().GetValue(); v > 0 {
			r.certificatesIssued.WithLabelValues(labelValue(m, "customer"), labelValue(m, "eku")).Add(v)
		}
	}
	for _, m := range families[caCreatedName].GetMetric() {
		if v := m.GetCounter().GetValue(); v > 0 {
			r.caCreated.WithLabelValues(labelValue(m, "customer")).Add(v)
		}
	}
	for _, m := range families[lastSerialName].GetMetric() {
		r.lastSerial.WithLabelValues(labelValue(m, "customer")).Set(m.GetGauge().GetValue())
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
