// Package certs loads the TLS key pair of the API server and reports on
// certificate expiry.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// RenewWithin is how close to expiry a certificate gets reported.
const RenewWithin = 30 * 24 * time.Hour

// Status describes one certificate of a chain.
type Status struct {
	Subject  string
	NotAfter time.Time
	Expired  bool
	// ExpiresSoon is set when the certificate expires within RenewWithin.
	ExpiresSoon bool
}

// LoadCertificates parses every CERTIFICATE block of a PEM file.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("certs: reading %s: %w", path, err)
	}
	var out []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certs: parsing %s: %w", path, err)
		}
		out = append(out, cert)
	}
	if len(out) == 0 {
		return nil, errors.New("certs: failed to parse certificate PEM")
	}
	return out, nil
}

// Check reports the expiry state of certs at now.
func Check(certs []*x509.Certificate, now time.Time) []Status {
	out := make([]Status, len(certs))
	for i, c := range certs {
		out[i] = Status{
			Subject:     c.Subject.String(),
			NotAfter:    c.NotAfter,
			Expired:     IsExpired(c, now),
			ExpiresSoon: !IsExpired(c, now) && c.NotAfter.Sub(now) < RenewWithin,
		}
	}
	return out
}

// IsExpired checks if a certificate is expired.
func IsExpired(cert *x509.Certificate, now time.Time) bool {
	return cert.NotAfter.Before(now)
}

// LoadServerConfig loads the key pair and returns a TLS config for the
// API listener together with the expiry report of the chain.
func LoadServerConfig(certFile, keyFile string, now time.Time) (*tls.Config, []Status, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("certs: loading key pair: %w", err)
	}
	chain, err := LoadCertificates(certFile)
	if err != nil {
		return nil, nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
	}
	return cfg, Check(chain, now), nil
}
