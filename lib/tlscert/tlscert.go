// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tlscert manages the daemon's self-signed TLS certificate.
//
// The certificate and key live in a directory as cert.pem and key.pem
// (both mode 0600). They are generated on first start and reused
// afterwards; clients pin the certificate's fingerprint (see lib/tofu),
// so regenerating it forces every client to re-pin. The pair is
// process-wide and read-only once loaded.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/vex/lib/statefile"
	"github.com/bureau-foundation/vex/lib/tofu"
)

const (
	// CertificateFile and KeyFile are the file names inside the TLS
	// directory.
	CertificateFile = "cert.pem"
	KeyFile         = "key.pem"

	validity = 10 * 365 * 24 * time.Hour
)

// Identity is the daemon's loaded certificate and its fingerprint.
type Identity struct {
	Certificate tls.Certificate
	Fingerprint string
	// Generated is true when LoadOrGenerate created a new pair.
	Generated bool
}

// LoadOrGenerate loads cert.pem and key.pem from directory, generating
// them if neither exists. hosts become the certificate's DNS names and
// IP addresses; they are informational, since clients verify by pin.
// If exactly one of the two files exists the directory is left alone
// and an error is returned.
func LoadOrGenerate(directory string, hosts []string, now time.Time) (Identity, error) {
	certificatePath := filepath.Join(directory, CertificateFile)
	keyPath := filepath.Join(directory, KeyFile)

	certificateExists, err := exists(certificatePath)
	if err != nil {
		return Identity{}, err
	}
	keyExists, err := exists(keyPath)
	if err != nil {
		return Identity{}, err
	}

	generated := false
	switch {
	case certificateExists && keyExists:
	case !certificateExists && !keyExists:
		if err := os.MkdirAll(directory, 0700); err != nil {
			return Identity{}, fmt.Errorf("creating TLS directory: %w", err)
		}
		if err := generate(certificatePath, keyPath, hosts, now); err != nil {
			return Identity{}, err
		}
		generated = true
	default:
		return Identity{}, fmt.Errorf("TLS directory %s has only one of %s and %s; remove it to regenerate",
			directory, CertificateFile, KeyFile)
	}

	certificate, err := tls.LoadX509KeyPair(certificatePath, keyPath)
	if err != nil {
		return Identity{}, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return Identity{
		Certificate: certificate,
		Fingerprint: tofu.Fingerprint(certificate.Certificate[0]),
		Generated:   generated,
	}, nil
}

// ServerConfig returns the TLS configuration for the daemon listener.
func (id Identity) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		MinVersion:   tls.VersionTLS13,
	}
}

// ReadFingerprint returns the fingerprint of the certificate in
// directory without generating one.
func ReadFingerprint(directory string) (string, error) {
	data, err := os.ReadFile(filepath.Join(directory, CertificateFile))
	if err != nil {
		return "", err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("%s: no PEM certificate", filepath.Join(directory, CertificateFile))
	}
	return tofu.Fingerprint(block.Bytes), nil
}

func generate(certificatePath, keyPath string, hosts []string, now time.Time) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generating TLS key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generating certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "vexd"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding TLS key: %w", err)
	}

	// Key first. A lone key is rejected by LoadOrGenerate.
	if err := statefile.Write(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		return err
	}
	if err := statefile.Write(certificatePath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		return err
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
