// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"codeberg.org/oliverandrich/otpgate/internal/config"
)

// SetupTLS loads the configured certificate pair. It returns nil when TLS is
// not configured and the server should listen in plain HTTP.
func SetupTLS(cfg *config.Config) (*tls.Config, error) {
	if !cfg.TLS.Enabled() {
		if cfg.TLS.CertFile != "" || cfg.TLS.KeyFile != "" {
			return nil, errors.New("TLS requires both cert-file and key-file")
		}
		slog.Info("TLS disabled")
		return nil, nil
	}

	certFile := cfg.TLS.CertFile
	keyFile := cfg.TLS.KeyFile

	// Check if files exist
	if _, err := os.Stat(certFile); err != nil {
		return nil, fmt.Errorf("certificate file not found: %w", err)
	}
	if _, err := os.Stat(keyFile); err != nil {
		return nil, fmt.Errorf("key file not found: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	slog.Info("Using certificate", "cert", certFile, "key", keyFile)
	logCertFingerprint(&cert)

	return createTLSConfig(&cert), nil
}

// logCertFingerprint logs the SHA256 fingerprint of the certificate.
func logCertFingerprint(cert *tls.Certificate) {
	if len(cert.Certificate) == 0 {
		return
	}
	fingerprint := sha256.Sum256(cert.Certificate[0])
	hexParts := make([]string, len(fingerprint))
	for i, b := range fingerprint {
		hexParts[i] = fmt.Sprintf("%02X", b)
	}
	slog.Info("Certificate fingerprint", "sha256", strings.Join(hexParts, ":"))
}

func createTLSConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}
}
