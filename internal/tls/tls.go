// Package tls configures HTTPS for `katsctl serve`.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/katsctl/internal/config"
)

// File names inside server.tls.dir.
const (
	CACertName = "ca.crt"
	CertName   = "tls.crt"
	KeyName    = "tls.key"
)

const defaultValidDays = 365

// parseVersion maps "1.2" or "1.3" (optionally prefixed TLS) to a constant.
func parseVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported tls min_version %q", v)
}

// Setup returns the server TLS config, or nil when TLS is disabled.
// Explicit cert_file/key_file win over dir; in dir mode a missing pair is
// generated when auto_generate is set.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" || keyPath == "" {
		if c.Dir == "" {
			return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
		}
		certPath, keyPath = filepath.Join(c.Dir, CertName), filepath.Join(c.Dir, KeyName)
		if !exists(certPath) || !exists(keyPath) {
			if !c.AutoGenerate {
				return nil, fmt.Errorf("certificate %s not found", certPath)
			}
			if err := generate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}

	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: loader(certPath, keyPath),
	}, nil
}

// loader re-reads the pair on every handshake so renewed files apply
// without a restart.
func loader(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func generate(c config.TLSConfig) error {
	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", c.Dir, err)
	}
	days := c.ValidDays
	if days <= 0 {
		days = defaultValidDays
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	return GenerateSelfSigned(CertConfig{
		CommonName: hosts[0],
		Hosts:      hosts,
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   filepath.Join(c.Dir, CertName),
		KeyPath:    filepath.Join(c.Dir, KeyName),
		CACertPath: filepath.Join(c.Dir, CACertName),
	})
}
