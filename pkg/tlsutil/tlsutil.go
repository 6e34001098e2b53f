// Package tlsutil builds server TLS settings for the HTTP and WebSocket
// gateways, with optional client certificate verification.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/graphbus/errors"
)

// ServerConfig holds certificate files for a listener. TLS is on when both
// CertFile and KeyFile are set.
type ServerConfig struct {
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" toml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty" toml:"min_version,omitempty"` // "1.2" or "1.3"

	// ClientCAFiles turns on client certificate verification.
	ClientCAFiles     []string `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty" toml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty" toml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty" toml:"allowed_client_cns,omitempty"`
}

// Enabled reports whether the listener should serve TLS.
func (c ServerConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate checks the settings without touching the files.
func (c ServerConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: cert_file and key_file must be set together", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "certificate check")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unsupported min_version %q", errors.ErrInvalidConfig, c.MinVersion),
			"tlsutil", "Validate", "version check")
	}
	if !c.Enabled() && (len(c.ClientCAFiles) > 0 || c.RequireClientCert || len(c.AllowedClientCNs) > 0) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: client verification needs a server certificate", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "mtls check")
	}
	if (c.RequireClientCert || len(c.AllowedClientCNs) > 0) && len(c.ClientCAFiles) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: client verification needs client_ca_files", errors.ErrInvalidConfig),
			"tlsutil", "Validate", "mtls check")
	}
	return nil
}

// Load reads the certificate files. It returns nil when TLS is off.
func (c ServerConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "Load", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(c.MinVersion),
	}
	if len(c.ClientCAFiles) > 0 {
		if err := c.applyClientAuth(tlsConfig); err != nil {
			return nil, err
		}
	}
	return tlsConfig, nil
}

func (c ServerConfig) applyClientAuth(tlsConfig *tls.Config) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range c.ClientCAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "Load", "read client CA file "+caFile)
		}
		if !clientCAs.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "Load",
				"parse client CA certificate from "+caFile)
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if c.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(c.AllowedClientCNs) > 0 {
		allowed := c.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}
	return nil
}

// verifyAllowedClientCN accepts a chain whose leaf CN is listed. A CN list
// makes a client certificate mandatory.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leaf := chains[0][0]
	for _, cn := range allowedCNs {
		if leaf.Subject.CommonName == cn {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", leaf.Subject.CommonName)
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
