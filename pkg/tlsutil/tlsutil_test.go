package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/testutil"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"disabled", ServerConfig{}, false},
		{"cert and key", ServerConfig{CertFile: "a.crt", KeyFile: "a.key", MinVersion: "1.3"}, false},
		{"cert without key", ServerConfig{CertFile: "a.crt"}, true},
		{"bad version", ServerConfig{CertFile: "a.crt", KeyFile: "a.key", MinVersion: "1.0"}, true},
		{"mtls without cert", ServerConfig{ClientCAFiles: []string{"ca.crt"}}, true},
		{"require without CA", ServerConfig{CertFile: "a.crt", KeyFile: "a.key", RequireClientCert: true}, true},
		{
			"mtls",
			ServerConfig{CertFile: "a.crt", KeyFile: "a.key", ClientCAFiles: []string{"ca.crt"}, AllowedClientCNs: []string{"svc"}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerConfig_Load(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteTestCert(t, dir, "localhost")

	cfg, err := ServerConfig{}.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = ServerConfig{CertFile: certFile, KeyFile: keyFile}.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	cfg, err = ServerConfig{CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"}.Load()
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	_, err = ServerConfig{CertFile: certFile, KeyFile: filepath.Join(dir, "missing.key")}.Load()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServerConfig_LoadClientAuth(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := testutil.WriteTestCert(t, dir, "localhost")

	cfg, err := ServerConfig{
		CertFile:          certFile,
		KeyFile:           keyFile,
		ClientCAFiles:     []string{certFile},
		RequireClientCert: true,
		AllowedClientCNs:  []string{"svc"},
	}.Load()
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
	assert.NotNil(t, cfg.VerifyPeerCertificate)

	cfg, err = ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{certFile}}.Load()
	require.NoError(t, err)
	assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	assert.Nil(t, cfg.VerifyPeerCertificate)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = ServerConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{bad}}.Load()
	assert.Error(t, err)
}

func TestVerifyAllowedClientCN(t *testing.T) {
	chain := func(cn string) [][]*x509.Certificate {
		return [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: cn}}}}
	}

	assert.NoError(t, verifyAllowedClientCN(chain("svc"), []string{"other", "svc"}))
	assert.Error(t, verifyAllowedClientCN(chain("intruder"), []string{"svc"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"svc"}))
}
