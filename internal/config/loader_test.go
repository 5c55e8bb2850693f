package config

import (
	"os"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 50052 {
		t.Errorf("Port = %d, want 50052", cfg.Port)
	}
	if cfg.StatusPagePort != 4242 {
		t.Errorf("StatusPagePort = %d, want 4242", cfg.StatusPagePort)
	}
	if cfg.TLS.CAFile != "/etc/ssl_certs/ca/tls.crt" {
		t.Errorf("TLS.CAFile = %q", cfg.TLS.CAFile)
	}
	if cfg.Log.Debug {
		t.Error("Log.Debug should default to false")
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
port: 9000
status_page_port: 9001
tls:
  ca_file: /certs/ca.pem
  cert_file: /certs/server.pem
  key_file: /certs/server.key
log:
  debug: true
  file: /var/log/manager.log
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Port != 9000 || cfg.StatusPagePort != 9001 {
		t.Errorf("ports = (%d, %d)", cfg.Port, cfg.StatusPagePort)
	}
	if cfg.TLS.CertFile != "/certs/server.pem" {
		t.Errorf("TLS.CertFile = %q", cfg.TLS.CertFile)
	}
	if !cfg.Log.Debug || cfg.Log.File != "/var/log/manager.log" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("WARMPOOL_TEST_CERT_DIR", "/mnt/certs")
	defer os.Unsetenv("WARMPOOL_TEST_CERT_DIR")

	cfg, err := NewLoader().Parse([]byte(`
tls:
  ca_file: ${WARMPOOL_TEST_CERT_DIR}/ca.pem
  cert_file: ${WARMPOOL_TEST_CERT_DIR}/server.pem
  key_file: ${WARMPOOL_TEST_UNSET_VAR}/server.key
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.TLS.CAFile != "/mnt/certs/ca.pem" {
		t.Errorf("env not expanded: %q", cfg.TLS.CAFile)
	}
	if cfg.TLS.KeyFile != "${WARMPOOL_TEST_UNSET_VAR}/server.key" {
		t.Errorf("unset env should stay literal: %q", cfg.TLS.KeyFile)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "port: 0", "port must be"},
		{"port collision", "port: 4242", "must differ"},
		{"missing cert", "tls:\n  cert_file: \"\"", "tls.cert_file is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewLoader().Load("/nonexistent/warmpool.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
