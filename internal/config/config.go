// Package config loads the instance manager's optional YAML config file.
// Command-line flags always win over file values; the file exists so
// deployments can keep one manifest instead of a long flag list.
package config

// Config holds the instance manager settings.
type Config struct {
	// Port is the gRPC listen port.
	Port int `yaml:"port"`
	// StatusPagePort is the HTTP status page port.
	StatusPagePort int `yaml:"status_page_port"`

	TLS TLSConfig `yaml:"tls"`
	Log LogConfig `yaml:"log"`
}

// TLSConfig names the mTLS material on disk.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	// File enables rotating file output when set.
	File string `yaml:"file"`
}

// DefaultConfig returns the defaults, matching the flag defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:           50052,
		StatusPagePort: 4242,
		TLS: TLSConfig{
			CAFile:   "/etc/ssl_certs/ca/tls.crt",
			CertFile: "/etc/ssl_certs/server/tls.crt",
			KeyFile:  "/etc/ssl_certs/server/tls.key",
		},
	}
}
