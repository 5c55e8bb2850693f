package transport

import (
	"crypto/tls"
	"flag"
	"fmt"

	"google.golang.org/grpc"
)

// ClientConfig holds the connection flags every manager client shares.
type ClientConfig struct {
	ManagerAddr string
	CAPath      string
	CertPath    string
	KeyPath     string
}

// RegisterClientFlags binds the shared client flags on fs.
func (c *ClientConfig) RegisterClientFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ManagerAddr, "instance-manager", "", "instance manager address (host:port)")
	fs.StringVar(&c.CAPath, "ca-path", "/etc/ssl_certs/ca/tls.crt", "CA certificate path")
	fs.StringVar(&c.CertPath, "cert-path", "/etc/ssl_certs/client/tls.crt", "client certificate path")
	fs.StringVar(&c.KeyPath, "key-path", "/etc/ssl_certs/client/tls.key", "client key path")
}

// Connect validates the flags, loads the TLS material and dials the
// manager.
func (c *ClientConfig) Connect() (*grpc.ClientConn, error) {
	if c.ManagerAddr == "" {
		return nil, fmt.Errorf("--instance-manager is required")
	}
	tlsCfg, err := ClientTLSConfig(c.CAPath, c.CertPath, c.KeyPath)
	if err != nil {
		return nil, err
	}
	return Dial(c.ManagerAddr, tlsCfg)
}

// ServerConfig holds the manager's listen flags.
type ServerConfig struct {
	Port     int
	CAPath   string
	CertPath string
	KeyPath  string
}

// RegisterServerFlags binds the server flags on fs.
func (c *ServerConfig) RegisterServerFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Port, "port", 50052, "gRPC listen port")
	fs.StringVar(&c.CAPath, "ca-path", "/etc/ssl_certs/ca/tls.crt", "client CA certificate path")
	fs.StringVar(&c.CertPath, "cert-path", "/etc/ssl_certs/server/tls.crt", "server certificate path")
	fs.StringVar(&c.KeyPath, "key-path", "/etc/ssl_certs/server/tls.key", "server key path")
}

// TLSConfig loads the server's mTLS material.
func (c *ServerConfig) TLSConfig() (*tls.Config, error) {
	return ServerTLSConfig(c.CAPath, c.CertPath, c.KeyPath)
}
