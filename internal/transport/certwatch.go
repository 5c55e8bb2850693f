package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CertReloader serves the manager's certificate and swaps it in place
// when the files on disk change, so rotated secrets take effect without
// a restart.
type CertReloader struct {
	certFile string
	keyFile  string
	logger   *zap.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	debounce time.Duration
}

// NewCertReloader loads the initial cert/key pair.
func NewCertReloader(certFile, keyFile string, logger *zap.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &CertReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate plugs into tls.Config.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load server cert/key: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// Watch monitors the certificate directory until ctx is cancelled.
// Secret mounts rotate by swapping symlinks rather than writing the
// files in place, so any create/write in the directory triggers a
// debounced reload. A failed reload keeps the previous certificate.
func (r *CertReloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cert watcher: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(r.debounce, func() {
				if err := r.reload(); err != nil {
					r.logger.Error("Failed to reload server certificate", zap.Error(err))
					return
				}
				r.logger.Info("Server certificate reloaded",
					zap.String("cert", r.certFile))
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Cert watcher error", zap.Error(err))
		}
	}
}

// ServerTLSConfigWithReloader is ServerTLSConfig with the certificate
// served through r instead of pinned at startup.
func ServerTLSConfigWithReloader(caFile string, r *CertReloader) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA file: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse client CA certificate")
	}

	return &tls.Config{
		GetCertificate: r.GetCertificate,
		ClientCAs:      caPool,
		ClientAuth:     tls.RequireAndVerifyClientCert,
		MinVersion:     tls.VersionTLS13,
	}, nil
}
