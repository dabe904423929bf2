package cabundle

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

var (
	errMalformedBundle = errors.New("malformed PEM data in CA bundle")
	errNotACertificate = errors.New("CA bundle contains a non-certificate PEM block")
	errEmptyBundle     = errors.New("CA bundle contains no certificates")
)

// Manager loads a PEM bundle of CA certificates for the external log
// index and reloads it when the file changes on disk. The watch covers
// the bundle's parent directory, not the file itself: Kubernetes
// rotates mounted secrets by swapping a symlinked directory, which
// never fires a write event on the file path.
type Manager struct {
	path     string
	log      logger.Logger
	onChange func()

	mu   sync.RWMutex
	pool *x509.CertPool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewManager loads the bundle at path and starts watching it. An empty
// path yields an inert manager whose TLSConfig carries no custom roots.
// onChange fires after every successful reload.
func NewManager(path string, log logger.Logger, onChange func()) (*Manager, error) {
	m := &Manager{log: log, onChange: onChange}
	if path == "" {
		return m, nil
	}
	m.path = filepath.Clean(path)

	if err := m.reload(); err != nil {
		return nil, fmt.Errorf("load CA bundle %s: %w", m.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create bundle watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(m.path), err)
	}
	m.watcher = watcher
	m.done = make(chan struct{})

	go m.run()
	log.Info("CA bundle loaded", "path", m.path)
	return m, nil
}

// RootCAs returns the current pool, nil when no bundle is configured.
func (m *Manager) RootCAs() *x509.CertPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// TLSConfig builds a client TLS config carrying the managed roots.
func (m *Manager) TLSConfig(skipVerify bool) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: skipVerify,
	}
	if pool := m.RootCAs(); pool != nil {
		cfg.RootCAs = pool
	}
	return cfg
}

// ForceReload re-reads the bundle immediately, bypassing the watcher.
func (m *Manager) ForceReload() error {
	if m.path == "" {
		return nil
	}
	return m.reload()
}

// Close stops the watcher and waits for the reload loop to exit.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	<-m.done
	return err
}

// run drains watcher events until Close shuts the channels.
func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.concerns(event) {
				continue
			}
			if err := m.reloadRetry(); err != nil {
				m.log.Warn("CA bundle reload failed", "path", m.path, "error", err)
				continue
			}
			m.log.Info("CA bundle reloaded", "path", m.path)
			if m.onChange != nil {
				m.onChange()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("CA bundle watcher error", "error", err)
		}
	}
}

// concerns reports whether the event touches the bundle file or its
// directory. Secret rotation surfaces as directory-level events.
func (m *Manager) concerns(event fsnotify.Event) bool {
	if event.Name == "" {
		return true
	}
	name := filepath.Clean(event.Name)
	return name == m.path || filepath.Dir(name) == filepath.Dir(m.path)
}

// reloadRetry absorbs partially written files: rotation writes the new
// bundle in steps, and an early read can catch it mid-replace.
func (m *Manager) reloadRetry() error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if err = m.reload(); err == nil {
			return nil
		}
	}
	return err
}

func (m *Manager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read CA bundle: %w", err)
	}
	certs, err := parseCertificates(data)
	if err != nil {
		return err
	}

	// Layer the bundle on top of the system roots so a cluster-internal
	// CA does not cut access to publicly signed backends.
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, cert := range certs {
		pool.AddCert(cert)
	}

	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()
	return nil
}

// parseCertificates decodes every PEM block in data and rejects
// anything that is not a certificate. Truncated or foreign content
// fails loudly rather than silently shrinking the trust set.
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			if len(bytes.TrimSpace(rest)) > 0 {
				return nil, errMalformedBundle
			}
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%w: %s", errNotACertificate, block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errEmptyBundle
	}
	return certs, nil
}
