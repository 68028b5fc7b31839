package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

// Config mirrors the subset of config.TimingPolicy/TLSPolicy the connection
// pool needs; kept as a plain struct here so this package never imports
// internal/config (it is a leaf the scheduler and fetcher both depend on).
type Config struct {
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	ReadTimeout         time.Duration
	BindAddress         string
	Concurrency         int

	SecureProtocol     string
	NoCheckCertificate bool
	Certificate        string
	PrivateKey         string
	CACertificate      string
}

// Pool owns one *http.Transport per scheme (http needs no TLS stack at all;
// https needs one configured from TLSPolicy) plus the global semaphore that
// bounds total in-flight requests across every host. The fetcher acquires a
// slot around each request it sends; the scheduler never touches the
// semaphore, so this is the one place K_total is enforced.
type Pool struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
	cfg        Config
	semaphore  sizedwaitgroup.SizedWaitGroup
}

func New(cfg Config) (*Pool, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	p := &Pool{
		transports: make(map[string]*http.Transport),
		cfg:        cfg,
		semaphore:  sizedwaitgroup.New(cfg.Concurrency),
	}
	return p, nil
}

// Acquire blocks until a global concurrency slot is available or ctx is
// cancelled.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.semaphore.AddWithContext(ctx)
}

// Release returns a slot acquired via Acquire.
func (p *Pool) Release() {
	p.semaphore.Done()
}

// Client returns the *http.Client for the given scheme, building its
// Transport lazily on first use.
func (p *Pool) Client(scheme string) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.transports[scheme]; ok {
		return &http.Client{Transport: t}, nil
	}

	t, err := p.buildTransport(scheme)
	if err != nil {
		return nil, err
	}
	p.transports[scheme] = t
	return &http.Client{Transport: t}, nil
}

func (p *Pool) buildTransport(scheme string) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout: p.cfg.DialTimeout,
		// Happy Eyeballs dual-stack racing (RFC 8305) is already
		// implemented by net.Dialer; no pack library reimplements it.
		FallbackDelay: 250 * time.Millisecond,
	}

	if p.cfg.BindAddress != "" {
		addr, err := net.ResolveTCPAddr("tcp", p.cfg.BindAddress+":0")
		if err != nil {
			return nil, &TransportError{Cause: ErrCauseBadBindAddress, Err: err}
		}
		dialer.LocalAddr = addr
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       p.cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   p.cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       p.cfg.IdleConnTimeout,
		ResponseHeaderTimeout: p.cfg.ReadTimeout,
	}

	if scheme == "https" {
		tlsConfig, err := p.buildTLSConfig()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return transport, nil
}

func (p *Pool) buildTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: p.cfg.NoCheckCertificate,
		MinVersion:         minVersionFor(p.cfg.SecureProtocol),
	}

	if p.cfg.Certificate != "" && p.cfg.PrivateKey != "" {
		cert, err := tls.LoadX509KeyPair(p.cfg.Certificate, p.cfg.PrivateKey)
		if err != nil {
			return nil, &TransportError{Cause: ErrCauseBadCertificate, Err: err}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if p.cfg.CACertificate != "" {
		pem, err := os.ReadFile(p.cfg.CACertificate)
		if err != nil {
			return nil, &TransportError{Cause: ErrCauseBadCACert, Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &TransportError{Cause: ErrCauseBadCACert, Err: err}
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func minVersionFor(secureProtocol string) uint16 {
	switch secureProtocol {
	case "TLSv1_2":
		return tls.VersionTLS12
	case "TLSv1_3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// Close releases idle connections held by every transport the pool built.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
