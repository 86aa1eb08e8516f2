package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	gemini "github.com/knowfox/gemini"
	"github.com/knowfox/gemini/internal/certutil"
)

// listener bundles one ListenerConfig's running pipeline and acceptor.
type listener struct {
	config   ListenerConfig
	acceptor *gemini.Acceptor
}

// Orchestrator loads listener configurations, builds a pipeline per
// listener, starts them in parallel, and drains them on Stop (spec.md
// §4.9, §2 component 11).
type Orchestrator struct {
	Hosts       []gemini.Host
	ScratchRoot string
	Log         logrus.FieldLogger

	listeners []*listener
}

// Start builds and starts one acceptor per config. If every listener fails
// to start, it returns an error (spec.md §4.9: "If all listeners fail,
// signal orderly shutdown"); a partial failure is logged and that listener
// is skipped.
func (o *Orchestrator) Start(ctx context.Context, configs []ListenerConfig) error {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}

	type result struct {
		l   *listener
		err error
	}
	results := make([]result, len(configs))

	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg ListenerConfig) {
			defer wg.Done()
			l, err := o.startListener(cfg)
			results[i] = result{l: l, err: err}
		}(i, cfg)
	}
	wg.Wait()

	var started []*listener
	for i, r := range results {
		if r.err != nil {
			o.Log.WithError(r.err).WithField("listen", configs[i].Listen).Warn("listener failed to start")
			continue
		}
		started = append(started, r.l)
	}

	if len(started) == 0 {
		return fmt.Errorf("config: all listeners failed to start")
	}

	o.listeners = started
	return nil
}

func (o *Orchestrator) startListener(cfg ListenerConfig) (*listener, error) {
	chain, err := gemini.NewChain(o.Hosts, o.Log)
	if err != nil {
		return nil, fmt.Errorf("config: failed to build host chain: %w", err)
	}

	serverCertificates := cfg.ServerCertificates
	if len(serverCertificates) == 0 {
		// No certificate configured at all: fall through the §4.9 lookup
		// chain straight to the generated developer certificate.
		serverCertificates = map[string]string{"*": ""}
	}

	certs := map[string]*tls.Certificate{}
	var order []string
	for host, value := range serverCertificates {
		cert, err := resolveCertificate(value, host, o.Log)
		if err != nil {
			return nil, fmt.Errorf("config: failed to resolve certificate for %q: %w", host, err)
		}
		certs[host] = cert
		order = append(order, host)
	}

	source := gemini.NewCertificateSource(certs, order)
	tlsConfig := gemini.BuildTLSConfig(source, cfg.RequireClientCertificate)

	scratchRoot := cfg.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = o.ScratchRoot
	}
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}

	pipeline := gemini.NewPipeline(chain, tlsConfig, scratchRoot, o.Log)
	acceptor := &gemini.Acceptor{Addr: cfg.Listen, Pipeline: pipeline, Log: o.Log}
	if err := acceptor.Start(); err != nil {
		chain.StopAll()
		return nil, fmt.Errorf("config: failed to start acceptor on %q: %w", cfg.Listen, err)
	}

	return &listener{config: cfg, acceptor: acceptor}, nil
}

// resolveCertificate implements the §4.9 lookup order: file path, then
// fully-qualified (absolute) path, then OS key-store thumbprint, then a
// generated one-year developer certificate.
func resolveCertificate(value, commonName string, log logrus.FieldLogger) (*tls.Certificate, error) {
	if data, err := os.ReadFile(value); err == nil {
		return loadCombinedPEM(data)
	}

	if abs, err := filepath.Abs(value); err == nil {
		if data, err := os.ReadFile(abs); err == nil {
			return loadCombinedPEM(data)
		}
	}

	if cert, ok := certutil.LookupSystemThumbprint(value); ok {
		return &cert, nil
	}

	log.WithField("host", commonName).Warn("no certificate resolved; generating a developer certificate")
	certPath := filepath.Join(os.TempDir(), "server.crt")
	keyPath := filepath.Join(os.TempDir(), "server.key")
	cert, err := certutil.GenerateDeveloperCertificate(certPath, keyPath, commonName)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func loadCombinedPEM(data []byte) (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair(data, data)
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse certificate PEM: %w", err)
	}
	return &cert, nil
}

// Stop stops every listener's acceptor, then stops and disposes hosts in
// parallel (spec.md §4.9: "each listener is stopped, then hosts are
// stopped in parallel, then disposed").
func (o *Orchestrator) Stop(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range o.listeners {
		wg.Add(1)
		go func(l *listener) {
			defer wg.Done()
			if err := l.acceptor.Stop(ctx); err != nil {
				o.Log.WithError(err).WithField("listen", l.config.Listen).Warn("listener stop failed")
			}
		}(l)
	}
	wg.Wait()

	var hostWg sync.WaitGroup
	for _, h := range o.Hosts {
		hostWg.Add(1)
		go func(h gemini.Host) {
			defer hostWg.Done()
			h.Stop()
			h.Dispose()
		}(h)
	}
	hostWg.Wait()
}
