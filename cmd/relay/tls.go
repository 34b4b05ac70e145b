package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/obs"
)

// createServerTLSConfig returns nil when the listener is plain TCP.
func createServerTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.TLSCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.TLSCAFile != "" {
		pool, err := loadCAPool(cfg.TLSCAFile, nil)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		obs.Info("tls.mtls_enabled", obs.Fields{"ca_file": cfg.TLSCAFile})
	}
	return tlsConfig, nil
}

// createUpstreamTLSConfig returns nil to use the system roots.
func createUpstreamTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.UpstreamCAFile == "" {
		return nil, nil
	}
	system, err := x509.SystemCertPool()
	if err != nil {
		system = x509.NewCertPool()
	}
	pool, err := loadCAPool(cfg.UpstreamCAFile, system)
	if err != nil {
		return nil, err
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func loadCAPool(path string, pool *x509.CertPool) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
