package api

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTimeout bounds reading a request and writing its response. It must
// leave room for sealing a block.
func WithTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadTimeout = timeout
		s.httpServer.WriteTimeout = timeout
	}
}

// WithCertificate serves over TLS with cert.
func WithCertificate(cert tls.Certificate) ServerOption {
	return func(s *Server) {
		if s.tlsConfig == nil {
			s.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	}
}

// WithTokenAuth requires the X-Node-Token header on allocate and release.
func WithTokenAuth() ServerOption {
	return func(s *Server) {
		s.requireToken = true
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}
