package transport

import (
	"crypto/tls"
	"fmt"
)

// LoadServerTLSConfig loads a PEM certificate chain and private key from disk
// and builds a server configuration.
//
// Failure here is fatal to startup: the caller should not begin accepting.
func LoadServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair from %s, %s: %w", certFile, keyFile, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
