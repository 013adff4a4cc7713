package api

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// certValidity is how long a generated API certificate stays valid.
const certValidity = 365 * 24 * time.Hour

// GenerateSelfSignedCert creates an ECDSA P-256 certificate for the host part
// of address, signed by its own key. It returns the certificate and its PEM
// encoding, which clients can add to their root pool.
func GenerateSelfSignedCert(address string) (tls.Certificate, []byte, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("invalid API address %q: %w", address, err)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "quota-ledger api", Organization: []string{"Quota Ledger"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	tmpl.DNSNames, tmpl.IPAddresses = certHosts(host)

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// certHosts lists the names a certificate for host must cover. An empty or
// loopback host also covers the other loopback spellings.
func certHosts(host string) ([]string, []net.IP) {
	ip := net.ParseIP(host)
	switch {
	case ip != nil && !ip.IsLoopback():
		return nil, []net.IP{ip}
	case ip == nil && host != "" && host != "localhost":
		return []string{host}, nil
	}
	return []string{"localhost"}, []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
}
