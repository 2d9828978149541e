package netconn

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// TLSConfig bundles the material needed to load a server or client
// certificate whose private key may be PEM-encrypted, something Go's
// stdlib tls package does not handle on its own. PasswordFunc is only
// consulted when the PEM block reports encryption (RFC 1423, the same
// scheme the original framework's ssl_password_callback decrypted).
type TLSConfig struct {
	CertFile     string
	KeyFile      string
	PasswordFunc func() (string, error)
}

// LoadCertificate reads a certificate/key pair, decrypting the key
// first if it is PEM-encrypted and PasswordFunc is set. The resulting
// certificate is ready to place in a *tls.Config's Certificates slice.
func LoadCertificate(certPEM, keyPEM []byte, cfg TLSConfig) (tls.Certificate, error) {
	block, rest := pem.Decode(keyPEM)
	if block == nil {
		return tls.X509KeyPair(certPEM, keyPEM)
	}

	//lint:ignore SA1019 encrypted PEM keys have no non-deprecated stdlib path
	if !x509.IsEncryptedPEMBlock(block) {
		return tls.X509KeyPair(certPEM, keyPEM)
	}

	if cfg.PasswordFunc == nil {
		return tls.Certificate{}, fmt.Errorf("netconn: key %s is encrypted but no PasswordFunc was supplied", cfg.KeyFile)
	}

	password, err := cfg.PasswordFunc()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("netconn: password callback failed: %w", err)
	}

	//lint:ignore SA1019 encrypted PEM keys have no non-deprecated stdlib path
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("netconn: decrypt key: %w", err)
	}

	decrypted := pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der, Headers: nil})
	if len(rest) > 0 {
		decrypted = append(decrypted, rest...)
	}

	return tls.X509KeyPair(certPEM, decrypted)
}
