// Package tlsconfig loads the PEM certificate chain and private key served
// by the signaling relay. The key may be plain, PKCS#8 encrypted ("ENCRYPTED
// PRIVATE KEY") or legacy OpenSSL encrypted (Proc-Type: 4,ENCRYPTED).
package tlsconfig

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

var (
	ErrNoPrivateKey      = errors.New("tlsconfig: no private key block found")
	ErrPassphraseMissing = errors.New("tlsconfig: private key is encrypted but no passphrase was given")
)

// Load reads certFile and keyFile and returns a server-side TLS config.
func Load(certFile, keyFile, passphrase string) (*tls.Config, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	cert, err := X509KeyPair(certPEM, keyPEM, passphrase)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// X509KeyPair is tls.X509KeyPair with support for encrypted keys.
func X509KeyPair(certPEM, keyPEM []byte, passphrase string) (tls.Certificate, error) {
	block, err := firstKeyBlock(keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}

	key, err := decodeKey(block, passphrase)
	if err != nil {
		return tls.Certificate{}, err
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: re-encode private key: %w", err)
	}
	plain := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	cert, err := tls.X509KeyPair(certPEM, plain)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: %w", err)
	}
	return cert, nil
}

func firstKeyBlock(data []byte) (*pem.Block, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPrivateKey
		}
		switch block.Type {
		case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			return block, nil
		}
	}
}

func decodeKey(block *pem.Block, passphrase string) (crypto.PrivateKey, error) {
	switch {
	case block.Type == "ENCRYPTED PRIVATE KEY":
		if passphrase == "" {
			return nil, ErrPassphraseMissing
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: decrypt private key: %w", err)
		}
		return key, nil

	//nolint:staticcheck // legacy PEM encryption is still what `openssl genrsa -aes256` emits.
	case x509.IsEncryptedPEMBlock(block):
		if passphrase == "" {
			return nil, ErrPassphraseMissing
		}
		//nolint:staticcheck
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: decrypt private key: %w", err)
		}
		return parseDER(block.Type, der)

	default:
		return parseDER(block.Type, block.Bytes)
	}
}

func parseDER(blockType string, der []byte) (crypto.PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	default:
		key, err := pkcs8.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: parse private key: %w", err)
		}
		return key, nil
	}
}
