package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youmark/pkcs8"
)

func selfSigned(t *testing.T, key any, pub any) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func newECDSA(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key, selfSigned(t, key, &key.PublicKey)
}

func writeFiles(t *testing.T, certPEM, keyPEM []byte) (certFile, keyFile string) {
	t.Helper()
	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

func TestLoad_PlainPKCS8(t *testing.T) {
	key, certPEM := newECDSA(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	certFile, keyFile := writeFiles(t, certPEM, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	cfg, err := Load(certFile, keyFile, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates=%d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("MinVersion=%x, want TLS1.2", cfg.MinVersion)
	}
}

func TestLoad_EncryptedPKCS8(t *testing.T) {
	key, certPEM := newECDSA(t)
	der, err := pkcs8.MarshalPrivateKey(key, []byte("correct horse"), pkcs8.DefaultOpts)
	if err != nil {
		t.Fatalf("pkcs8.MarshalPrivateKey: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der})
	certFile, keyFile := writeFiles(t, certPEM, keyPEM)

	if _, err := Load(certFile, keyFile, "correct horse"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Load(certFile, keyFile, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
	if _, err := Load(certFile, keyFile, ""); !errors.Is(err, ErrPassphraseMissing) {
		t.Fatalf("err=%v, want ErrPassphraseMissing", err)
	}
}

func TestX509KeyPair_LegacyEncryptedRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	certPEM := selfSigned(t, key, &key.PublicKey)

	//nolint:staticcheck
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), []byte("pw"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("EncryptPEMBlock: %v", err)
	}

	if _, err := X509KeyPair(certPEM, pem.EncodeToMemory(block), "pw"); err != nil {
		t.Fatalf("X509KeyPair: %v", err)
	}
}

func TestX509KeyPair_Errors(t *testing.T) {
	key, certPEM := newECDSA(t)
	other, _ := newECDSA(t)

	if _, err := X509KeyPair(certPEM, certPEM, ""); !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("err=%v, want ErrNoPrivateKey", err)
	}

	der, err := x509.MarshalECPrivateKey(other)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	mismatched := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if _, err := X509KeyPair(certPEM, mismatched, ""); err == nil {
		t.Fatalf("expected mismatched key to fail")
	}

	der, err = x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}
	if _, err := X509KeyPair(certPEM, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), ""); err != nil {
		t.Fatalf("X509KeyPair(EC PRIVATE KEY): %v", err)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.pem"), filepath.Join(dir, "nope.key"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v, want os.ErrNotExist", err)
	}
}
