// Package pki creates and stores the credentials for the downstream OpenVPN
// endpoint: a private certificate authority, server and peer certificates
// signed by it, and the shared tls-crypt key. Everything is generated on
// first use and reused verbatim on later runs.
package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotProvisioned is returned when a credential has not been generated yet.
var ErrNotProvisioned = errors.New("pki: not provisioned")

const (
	caValidityYears  = 10
	leafValidityDays = 825
	preAuthKeyBytes  = 256
)

// Store keeps all credential material under a single directory. Private keys
// live in private/ with mode 0600, issued certificates in issued/.
type Store struct {
	dir string
}

// Credential points at an on-disk certificate and key pair. Created reports
// whether this call generated the pair or found an existing one.
type Credential struct {
	Created  bool
	CertPath string
	KeyPath  string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) CACertPath() string { return filepath.Join(s.dir, "ca.crt") }
func (s *Store) CAKeyPath() string  { return filepath.Join(s.dir, "private", "ca.key") }
func (s *Store) PreAuthKeyPath() string {
	return filepath.Join(s.dir, "tc.key")
}

func (s *Store) CertPath(name string) string {
	return filepath.Join(s.dir, "issued", name+".crt")
}

func (s *Store) KeyPath(name string) string {
	return filepath.Join(s.dir, "private", name+".key")
}

// EnsureCA generates the self-signed certificate authority if it does not
// exist yet. An existing CA is never reissued, so certificates signed on
// earlier runs stay valid.
func (s *Store) EnsureCA() (Credential, error) {
	cred := Credential{CertPath: s.CACertPath(), KeyPath: s.CAKeyPath()}
	switch err := s.checkPair(cred.CertPath, cred.KeyPath); {
	case err == nil:
		return cred, nil
	case !errors.Is(err, ErrNotProvisioned):
		return Credential{}, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Credential{}, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return Credential{}, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "ovpnwg-ca"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Credential{}, fmt.Errorf("create CA certificate: %w", err)
	}
	if err := s.writePair(cred.CertPath, cred.KeyPath, der, key); err != nil {
		return Credential{}, err
	}
	cred.Created = true
	return cred, nil
}

// EnsureServer issues the downstream server certificate, signed by the CA.
func (s *Store) EnsureServer(name string) (Credential, error) {
	return s.ensureLeaf(name, x509.ExtKeyUsageServerAuth)
}

// EnsurePeer issues a client certificate for the named peer, signed by the CA.
func (s *Store) EnsurePeer(name string) (Credential, error) {
	return s.ensureLeaf(name, x509.ExtKeyUsageClientAuth)
}

func (s *Store) ensureLeaf(name string, usage x509.ExtKeyUsage) (Credential, error) {
	if err := validateName(name); err != nil {
		return Credential{}, err
	}
	cred := Credential{CertPath: s.CertPath(name), KeyPath: s.KeyPath(name)}
	switch err := s.checkPair(cred.CertPath, cred.KeyPath); {
	case err == nil:
		return cred, nil
	case !errors.Is(err, ErrNotProvisioned):
		return Credential{}, err
	}

	caCert, caKey, err := s.loadCA()
	if err != nil {
		return Credential{}, err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Credential{}, fmt.Errorf("generate key for %s: %w", name, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return Credential{}, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(0, 0, leafValidityDays),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return Credential{}, fmt.Errorf("issue certificate for %s: %w", name, err)
	}
	if err := s.writePair(cred.CertPath, cred.KeyPath, der, key); err != nil {
		return Credential{}, err
	}
	cred.Created = true
	return cred, nil
}

// EnsurePreAuthKey generates the shared tls-crypt key on first use. It
// reports whether the key was created by this call.
func (s *Store) EnsurePreAuthKey() (bool, error) {
	path := s.PreAuthKeyPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	secret := make([]byte, preAuthKeyBytes)
	if _, err := rand.Read(secret); err != nil {
		return false, fmt.Errorf("generate tls-crypt key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, encodeStaticKey(secret), 0600); err != nil {
		return false, err
	}
	return true, nil
}

// CACertPEM returns the CA certificate, or ErrNotProvisioned if EnsureCA has
// not run yet.
func (s *Store) CACertPEM() ([]byte, error) {
	return s.readPEM(s.CACertPath())
}

func (s *Store) CertPEM(name string) ([]byte, error) {
	return s.readPEM(s.CertPath(name))
}

func (s *Store) KeyPEM(name string) ([]byte, error) {
	return s.readPEM(s.KeyPath(name))
}

func (s *Store) PreAuthKey() ([]byte, error) {
	return s.readPEM(s.PreAuthKeyPath())
}

func (s *Store) readPEM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotProvisioned)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// checkPair reports nil when both halves of a credential exist and
// ErrNotProvisioned when neither does. A pair with only one half present is
// treated as a corrupt store rather than silently reissued, since a reissued
// certificate would orphan copies of the old one.
func (s *Store) checkPair(certPath, keyPath string) error {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	switch {
	case certErr == nil && keyErr == nil:
		return nil
	case os.IsNotExist(certErr) && os.IsNotExist(keyErr):
		return ErrNotProvisioned
	case certErr == nil && os.IsNotExist(keyErr):
		return fmt.Errorf("pki: %s exists but %s is missing", certPath, keyPath)
	case os.IsNotExist(certErr) && keyErr == nil:
		return fmt.Errorf("pki: %s exists but %s is missing", keyPath, certPath)
	case certErr != nil && !os.IsNotExist(certErr):
		return certErr
	default:
		return keyErr
	}
}

// writePair writes the key before the certificate so an interrupted run
// leaves a missing-key pair, which checkPair flags, instead of a cert that
// silently fails to load.
func (s *Store) writePair(certPath, keyPath string, certDER []byte, key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0755); err != nil {
		return err
	}
	keyPEM, err := encodeKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return err
	}
	return os.WriteFile(certPath, encodeCertPEM(certDER), 0644)
}

func (s *Store) loadCA() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certPEM, err := s.readPEM(s.CACertPath())
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("pki: %s is not a PEM certificate", s.CACertPath())
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA certificate: %w", err)
	}

	keyPEM, err := s.readPEM(s.CAKeyPath())
	if err != nil {
		return nil, nil, err
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, nil, fmt.Errorf("pki: %s is not a PEM EC private key", s.CAKeyPath())
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CA key: %w", err)
	}
	return cert, key, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return fmt.Errorf("pki: invalid credential name %q", name)
	}
	return nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func encodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func encodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// encodeStaticKey renders a 256-byte secret in the OpenVPN static key file
// format: 512 hex characters split into 16 lines between V1 markers.
func encodeStaticKey(secret []byte) []byte {
	hexed := hex.EncodeToString(secret)
	var b strings.Builder
	b.WriteString("-----BEGIN OpenVPN Static key V1-----\n")
	for i := 0; i < len(hexed); i += 32 {
		b.WriteString(hexed[i : i+32])
		b.WriteByte('\n')
	}
	b.WriteString("-----END OpenVPN Static key V1-----\n")
	return []byte(b.String())
}
