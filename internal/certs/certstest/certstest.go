// Package certstest provides an in-process identity provider for tests: RSA
// signing keys with self-signed certificates, an httptest endpoint serving
// the certificate document, and token minting.
package certstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Key is a signing key and its certificate.
type Key struct {
	ID      string
	Private *rsa.PrivateKey
	CertPEM string
}

// NewKey generates an RSA key and a self-signed certificate for it.
func NewKey(tb testing.TB, kid string) *Key {
	tb.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate RSA key: %v", err)
	}

	return &Key{
		ID:      kid,
		Private: priv,
		CertPEM: selfSigned(tb, kid, &priv.PublicKey, priv),
	}
}

// ECDSACertificatePEM returns a valid certificate whose key is not RSA.
func ECDSACertificatePEM(tb testing.TB) string {
	tb.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generate ECDSA key: %v", err)
	}
	return selfSigned(tb, "ecdsa", &priv.PublicKey, priv)
}

func selfSigned(tb testing.TB, cn string, pub, priv any) string {
	tb.Helper()

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		tb.Fatalf("create certificate: %v", err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// Sign returns an RS256 token carrying claims and this key's kid header.
func (k *Key) Sign(tb testing.TB, claims jwt.Claims) string {
	tb.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.ID

	signed, err := tok.SignedString(k.Private)
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return signed
}

// Token returns an RS256 token for uid expiring at exp.
func (k *Key) Token(tb testing.TB, uid string, exp time.Time) string {
	tb.Helper()

	return k.Sign(tb, jwt.MapClaims{
		"issuer_uid": uid,
		"exp":        exp.Unix(),
	})
}

// Document renders keys as a provider certificate document.
func Document(tb testing.TB, keys ...*Key) []byte {
	tb.Helper()

	doc := make(map[string]string, len(keys))
	for _, k := range keys {
		doc[k.ID] = k.CertPEM
	}

	body, err := json.Marshal(doc)
	if err != nil {
		tb.Fatalf("marshal document: %v", err)
	}
	return body
}

// Server serves a certificate document and counts requests.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	body     []byte
	status   int
	requests atomic.Int64
}

// NewServer starts a server publishing keys. It is closed with the test.
func NewServer(tb testing.TB, keys ...*Key) *Server {
	tb.Helper()

	s := &Server{
		body:   Document(tb, keys...),
		status: http.StatusOK,
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.requests.Add(1)

		s.mu.Lock()
		status, body := s.status, s.body
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	tb.Cleanup(s.Close)

	return s
}

// SetBody replaces the served body.
func (s *Server) SetBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

// SetStatus replaces the served status code.
func (s *Server) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Requests returns the number of requests served so far.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}
