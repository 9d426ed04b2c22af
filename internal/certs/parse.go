package certs

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"
)

// ParseDocument converts a provider document ({"kid": "<PEM certificate>", ...})
// into a Set expiring at expiresAt. One bad entry rejects the whole document.
func ParseDocument(body []byte, expiresAt time.Time) (Set, error) {
	var document map[string]string
	if err := json.Unmarshal(body, &document); err != nil {
		return Set{}, &FetchError{Op: "decode", Cause: fmt.Errorf("%w: %w", ErrMalformedDocument, err)}
	}
	if len(document) == 0 {
		return Set{}, &FetchError{Op: "decode", Cause: fmt.Errorf("%w: no certificates", ErrMalformedDocument)}
	}

	keys := make(map[string]*VerificationKey, len(document))
	for kid, certPEM := range document {
		if kid == "" {
			return Set{}, &FetchError{Op: "decode", Cause: fmt.Errorf("%w: empty key id", ErrMalformedDocument)}
		}

		key, err := ParseCertificatePEM(kid, []byte(certPEM))
		if err != nil {
			return Set{}, &FetchError{Op: "parse", KeyID: kid, Cause: err}
		}
		keys[kid] = key
	}

	return Set{Keys: keys, ExpiresAt: expiresAt}, nil
}

// ParseCertificatePEM extracts the RSA public key from a PEM encoded X.509
// certificate.
func ParseCertificatePEM(kid string, data []byte) (*VerificationKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidCertificate)
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidCertificate, block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotRSAKey, cert.PublicKey)
	}

	return &VerificationKey{
		KeyID:     kid,
		PublicKey: pub,
		NotAfter:  cert.NotAfter,
	}, nil
}
