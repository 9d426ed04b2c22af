package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vyrodovalexey/tokengate/internal/certs"
)

// AlgorithmRS256 is the only accepted signing algorithm.
const AlgorithmRS256 = "RS256"

var errMissingKid = errors.New("missing kid header")

// Claims is the verified token payload.
type Claims struct {
	IssuerUID string `json:"issuer_uid"`
	jwt.RegisteredClaims
}

// header is the part of the JOSE header needed before verification.
type header struct {
	Kid string `json:"kid"`
}

// Validator checks tokens against a set of verification keys. It holds no
// per-call state and is safe for concurrent use.
type Validator struct {
	parser *jwt.Parser
}

// NewValidator creates a Validator that accepts RS256 only. Expiry is checked
// by Validate itself against the caller supplied time.
func NewValidator() *Validator {
	return &Validator{
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{AlgorithmRS256}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Validate verifies raw with keys as of now and returns the caller identity
// (the issuer_uid claim). Checks run in order and stop at the first failure:
// header, key lookup, signature and payload, expiry, identity.
func (v *Validator) Validate(raw string, keys map[string]*certs.VerificationKey, now time.Time) (string, error) {
	if !printable(raw) {
		return "", NewMalformedError(DetailString, errors.New("token contains non-printable characters"))
	}

	hdr, err := v.parseHeader(raw)
	switch {
	case errors.Is(err, errMissingKid):
		return "", NewMalformedError(DetailMissingKID, err)
	case err != nil:
		return "", NewMalformedError(DetailHeader, err)
	}

	key, ok := keys[hdr.Kid]
	if !ok || key == nil || key.PublicKey == nil {
		return "", NewAuthError(ReasonUnknownKey, fmt.Errorf("kid %q", hdr.Kid))
	}

	var claims Claims
	_, err = v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return key.PublicKey, nil
	})
	if err != nil {
		return "", NewAuthError(ReasonInvalidSignature, err)
	}
	if claims.ExpiresAt == nil {
		return "", NewAuthError(ReasonInvalidSignature, errors.New("missing exp claim"))
	}

	if now.After(claims.ExpiresAt.Time) {
		return "", NewAuthError(ReasonExpired, fmt.Errorf("expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339)))
	}

	if claims.IssuerUID == "" {
		return "", NewAuthError(ReasonEmptyIdentity, nil)
	}

	return claims.IssuerUID, nil
}

// parseHeader decodes the header segment only; the payload is not touched
// until the signature has been checked.
func (v *Validator) parseHeader(raw string) (header, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return header{}, fmt.Errorf("token has %d segments", len(parts))
	}

	data, err := v.parser.DecodeSegment(parts[0])
	if err != nil {
		return header{}, fmt.Errorf("decode header: %w", err)
	}

	var hdr header
	if err := json.Unmarshal(data, &hdr); err != nil {
		return header{}, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Kid == "" {
		return header{}, errMissingKid
	}

	return hdr, nil
}

// printable reports whether s holds only visible ASCII, space and tab.
func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\t' && (c < 0x20 || c > 0x7E) {
			return false
		}
	}
	return true
}
