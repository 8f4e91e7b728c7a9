package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ES256 client assertions authenticate this service to an upstream provider
// (Apple's token endpoint requires one in place of a client secret). They
// share the dot-segment shape of session tokens but sign with an asymmetric
// provider-registered key instead of the shared HMAC secret.

// SignES256 serializes payload as a JWT signed with ECDSA P-256 / SHA-256.
// kid is placed in the header as the provider-supplied key identifier.
func SignES256(payload map[string]any, key *ecdsa.PrivateKey, kid string) (string, error) {
	if key == nil {
		return "", fmt.Errorf("token: nil signing key")
	}
	if key.Curve != elliptic.P256() {
		return "", fmt.Errorf("token: ES256 requires a P-256 key")
	}
	header := map[string]string{"alg": "ES256", "typ": "JWT", "kid": kid}
	hb, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	data := b64(hb) + "." + b64(pb)

	sum := sha256.Sum256([]byte(data))
	r, s, err := ecdsa.Sign(rand.Reader, key, sum[:])
	if err != nil {
		return "", fmt.Errorf("token: ES256 sign: %w", err)
	}

	// JOSE wants the raw r||s concatenation, each padded to the curve size,
	// not the DER encoding crypto/ecdsa would produce via SignASN1.
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return data + "." + b64(sig), nil
}

var pemArmor = regexp.MustCompile(`-----(BEGIN|END)[A-Z ]*-----`)

// ParseECPrivateKey decodes a P-256 private key from PEM, tolerating keys
// whose newlines were lost when pasted into a secrets dashboard. Accepts
// both PKCS#8 and SEC 1 encodings.
func ParseECPrivateKey(pemText string) (*ecdsa.PrivateKey, error) {
	body := pemArmor.ReplaceAllString(pemText, "")
	body = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, body)
	if body == "" {
		return nil, fmt.Errorf("token: empty private key")
	}
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("token: private key is not valid base64: %w", err)
	}

	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("token: PKCS#8 key is not ECDSA")
		}
		return ec, nil
	}
	ec, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("token: cannot parse EC private key: %w", err)
	}
	return ec, nil
}
