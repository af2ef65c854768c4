package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs the canonical request of a V4 signed URL.
type Signer interface {
	// Email is the GoogleAccessID placed in the URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with a service account's RSA key held in process.
type ServiceAccountSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewServiceAccountSigner loads a service account key from credentials, which is one of: the key
// JSON itself, the key JSON encoded as standard base64 (as Secret Manager values often are), or a
// path to the key file.
func NewServiceAccountSigner(credentials string) (*ServiceAccountSigner, error) {
	raw := strings.TrimSpace(credentials)
	if raw == "" {
		return nil, errors.New("storage: signing credentials are empty")
	}

	var data []byte
	switch {
	case strings.HasPrefix(raw, "{"):
		data = []byte(raw)
	case looksBase64(raw):
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: decode signing credentials: %w", err)
		}
		data = decoded
	default:
		contents, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: read signing credentials: %w", err)
		}
		data = contents
	}
	return parseServiceAccount(data)
}

func parseServiceAccount(data []byte) (*ServiceAccountSigner, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: signing credentials are not service account json: %w", err)
	}
	email := strings.TrimSpace(doc.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: signing credentials lack client_email")
	}

	block, _ := pem.Decode([]byte(strings.TrimSpace(doc.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: signing credentials lack a PEM private_key")
	}
	var key *rsa.PrivateKey
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: signing key is not RSA")
		}
		key = rsaKey
	} else if key, err = x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("storage: parse signing key: %w", err)
	}
	return &ServiceAccountSigner{email: email, key: key}, nil
}

// looksBase64 tells encoded key material apart from a file path.
func looksBase64(s string) bool {
	if len(s) < 64 || len(s)%4 != 0 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '+' || r == '/' || r == '=':
			return false
		}
		return true
	}) < 0 && !strings.HasPrefix(s, "/")
}

// Email returns the service account email.
func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes returns the RSASSA-PKCS1-v1_5 SHA-256 signature of payload.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: nothing to sign")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign: %w", err)
	}
	return sig, nil
}
