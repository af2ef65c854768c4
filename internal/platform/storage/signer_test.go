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
	"os"
	"path/filepath"
	"testing"
)

func serviceAccountJSON(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	data, err := json.Marshal(map[string]string{
		"client_email": "ledger-signer@example.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
	})
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return data, key
}

func TestServiceAccountSignerInlineAndFile(t *testing.T) {
	data, key := serviceAccountJSON(t)

	inline, err := NewServiceAccountSigner(string(data))
	if err != nil {
		t.Fatalf("inline signer: %v", err)
	}
	if inline.Email() != "ledger-signer@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", inline.Email())
	}

	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	fromFile, err := NewServiceAccountSigner(path)
	if err != nil {
		t.Fatalf("file signer: %v", err)
	}

	payload := []byte("GOOG4-RSA-SHA256\npayload")
	sig, err := fromFile.SignBytes(context.Background(), payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestServiceAccountSignerBase64(t *testing.T) {
	data, _ := serviceAccountJSON(t)

	signer, err := NewServiceAccountSigner(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		t.Fatalf("base64 signer: %v", err)
	}
	if signer.Email() != "ledger-signer@example.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}
}

func TestServiceAccountSignerRejectsIncompleteJSON(t *testing.T) {
	if _, err := NewServiceAccountSigner(`{"client_email":"x@example.com"}`); err == nil {
		t.Fatal("expected error for missing private key")
	}
}

func TestServiceAccountSignerRejectsEmptyCredentials(t *testing.T) {
	if _, err := NewServiceAccountSigner("  "); err == nil {
		t.Fatal("expected error for empty credentials")
	}
	if _, err := NewServiceAccountSigner(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing key file")
	}
}
