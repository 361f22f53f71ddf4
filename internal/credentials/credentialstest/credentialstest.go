// Package credentialstest builds throwaway service-account credentials for
// tests.
package credentialstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/KodeKenobi/nusuru-admin/internal/credentials"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
)

// Key returns a process-wide 2048-bit RSA key.
func Key(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()
	keyOnce.Do(func() {
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		tb.Fatalf("generate RSA key: %v", keyErr)
	}
	return key
}

// PEM encodes k as a PKCS8 "PRIVATE KEY" block.
func PEM(tb testing.TB, k any) string {
	tb.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		tb.Fatalf("marshal PKCS8: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// New returns a valid credential backed by Key.
func New(tb testing.TB) credentials.ServiceAccountCredential {
	tb.Helper()
	return credentials.ServiceAccountCredential{
		ProjectID:     "nusuru-test",
		ClientEmail:   "push@nusuru-test.iam.gserviceaccount.com",
		PrivateKeyID:  "key-1",
		PrivateKeyPEM: PEM(tb, Key(tb)),
	}
}
