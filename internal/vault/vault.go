// Package vault seals platform access tokens with AWS KMS. Ciphertext is
// base64 text so it can sit in a ledger string attribute; plaintext only
// exists in memory for the duration of a stage invocation.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

var (
	// ErrEmptyPlaintext is returned when asked to seal an empty token.
	ErrEmptyPlaintext = errors.New("vault: empty token")
	// ErrMalformedCiphertext is returned for ciphertext that is not base64.
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")
)

// encryptionContext binds ciphertexts to this application. KMS refuses to
// decrypt when the context does not match.
var encryptionContext = map[string]string{"app": "media-publisher"}

// KMSAPI is the subset of the KMS client the vault uses.
type KMSAPI interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Cipher is what callers depend on; *Vault implements it.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// Vault encrypts under a single KMS key.
type Vault struct {
	client KMSAPI
	keyID  string
}

var _ Cipher = (*Vault)(nil)

// New returns a Vault for keyID (key id, ARN or alias).
func New(client KMSAPI, keyID string) *Vault {
	return &Vault{client: client, keyID: keyID}
}

// Encrypt seals plaintext and returns base64 ciphertext. Errors never
// include the plaintext.
func (v *Vault) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}
	out, err := v.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             &v.keyID,
		Plaintext:         []byte(plaintext),
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt key=%s: %w", v.keyID, err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt.
func (v *Vault) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(blob) == 0 {
		return "", ErrMalformedCiphertext
	}
	out, err := v.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    blob,
		EncryptionContext: encryptionContext,
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(out.Plaintext), nil
}
