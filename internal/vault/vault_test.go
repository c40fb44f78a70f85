package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS "seals" by reversing and prefixing the plaintext, enough to check
// the round trip without a real key.
type fakeKMS struct {
	encryptErr error
	lastKey    string
	lastCtx    map[string]string
}

func (k *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if k.encryptErr != nil {
		return nil, k.encryptErr
	}
	k.lastKey = *in.KeyId
	k.lastCtx = in.EncryptionContext
	blob := append([]byte("sealed:"), reverse(in.Plaintext)...)
	return &kms.EncryptOutput{CiphertextBlob: blob}, nil
}

func (k *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	body, ok := bytes.CutPrefix(in.CiphertextBlob, []byte("sealed:"))
	if !ok {
		return nil, errors.New("InvalidCiphertextException")
	}
	return &kms.DecryptOutput{Plaintext: reverse(body)}, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	k := &fakeKMS{}
	v := New(k, "alias/publisher")

	sealed, err := v.Encrypt(context.Background(), "EAAG-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "EAAG-token")
	assert.Equal(t, "alias/publisher", k.lastKey)
	assert.Equal(t, "media-publisher", k.lastCtx["app"])

	plain, err := v.Decrypt(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "EAAG-token", plain)
}

func TestEncrypt_Empty(t *testing.T) {
	_, err := New(&fakeKMS{}, "k").Encrypt(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPlaintext)
}

func TestEncrypt_ErrorOmitsPlaintext(t *testing.T) {
	_, err := New(&fakeKMS{encryptErr: errors.New("AccessDenied")}, "k").Encrypt(context.Background(), "secret-token")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestDecrypt_Malformed(t *testing.T) {
	v := New(&fakeKMS{}, "k")
	_, err := v.Decrypt(context.Background(), "%%%")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
	_, err = v.Decrypt(context.Background(), "")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}
