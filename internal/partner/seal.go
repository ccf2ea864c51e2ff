package partner

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrSeal is the error class for sealing failures.
var ErrSeal = errs.Class("partner seal")

const sealedPrefix = "sb1:"

// Sealer encrypts partner secrets at rest with a local key.
type Sealer struct {
	key [32]byte
}

// NewSealer returns a sealer using key.
func NewSealer(key [32]byte) *Sealer { return &Sealer{key: key} }

// LoadSealer reads a hex encoded key from path, generating and persisting one
// with mode 0600 when the file does not exist.
func LoadSealer(path string) (*Sealer, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(raw) != 32 {
			return nil, ErrSeal.New("key file %s: want 64 hex characters", path)
		}
		var key [32]byte
		copy(key[:], raw)
		return NewSealer(key), nil
	case os.IsNotExist(err):
	default:
		return nil, ErrSeal.Wrap(err)
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, ErrSeal.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, ErrSeal.Wrap(err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key[:])+"\n"), 0o600); err != nil {
		return nil, ErrSeal.Wrap(err)
	}
	return NewSealer(key), nil
}

// Seal encrypts plaintext under a random nonce. The nonce is stored in front of
// the box.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", ErrSeal.Wrap(err)
	}
	out := make([]byte, len(nonce), len(nonce)+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	out = secretbox.Seal(out, []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned unchanged so
// records written before sealing keep working.
func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", ErrSeal.Wrap(err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", ErrSeal.New("sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", ErrSeal.New("unable to decrypt")
	}
	return string(plain), nil
}
