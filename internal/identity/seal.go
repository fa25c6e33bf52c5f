package identity

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion   = 1
	saltSize      = 16
	kdfTime       = 2
	kdfMemoryKB   = 64 * 1024
	kdfThreads    = 1
	sealHeaderLen = 1 + saltSize + chacha20poly1305.NonceSizeX
)

var (
	// ErrSealAuthFailed reports a wrong passphrase or tampered envelope.
	ErrSealAuthFailed = errors.New("sealed identity authentication failed")
	// ErrSealInvalid reports an envelope that cannot be parsed.
	ErrSealInvalid = errors.New("sealed identity is invalid")
)

// Seal encrypts an identity seed under passphrase as
// version | salt | nonce | ciphertext.
func Seal(seed []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("seal passphrase is required")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveSealKey(passphrase, salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(sealVersion)
	buf.Write(salt)
	buf.Write(nonce)
	header := bytes.Clone(buf.Bytes())
	buf.Write(aead.Seal(nil, nonce, seed, header))
	return buf.Bytes(), nil
}

// Open reverses Seal.
func Open(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) <= sealHeaderLen || sealed[0] != sealVersion {
		return nil, ErrSealInvalid
	}
	salt := sealed[1 : 1+saltSize]
	nonce := sealed[1+saltSize : sealHeaderLen]
	key := deriveSealKey(passphrase, salt)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	seed, err := aead.Open(nil, nonce, sealed[sealHeaderLen:], sealed[:sealHeaderLen])
	if err != nil {
		return nil, ErrSealAuthFailed
	}
	return seed, nil
}

func deriveSealKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
}
