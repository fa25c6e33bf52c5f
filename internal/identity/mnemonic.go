package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/louisbranch/ledgerlink/internal/platform/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "ledgerlink/identity/signing/v1"

// NewMnemonic returns a fresh 24-word recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// MnemonicAuthenticator derives the identity from a BIP-39 recovery phrase.
// Index selects one of several identities under the same phrase.
type MnemonicAuthenticator struct {
	Mnemonic   string
	Passphrase string
	Index      uint32
}

// Authenticate implements Authenticator.
func (a MnemonicAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mnemonic := strings.Join(strings.Fields(a.Mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, apperrors.New(apperrors.CodeValidation, "invalid recovery phrase")
	}
	seed, err := deriveSigningSeed(bip39.NewSeed(mnemonic, a.Passphrase), a.Index)
	if err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

func deriveSigningSeed(master []byte, index uint32) ([]byte, error) {
	info := fmt.Sprintf("%s/%d", hkdfInfoSigning, index)
	reader := hkdf.New(sha256.New, master, nil, []byte(info))
	out := make([]byte, SeedSize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("derive signing seed: %w", err)
	}
	return out, nil
}
