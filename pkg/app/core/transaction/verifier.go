package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/landmarket/pkg/app/core/errs"
	"github.com/uhyunpark/landmarket/pkg/crypto"
)

// Verifier recovers the caller of a signed transaction
type Verifier struct {
	typed *crypto.TypedSigner
}

func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{typed: crypto.NewTypedSigner(domain)}
}

func (v *Verifier) TypedSigner() *crypto.TypedSigner { return v.typed }

// Verify returns the address that signed tx. The recovered address must equal
// tx.From.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	td, err := tx.TypedData(v.typed)
	if err != nil {
		return common.Address{}, err
	}

	signer, err := v.typed.Recover(td, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%v: %w", err, errs.ErrInvalidSignature)
	}
	if signer != tx.FromAddress() {
		return common.Address{}, fmt.Errorf("signed by %s, claimed %s: %w", signer.Hex(), tx.FromAddress().Hex(), errs.ErrInvalidSignature)
	}
	return signer, nil
}

// Sign fills in From and Signature for tx using s
func (v *Verifier) Sign(s *crypto.Signer, tx *SignedTransaction) error {
	tx.From = s.Address().Hex()
	td, err := tx.TypedData(v.typed)
	if err != nil {
		return err
	}
	sig, err := v.typed.Sign(s, td)
	if err != nil {
		return fmt.Errorf("failed to sign %s: %w", tx.Type, err)
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", errs.ErrInvalidSignature)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d: %w", len(b), errs.ErrInvalidSignature)
	}
	return b, nil
}
