// internal/domain/auth/signer.go
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"auth-flow-server/pkg/errors"
)

// compressed public key prefix for an even y coordinate
const evenKeyPrefix = 0x02

// PresentedSigner is a KeySigner for a key identity whose holder signed the
// flow's challenge in their own signer. Signature is a hex Schnorr signature
// over sha256(Challenge) made with the even-y key whose x coordinate is KeyID.
type PresentedSigner struct {
	KeyID         string `json:"keyId" validate:"required,keyid"`
	SessionHandle string `json:"sessionHandle" validate:"required"`
	Signature     string `json:"signature" validate:"required"`
	Challenge     string `json:"-"`
}

func (p PresentedSigner) Authenticate(ctx context.Context) (KeySession, error) {
	if err := ctx.Err(); err != nil {
		return KeySession{}, errors.FromContext("key identity signer", err)
	}
	if p.KeyID == "" || p.SessionHandle == "" || p.Signature == "" {
		return KeySession{}, errors.NewUserRejectedError("")
	}
	id, err := ParseKeyID(p.KeyID)
	if err != nil {
		return KeySession{}, err
	}
	if err := VerifyChallenge(id, p.Challenge, p.Signature); err != nil {
		return KeySession{}, err
	}
	return KeySession{KeyID: id, SessionHandle: p.SessionHandle}, nil
}

// VerifyChallenge checks that signature was made by keyID over challenge.
func VerifyChallenge(keyID KeyID, challenge, signature string) error {
	if challenge == "" {
		return errors.NewAuthenticationError("No sign-in challenge was issued for this flow.")
	}
	invalid := errors.NewAuthenticationError("The key identity signature could not be verified.")

	raw, err := hex.DecodeString(signature)
	if err != nil {
		return invalid
	}
	sig, err := schnorr.ParseSignature(raw)
	if err != nil {
		return invalid
	}
	x, err := hex.DecodeString(string(keyID))
	if err != nil {
		return invalid
	}
	pub, err := secp256k1.ParsePubKey(append([]byte{evenKeyPrefix}, x...))
	if err != nil {
		return invalid
	}
	hash := sha256.Sum256([]byte(challenge))
	if !sig.Verify(hash[:], pub) {
		return invalid
	}
	return nil
}
