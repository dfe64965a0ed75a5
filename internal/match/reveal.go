package match

import (
	"context"
	"fmt"

	"github.com/triper/triper/internal/ledger"
	"github.com/triper/triper/internal/session"
	"github.com/triper/triper/internal/wallet"
	"github.com/triper/triper/pkg/payload"
)

// PublishReveal re-seals the caller's trip for the counterparty of a
// mutual match and publishes the envelope on the ledger. The original
// trip envelope is addressed to the compute cluster and useless to the
// counterparty; the reveal envelope is sealed with a fresh ephemeral key
// against the counterparty's wallet encryption key, so only they can
// open it. The ledger rejects the publication while the match is not
// Mutual.
func PublishReveal(ctx context.Context, client ledger.Client, matchID string, owner *wallet.Identity, trip *payload.Trip, peerEncryptionKey []byte) error {
	fields, err := payload.EncodeTrip(trip)
	if err != nil {
		return fmt.Errorf("encode trip for reveal: %w", err)
	}

	ephemeral, err := session.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate reveal key pair: %w", err)
	}
	defer ephemeral.Zero()

	sess, err := session.Open(ephemeral, peerEncryptionKey)
	if err != nil {
		return fmt.Errorf("open reveal session: %w", err)
	}
	defer sess.Close()

	nonce, err := session.NewNonce()
	if err != nil {
		return fmt.Errorf("generate reveal nonce: %w", err)
	}
	ciphertext, err := sess.Seal(fields, nonce)
	if err != nil {
		return fmt.Errorf("seal reveal envelope: %w", err)
	}

	envelope := &ledger.TripEnvelope{
		Ciphertext: ciphertext,
		PublicKey:  ephemeral.Public,
		Nonce:      nonce,
	}
	if err := client.PutRevealEnvelope(ctx, matchID, owner.Address, envelope); err != nil {
		return fmt.Errorf("publish reveal envelope: %w", err)
	}
	return nil
}

// Reveal fetches the counterparty's reveal envelope for a mutual match
// and decrypts it with the requester's wallet encryption key. The ledger
// enforces the mutual gate; score data alone never reaches this path.
func Reveal(ctx context.Context, client ledger.Client, matchID string, requester *wallet.Identity) (*payload.Trip, error) {
	envelope, err := client.RevealEnvelope(ctx, matchID, requester.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch reveal envelope: %w", err)
	}

	keys := &session.KeyPair{
		Private: requester.EncryptionPrivate,
		Public:  requester.EncryptionPublic,
	}
	sess, err := session.Open(keys, envelope.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("open reveal session: %w", err)
	}
	defer sess.Close()

	fields, err := sess.Unseal(envelope.Ciphertext, envelope.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decrypt revealed trip: %w", err)
	}

	trip, err := payload.DecodeTrip(fields)
	if err != nil {
		return nil, fmt.Errorf("decode revealed trip: %w", err)
	}
	return trip, nil
}
