package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
)

// MaxShards is the largest supported N for a split (GF(256) index space).
const MaxShards = 255

// Split splits a secret into totalShards fragments of which any threshold
// reconstruct it exactly. A SHA-256 commitment to the secret is sharded
// along with it so that a sub-threshold combination, which Shamir's scheme
// silently resolves to garbage, is rejected on recovery instead of being
// returned as a wrong secret.
func Split(secret []byte, totalShards, threshold int) ([][]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	if threshold > totalShards {
		return nil, fmt.Errorf("threshold %d exceeds total shards %d", threshold, totalShards)
	}
	if totalShards > MaxShards {
		return nil, fmt.Errorf("total shards must be at most %d, got %d", MaxShards, totalShards)
	}

	digest := sha256.Sum256(secret)
	payload := append(digest[:], secret...)

	shards, err := shamir.Split(payload, totalShards, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shards, nil
}

// Recover reconstructs the secret from a set of shards. It fails with the
// insufficient-shards error when fewer than the split threshold are
// presented; the check is structural (commitment verification), not a
// stored counter.
func Recover(shards [][]byte) ([]byte, error) {
	if len(shards) < 2 {
		return nil, apperrors.ErrInsufficientShards
	}
	for i, shard := range shards {
		if len(shard) == 0 {
			return nil, fmt.Errorf("shard %d is empty", i)
		}
	}

	payload, err := shamir.Combine(shards)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shards: %w", err)
	}
	if len(payload) <= sha256.Size {
		return nil, apperrors.ErrInsufficientShards
	}

	secret := payload[sha256.Size:]
	digest := sha256.Sum256(secret)
	if !hmac.Equal(digest[:], payload[:sha256.Size]) {
		// Commitment mismatch: below-threshold or corrupted shard set.
		return nil, apperrors.ErrInsufficientShards
	}

	return secret, nil
}
