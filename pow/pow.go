package pow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"

	"github.com/minio/sha256-simd"
)

// DefaultMaxAttempts bounds the nonce search so that an unsatisfiable
// challenge terminates instead of spinning forever.
const DefaultMaxAttempts = 10_000_000

var ErrExhausted = errors.New("puzzle search exhausted")

// Solution is a nonce satisfying a challenge together with its digest.
// Digest is the lowercase hex SHA-256 of token + Nonce and carries at least
// the challenge's difficulty in leading '0' characters.
type Solution struct {
	Nonce  string
	Digest string
}

// FindNonce searches for the lowest nonce whose digest satisfies the
// difficulty. Nonces are tried in increasing order starting at zero, so the
// result is deterministic for a given (token, difficulty, bound) triple.
// Exceeding the bound is fatal for this challenge: retrying the same token
// would repeat the same failed search.
func FindNonce(token string, difficulty uint, bound uint64) (Solution, error) {
	var digest []byte
	p := newHasher(token)

	for nonce := uint64(0); nonce < bound; nonce++ {
		digest = p.Hash(nonce, digest[:0])

		if CheckLeadingZeroNibbles(digest, difficulty) {
			return Solution{
				Nonce:  strconv.FormatUint(nonce, 10),
				Digest: hex.EncodeToString(digest),
			}, nil
		}
	}
	return Solution{}, fmt.Errorf("%w: no nonce below %d satisfies difficulty %d", ErrExhausted, bound, difficulty)
}

// Verify recomputes the digest of token + solution nonce and checks it
// against the solution and the difficulty.
func Verify(token string, difficulty uint, sol Solution) error {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte(sol.Nonce))
	digest := h.Sum(nil)

	if hex.EncodeToString(digest) != sol.Digest {
		return errors.New("digest does not match token and nonce")
	}
	if !CheckLeadingZeroNibbles(digest, difficulty) {
		return fmt.Errorf("digest has fewer than %d leading zero hex digits", difficulty)
	}
	return nil
}

type hasher struct {
	h     hash.Hash
	input []byte
	// input[:prefix] is the challenge token; the decimal nonce is appended
	// after it on every iteration.
	prefix int
}

func newHasher(token string) *hasher {
	return &hasher{h: sha256.New(), input: []byte(token), prefix: len(token)}
}

func (p *hasher) Hash(nonce uint64, output []byte) []byte {
	p.input = strconv.AppendUint(p.input[:p.prefix], nonce, 10)

	p.h.Reset()
	p.h.Write(p.input)
	return p.h.Sum(output)
}

// CheckLeadingZeroNibbles checks if the first 'expected' hex digits of the
// digest are all zero.
func CheckLeadingZeroNibbles(data []byte, expected uint) bool {
	if uint(len(data))*2 < expected {
		return false
	}
	for i := uint(0); i < expected/2; i++ {
		if data[i] != 0 {
			return false
		}
	}
	if expected%2 != 0 {
		if data[expected/2]>>4 != 0 {
			return false
		}
	}

	return true
}
