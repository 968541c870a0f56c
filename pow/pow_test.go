package pow_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashgate/powreg/pow"
)

func TestCheckLeadingZeroNibbles(t *testing.T) {
	r := require.New(t)

	r.True(pow.CheckLeadingZeroNibbles([]byte{0x00}, 0))
	r.True(pow.CheckLeadingZeroNibbles([]byte{0x00}, 2))

	// Out of bounds
	r.False(pow.CheckLeadingZeroNibbles([]byte{0x00}, 3))

	r.True(pow.CheckLeadingZeroNibbles([]byte{0x0F}, 1))
	r.False(pow.CheckLeadingZeroNibbles([]byte{0x0F}, 2))

	r.True(pow.CheckLeadingZeroNibbles([]byte{0x00, 0x0F}, 3))
	r.False(pow.CheckLeadingZeroNibbles([]byte{0x00, 0x0F}, 4))
	r.False(pow.CheckLeadingZeroNibbles([]byte{0x00, 0xF0}, 3))
}

func TestFindNonceDifficultyZero(t *testing.T) {
	t.Parallel()

	sol, err := pow.FindNonce("any token at all", 0, pow.DefaultMaxAttempts)
	require.NoError(t, err)
	require.Equal(t, "0", sol.Nonce)

	digest := sha256.Sum256([]byte("any token at all0"))
	require.Equal(t, hex.EncodeToString(digest[:]), sol.Digest)
}

func TestFindNonceSatisfiesDifficulty(t *testing.T) {
	t.Parallel()

	tokens := []string{"", "abc", "integration", "challenge this"}
	for difficulty := uint(0); difficulty <= 4; difficulty++ {
		difficulty := difficulty
		t.Run(fmt.Sprintf("difficulty=%d", difficulty), func(t *testing.T) {
			t.Parallel()
			for _, token := range tokens {
				sol, err := pow.FindNonce(token, difficulty, pow.DefaultMaxAttempts)
				require.NoError(t, err)

				require.Len(t, sol.Digest, sha256.Size*2)
				require.Equal(t, strings.Repeat("0", int(difficulty)), sol.Digest[:difficulty])

				digest := sha256.Sum256([]byte(token + sol.Nonce))
				require.Equal(t, hex.EncodeToString(digest[:]), sol.Digest)

				require.NoError(t, pow.Verify(token, difficulty, sol))
			}
		})
	}
}

func TestFindNonceDeterministic(t *testing.T) {
	t.Parallel()

	first, err := pow.FindNonce("determinism", 2, pow.DefaultMaxAttempts)
	require.NoError(t, err)
	second, err := pow.FindNonce("determinism", 2, pow.DefaultMaxAttempts)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFindNonceExhausted(t *testing.T) {
	t.Parallel()

	// A zero bound tries nothing, not even the difficulty-0 fast path.
	_, err := pow.FindNonce("token", 0, 0)
	require.ErrorIs(t, err, pow.ErrExhausted)

	// More leading zero digits than the digest has can never be satisfied.
	_, err = pow.FindNonce("token", sha256.Size*2+1, 1000)
	require.ErrorIs(t, err, pow.ErrExhausted)

	// A bound at the minimal satisfying nonce stops just short of it.
	sol, err := pow.FindNonce("exhaust me", 2, pow.DefaultMaxAttempts)
	require.NoError(t, err)
	minimal, err := strconv.ParseUint(sol.Nonce, 10, 64)
	require.NoError(t, err)
	if minimal > 0 {
		_, err = pow.FindNonce("exhaust me", 2, minimal)
		require.ErrorIs(t, err, pow.ErrExhausted)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()

	sol, err := pow.FindNonce("tamper", 1, pow.DefaultMaxAttempts)
	require.NoError(t, err)
	require.NoError(t, pow.Verify("tamper", 1, sol))

	bad := sol
	bad.Nonce = sol.Nonce + "1"
	require.Error(t, pow.Verify("tamper", 1, bad))

	bad = sol
	bad.Digest = strings.Repeat("0", sha256.Size*2)
	require.Error(t, pow.Verify("tamper", 1, bad))

	require.Error(t, pow.Verify("different token", 1, sol))
}

func BenchmarkFindNonce(b *testing.B) {
	for difficulty := uint(3); difficulty <= 4; difficulty++ {
		b.Run(fmt.Sprintf("difficulty=%v", difficulty), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, err := pow.FindNonce(strconv.Itoa(i), difficulty, pow.DefaultMaxAttempts)
				require.NoError(b, err)
			}
		})
	}
}
