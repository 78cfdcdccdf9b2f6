package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// BattleNonce derives the deterministic nonce used for one player's roll
// in one battle round. The composite message guarantees uniqueness across
// players, rounds, and tie re-roll attempts within the same battle.
//
// The nonce is the first 13 hex characters (52 bits) of the SHA-256 of
// "playerID:round:playerIndex:battleID:tieAttempt". 52 bits keeps the
// value exactly representable as a float64 integer, so JavaScript-side
// verifiers reproduce it without precision loss.
func BattleNonce(playerID string, round, playerIndex int, battleID string, tieAttempt int) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s:%d", playerID, round, playerIndex, battleID, tieAttempt)))
	h := hex.EncodeToString(sum[:])
	v, err := strconv.ParseUint(h[:13], 16, 64)
	if err != nil {
		panic("engine: malformed battle nonce hash")
	}
	return v
}
