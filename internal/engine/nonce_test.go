package engine

import "testing"

func TestBattleNonceVectors(t *testing.T) {
	tests := []struct {
		name        string
		playerID    string
		round       int
		playerIndex int
		battleID    string
		tieAttempt  int
		want        uint64
	}{
		{"first player first round", "p1", 1, 0, "b-42", 0, 1204466185760326},
		{"second player same round", "p2", 1, 1, "b-42", 0, 3080767908633469},
		{"tie attempt changes nonce", "p1", 1, 0, "b-42", 1, 2024056505372045},
		{"later round", "player-a", 3, 0, "6f1aee", 0, 1260440087933039},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BattleNonce(tt.playerID, tt.round, tt.playerIndex, tt.battleID, tt.tieAttempt)
			if got != tt.want {
				t.Errorf("BattleNonce = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBattleNonce52BitBound(t *testing.T) {
	const maxSafe = uint64(1) << 52

	inputs := []struct {
		playerID   string
		round, idx int
		battleID   string
		attempt    int
	}{
		{"p1", 1, 0, "b", 0},
		{"p2", 2, 1, "battle-long-identifier", 3},
		{"ffffffffffff", 99, 5, "x", 10},
	}
	for _, in := range inputs {
		n := BattleNonce(in.playerID, in.round, in.idx, in.battleID, in.attempt)
		if n >= maxSafe {
			t.Errorf("BattleNonce(%+v) = %d, exceeds 52-bit bound", in, n)
		}
	}
}

// Two players never share a nonce within a round, and the same player
// never repeats a nonce across rounds or re-roll attempts.
func TestBattleNonceUniqueness(t *testing.T) {
	seen := make(map[uint64]string)
	players := []string{"p1", "p2", "p3", "p4"}

	for round := 1; round <= 5; round++ {
		for idx, p := range players {
			for attempt := 0; attempt < 3; attempt++ {
				n := BattleNonce(p, round, idx, "battle-uniq", attempt)
				if prev, dup := seen[n]; dup {
					t.Fatalf("nonce collision: %d for %s/r%d/a%d and %s", n, p, round, attempt, prev)
				}
				seen[n] = p
			}
		}
	}
}
