package karma

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// LeaderboardSecret derives the per-actor key for leaderboardall. It rotates every minute.
// The month is zero-based: January is 0.
func LeaderboardSecret(actorID string, at time.Time) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s%d%d%d%d%d",
		actorID, at.Hour(), at.Minute(), at.Year(), int(at.Month())-1, at.Day())))
	return hex.EncodeToString(sum[:])
}

// ValidLeaderboardSecret accepts the key for the current or previous minute.
func ValidLeaderboardSecret(actorID, secret string, now time.Time) bool {
	if secret == "" {
		return false
	}
	for _, at := range []time.Time{now, now.Add(-time.Minute)} {
		want := LeaderboardSecret(actorID, at)
		if subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}
