package recommend

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gamedex/gamedex-server/internal/types"
)

// Fingerprints key the response caches and the coalescer. Two logically
// equivalent requests must map to the same fingerprint; distinct requests
// must not collide, so the hashed variants use sha256 over a canonical
// sorted encoding.

func suggestFingerprint(query string, count int) string {
	return "suggest|" + strings.ToLower(strings.TrimSpace(query)) + "|" + strconv.Itoa(count)
}

func libraryFingerprint(games []types.OwnedGame, count int, exclude []string) string {
	ex := append([]string(nil), exclude...)
	for i, e := range ex {
		ex[i] = strings.ToLower(strings.TrimSpace(e))
	}
	sort.Strings(ex)
	return "library|" + hashGames(games, append(ex, strconv.Itoa(count))...)
}

func profileFingerprint(games []types.OwnedGame) string {
	return "profile|" + hashGames(games)
}

// hashGames produces a hex digest over the sorted {id,status,rating,hours}
// tuples plus any extra discriminators.
func hashGames(games []types.OwnedGame, extra ...string) string {
	tuples := make([]string, 0, len(games)+len(extra))
	for _, g := range games {
		tuples = append(tuples, fmt.Sprintf("%s|%s|%.1f|%.1f", g.ID, g.Status, g.Rating, g.HoursPlayed))
	}
	sort.Strings(tuples)
	tuples = append(tuples, extra...)

	sum := sha256.Sum256([]byte(strings.Join(tuples, "\n")))
	return fmt.Sprintf("%x", sum)
}
