package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gamedex/gamedex-server/internal/types"
)

const (
	suggestSystem = "You are a video game recommendation engine. " +
		"Respond with a single JSON object and nothing else."

	analystSystem = "You are a video game library analyst. " +
		"Respond with a single JSON object and nothing else."

	expandSystem = "You are a video game industry reference. " +
		"Respond with a single JSON object and nothing else."
)

// maxPromptGames caps how many library entries are serialized into a prompt
// so large libraries do not blow the token budget. The weightiest entries
// (active and completed, highly rated) survive the cut.
const maxPromptGames = 60

func suggestPrompt(query string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest exactly %d games matching: %q.\n\n", count, strings.TrimSpace(query))
	b.WriteString("Return JSON of the form:\n")
	b.WriteString(`{"games":[{"name":"...","genre":"...","reason":"..."}],"reasoning":"..."}` + "\n\n")
	b.WriteString("Order games from strongest to weakest match. ")
	b.WriteString("Keep each reason to one sentence.")
	return b.String()
}

func libraryPrompt(games []types.OwnedGame, count int, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on this game library, suggest exactly %d games the player does not own.\n\n", count)
	writeGameLines(&b, games)
	if len(exclude) > 0 {
		fmt.Fprintf(&b, "\nDo not suggest any of: %s.\n", strings.Join(exclude, ", "))
	}
	b.WriteString("\nReturn JSON of the form:\n")
	b.WriteString(`{"games":[{"name":"...","genre":"...","reason":"..."}],"reasoning":"..."}` + "\n\n")
	b.WriteString("Order games from strongest to weakest match. ")
	b.WriteString("Weight liked and completed games heavier than backlog; ignore dropped ones.")
	return b.String()
}

func profilePrompt(games []types.OwnedGame) string {
	var b strings.Builder
	b.WriteString("Analyze this game library and describe the player.\n\n")
	writeGameLines(&b, games)
	b.WriteString("\nReturn JSON of the form:\n")
	b.WriteString(`{"summary":"...","top_genres":["..."],"play_style":"...","suggested_next":["..."]}` + "\n")
	return b.String()
}

func expandPrompt(parent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List the game studios and internal development teams owned by %q.\n\n", strings.TrimSpace(parent))
	b.WriteString("Return JSON of the form:\n")
	b.WriteString(`{"names":["..."]}` + "\n\n")
	b.WriteString("Include the parent itself if it develops games directly. ")
	b.WriteString("Only include real, current subsidiaries.")
	return b.String()
}

// writeGameLines serializes the library one game per line, highest-signal
// entries first (status weight, then rating, then hours).
func writeGameLines(b *strings.Builder, games []types.OwnedGame) {
	ordered := append([]types.OwnedGame(nil), games...)
	sort.SliceStable(ordered, func(i, j int) bool {
		wi, wj := ordered[i].Status.Weight(), ordered[j].Status.Weight()
		if wi != wj {
			return wi > wj
		}
		if ordered[i].Rating != ordered[j].Rating {
			return ordered[i].Rating > ordered[j].Rating
		}
		return ordered[i].HoursPlayed > ordered[j].HoursPlayed
	})
	if len(ordered) > maxPromptGames {
		ordered = ordered[:maxPromptGames]
	}

	b.WriteString("Library:\n")
	for _, g := range ordered {
		fmt.Fprintf(b, "- %s (status %s, rating %.1f, %.0fh", g.Name, g.Status, g.Rating, g.HoursPlayed)
		if len(g.Genres) > 0 {
			fmt.Fprintf(b, ", %s", strings.Join(g.Genres, "/"))
		}
		b.WriteString(")\n")
	}
}
