package types

// OwnedGame is one record from the user's library as supplied by the client
// (or loaded from the library store when the request body omits it). It is
// the unit that recommendation fingerprints and prompts are built from.
type OwnedGame struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      GameStatus `json:"status"`
	Rating      float64    `json:"rating,omitempty"`
	HoursPlayed float64    `json:"hours_played,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
}

type GameStatus string

const (
	StatusPlaying   GameStatus = "PLAYING"
	StatusCompleted GameStatus = "COMPLETED"
	StatusBacklog   GameStatus = "BACKLOG"
	StatusDropped   GameStatus = "DROPPED"
	StatusWishlist  GameStatus = "WISHLIST"
)

// Weight returns how strongly a game in this status should count as a taste
// signal when building prompts. Higher values mean a stronger signal.
func (s GameStatus) Weight() int {
	switch s {
	case StatusCompleted:
		return 4
	case StatusPlaying:
		return 3
	case StatusDropped:
		return 2
	case StatusBacklog:
		return 1
	case StatusWishlist:
		return 0
	default:
		return -1
	}
}

func ParseGameStatus(s string) (GameStatus, bool) {
	switch GameStatus(s) {
	case StatusPlaying, StatusCompleted, StatusBacklog, StatusDropped, StatusWishlist:
		return GameStatus(s), true
	default:
		return "", false
	}
}
