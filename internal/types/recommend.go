package types

// Suggestion is a single recommended game. Items arrive from the model in
// relevance order and that order is preserved end-to-end.
type Suggestion struct {
	Name   string `json:"name"`
	Genre  string `json:"genre,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type SuggestionResult struct {
	Items     []Suggestion `json:"items"`
	Reasoning string       `json:"reasoning,omitempty"`
	FromCache bool         `json:"from_cache"`
}

// ProfileInsights is the structured result of a library analysis. Degraded
// marks the generic fallback produced when the model's text could not be
// parsed; degraded results are never cached.
type ProfileInsights struct {
	Summary       string   `json:"summary"`
	TopGenres     []string `json:"top_genres,omitempty"`
	PlayStyle     string   `json:"play_style,omitempty"`
	SuggestedNext []string `json:"suggested_next,omitempty"`
	FromCache     bool     `json:"from_cache"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// GenericInsights is the degraded fallback returned when the model's analysis
// text cannot be parsed. Callers prefer this over failing the whole request.
func GenericInsights() ProfileInsights {
	return ProfileInsights{
		Summary:   "Your library shows a varied set of games. Keep logging playtime and ratings to sharpen future analysis.",
		PlayStyle: "varied",
		Degraded:  true,
	}
}

// StreamingProgress is one snapshot of an in-progress streamed analysis.
// Insights and Error are set only on the terminal snapshot (Complete=true);
// at most one of them is non-zero.
type StreamingProgress struct {
	PartialText string           `json:"partial_text"`
	Complete    bool             `json:"complete"`
	Insights    *ProfileInsights `json:"insights,omitempty"`
	Error       string           `json:"error,omitempty"`
}
