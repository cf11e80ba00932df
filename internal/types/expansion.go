package types

// ExpansionEntry maps a parent studio to its subsidiary display names and a
// comma-joined slug list. Entries come from the compiled-in table, the
// persistent cache, or an upstream query, in that precedence order.
type ExpansionEntry struct {
	Parent string   `json:"parent"`
	Names  []string `json:"names"`
	Slugs  string   `json:"slugs"`
}

// StudioMatch is one ranked hit from a studio search.
type StudioMatch struct {
	Name        string `json:"name"`
	IsPublisher bool   `json:"is_publisher"`
	IsDeveloper bool   `json:"is_developer"`
}
