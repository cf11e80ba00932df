package expansion

import (
	"sort"
	"strings"

	"github.com/gamedex/gamedex-server/internal/types"
)

// studioRecord is one compiled-in parent studio. The table is a snapshot of
// the major publishing groups; anything not listed here falls through to the
// persistent cache and the upstream tiers.
type studioRecord struct {
	parent    string
	aliases   []string
	publisher bool
	developer bool
	subs      []string
}

var staticTable = []studioRecord{
	{
		parent:    "Microsoft",
		aliases:   []string{"xbox game studios", "microsoft gaming", "xbox"},
		publisher: true,
		subs: []string{
			"343 Industries", "Arkane Studios", "Bethesda Game Studios",
			"Compulsion Games", "Double Fine Productions", "id Software",
			"inXile Entertainment", "Mojang Studios", "Ninja Theory",
			"Obsidian Entertainment", "Playground Games", "Rare",
			"The Coalition", "Turn 10 Studios", "Undead Labs", "World's Edge",
		},
	},
	{
		parent:    "Sony Interactive Entertainment",
		aliases:   []string{"sony", "playstation studios", "playstation"},
		publisher: true,
		subs: []string{
			"Bend Studio", "Bungie", "Firesprite", "Guerrilla Games",
			"Housemarque", "Insomniac Games", "Media Molecule", "Naughty Dog",
			"Polyphony Digital", "San Diego Studio", "Santa Monica Studio",
			"Sucker Punch Productions", "Team Asobi",
		},
	},
	{
		parent:    "Nintendo",
		publisher: true,
		developer: true,
		subs: []string{
			"1-Up Studio", "Monolith Soft", "Next Level Games",
			"Nintendo EPD", "Nintendo Software Technology", "Retro Studios",
		},
	},
	{
		parent:    "Electronic Arts",
		aliases:   []string{"ea", "ea games"},
		publisher: true,
		subs: []string{
			"BioWare", "Codemasters", "Criterion Games", "DICE", "EA Sports",
			"Full Circle", "Maxis", "Motive Studio", "Respawn Entertainment",
			"Ripple Effect Studios",
		},
	},
	{
		parent:    "Ubisoft",
		aliases:   []string{"ubisoft entertainment"},
		publisher: true,
		developer: true,
		subs: []string{
			"Ivory Tower", "Massive Entertainment", "Red Storm Entertainment",
			"Ubisoft Bordeaux", "Ubisoft Milan", "Ubisoft Montreal",
			"Ubisoft Paris", "Ubisoft Quebec", "Ubisoft Toronto",
		},
	},
	{
		parent:    "Take-Two Interactive",
		aliases:   []string{"take two", "take-two"},
		publisher: true,
		subs: []string{
			"2K", "Cloud Chamber", "Firaxis Games", "Gearbox Entertainment",
			"Hangar 13", "Rockstar Games", "Visual Concepts", "Zynga",
		},
	},
	{
		parent:    "Tencent Games",
		aliases:   []string{"tencent"},
		publisher: true,
		subs: []string{
			"Funcom", "Grinding Gear Games", "LightSpeed Studios",
			"Riot Games", "Sharkmob", "TiMi Studio Group",
			"Turtle Rock Studios",
		},
	},
	{
		parent:    "Sega",
		aliases:   []string{"sega sammy"},
		publisher: true,
		subs: []string{
			"Atlus", "Creative Assembly", "Ryu Ga Gotoku Studio",
			"Sonic Team", "Sports Interactive", "Two Point Studios",
		},
	},
	{
		parent:    "Square Enix",
		publisher: true,
		developer: true,
		subs:      []string{"Square Enix Creative Studios", "Taito"},
	},
	{
		parent:    "Bandai Namco",
		aliases:   []string{"bandai namco entertainment", "namco"},
		publisher: true,
		developer: true,
		subs:      []string{"Bandai Namco Studios"},
	},
	{
		parent:    "Embracer Group",
		aliases:   []string{"embracer"},
		publisher: true,
		subs: []string{
			"Coffee Stain Studios", "Plaion", "THQ Nordic",
			"Tarsier Studios",
		},
	},
	{
		parent:    "Krafton",
		publisher: true,
		subs: []string{
			"Bluehole Studio", "PUBG Studios", "Striking Distance Studios",
			"Tango Gameworks", "Unknown Worlds",
		},
	},
	{
		parent:    "Devolver Digital",
		aliases:   []string{"devolver"},
		publisher: true,
		subs: []string{
			"Croteam", "Dodge Roll", "Doinksoft", "Firefly Studios", "Nerial",
		},
	},
	{
		parent:    "CD Projekt",
		aliases:   []string{"cd projekt red", "cdpr"},
		publisher: true,
		developer: true,
		subs:      []string{"CD Projekt Red", "The Molasses Flood"},
	},
	{
		parent:    "Warner Bros. Games",
		aliases:   []string{"warner bros", "wb games"},
		publisher: true,
		subs: []string{
			"Avalanche Software", "NetherRealm Studios",
			"Rocksteady Studios", "TT Games", "WB Games Montreal",
		},
	},
	{
		parent:    "Valve",
		aliases:   []string{"valve software"},
		publisher: true,
		developer: true,
		subs:      []string{"Valve"},
	},
	{
		parent:    "Annapurna Interactive",
		aliases:   []string{"annapurna"},
		publisher: true,
		subs:      []string{"Annapurna Interactive"},
	},
}

var staticIndex = buildIndex()

func buildIndex() map[string]*studioRecord {
	idx := make(map[string]*studioRecord, len(staticTable)*2)
	for i := range staticTable {
		rec := &staticTable[i]
		idx[normalizeName(rec.parent)] = rec
		for _, a := range rec.aliases {
			idx[normalizeName(a)] = rec
		}
	}
	return idx
}

// staticLookup resolves a normalized parent name against the compiled-in
// table. Static answers are authoritative: a hit never reaches the lower
// tiers.
func staticLookup(normalized string) (types.ExpansionEntry, bool) {
	rec, ok := staticIndex[normalized]
	if !ok {
		return types.ExpansionEntry{}, false
	}
	return buildEntry(rec.parent, rec.subs), true
}

// SearchStudios ranks compiled-in studios matching query: exact matches
// first, then prefix, then substring, alphabetical within a rank. Parents
// carry the record's publisher/developer flags; subsidiaries count as
// developers.
func SearchStudios(query string, includePublishers, includeDevelopers bool, limit int) []types.StudioMatch {
	q := normalizeName(query)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	type ranked struct {
		match types.StudioMatch
		rank  int
	}
	var hits []ranked
	seen := make(map[string]bool)

	consider := func(name string, isPublisher, isDeveloper bool) {
		if !(includePublishers && isPublisher) && !(includeDevelopers && isDeveloper) {
			return
		}
		norm := normalizeName(name)
		if seen[norm] {
			return
		}
		rank := -1
		switch {
		case norm == q:
			rank = 0
		case strings.HasPrefix(norm, q):
			rank = 1
		case strings.Contains(norm, q):
			rank = 2
		}
		if rank == -1 {
			return
		}
		seen[norm] = true
		hits = append(hits, ranked{
			match: types.StudioMatch{Name: name, IsPublisher: isPublisher, IsDeveloper: isDeveloper},
			rank:  rank,
		})
	}

	for i := range staticTable {
		rec := &staticTable[i]
		consider(rec.parent, rec.publisher, rec.developer)
		for _, sub := range rec.subs {
			consider(sub, false, true)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].match.Name < hits[j].match.Name
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]types.StudioMatch, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out
}

// normalizeName is the shared key normalization for every expansion tier:
// lowercased, trimmed, internal whitespace collapsed.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// slugify lowercases and hyphenates a display name.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// buildEntry assembles an ExpansionEntry from a parent and its subsidiary
// names, deduplicating while preserving order.
func buildEntry(parent string, names []string) types.ExpansionEntry {
	deduped := make([]string, 0, len(names))
	slugs := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := normalizeName(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, n)
		slugs = append(slugs, slugify(n))
	}
	return types.ExpansionEntry{
		Parent: parent,
		Names:  deduped,
		Slugs:  strings.Join(slugs, ","),
	}
}
