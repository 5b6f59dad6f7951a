package game

// Ruleset is the word-chain puzzle's data: which word each flavor starts
// and ends on, what each station does to a word, which words are
// checkpoints to retreat to on a dead end, and which station's move is
// defined at each checkpoint (so a badge sent back to a checkpoint can be
// skipped straight to the next word instead of re-reading the same hint).
//
// Several variants of this table have existed; it is supplied as data so
// a new one can be dropped in without touching the logic that walks it.
type Ruleset struct {
	FlavorStart       map[string]string
	FlavorEnd         map[string]string
	StationWord       map[int]map[string]string
	Checkpoint        map[string]string
	CheckpointStation map[string]int
}

func behead(words []string) map[string]string {
	m := make(map[string]string, len(words))
	for _, w := range words {
		m[w] = w[1:]
	}
	return m
}

func bidirectional(pairs [][2]string) map[string]string {
	m := make(map[string]string, len(pairs)*2)
	for _, p := range pairs {
		m[p[0]] = p[1]
		m[p[1]] = p[0]
	}
	return m
}

// DefaultRuleset returns the canonical three-station word chain: station
// 1 drops the first letter, station 2 is a single-letter edit, station 3
// swaps a word for its opposite.
func DefaultRuleset() Ruleset {
	return Ruleset{
		FlavorStart: map[string]string{"A": "TWIN", "B": "MAN", "C": "MOTHER"},
		FlavorEnd:   map[string]string{"A": "REST", "B": "IN", "C": "PEACE"},
		StationWord: map[int]map[string]string{
			1: behead([]string{
				"AGO", "AWAY", "AWRY", "BOTHER", "LEAST", "MAN", "MOTHER",
				"OPEN", "SAGE", "SHUT", "SWAY", "TWIN", "TWIT", "WOMEN",
				"WON", "YEAST",
			}),
			2: bidirectional([][2]string{
				{"AGE", "AGO"}, {"AWAY", "AWRY"}, {"COME", "HOME"},
				{"EAST", "MAST"}, {"FATHER", "RATHER"}, {"GO", "SO"},
				{"HUT", "OUT"}, {"LEAST", "LEASH"}, {"LOSE", "NOSE"},
				{"LOST", "MOST"}, {"MAN", "MAP"}, {"MEN", "MET"},
				{"MOTHER", "MOSHER"}, {"OFF", "OAF"}, {"OMEN", "OPEN"},
				{"ON", "AN"}, {"OTHER", "OCHER"}, {"PEN", "PUN"},
				{"SAME", "SAGE"}, {"SHUT", "SMUT"}, {"TWIN", "TWIT"},
				{"WAY", "WAR"}, {"WEST", "REST"}, {"WIN", "WON"},
				{"WIT", "WIG"}, {"WOMAN", "WOMEN"}, {"WRY", "WHY"},
			}),
			3: bidirectional([][2]string{
				{"EAST", "WEST"}, {"GO", "COME"}, {"HOME", "AWAY"},
				{"MAN", "WOMAN"}, {"MEN", "WOMEN"}, {"MOST", "LEAST"},
				{"MOTHER", "FATHER"}, {"ON", "OFF"}, {"OPEN", "SHUT"},
				{"OTHER", "SAME"}, {"OUT", "IN"}, {"PEN", "PENCIL"},
				{"WAR", "PEACE"}, {"WIN", "LOSE"}, {"WON", "LOST"},
			}),
		},
		Checkpoint: map[string]string{
			"SO": "GO", "COME": "GO", "HOME": "GO", "AWAY": "GO",
			"AWRY": "GO", "SWAY": "GO", "WAY": "GO", "WHY": "GO",
			"WRY": "GO", "WAR": "GO",
		},
		CheckpointStation: map[string]int{
			"TWIN": 1, "MAN": 3, "MOTHER": 1, "GO": 3,
		},
	}
}
