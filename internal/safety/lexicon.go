package safety

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var defaultBannedWords = []string{
	// violence
	"kill", "murder", "death", "die", "dead", "dying", "killed",
	"blood", "gore", "wound", "injury", "hurt", "pain", "suffer",
	"weapon", "gun", "rifle", "pistol", "shoot", "shot",
	"knife", "stab", "blade", "dagger",
	"sword", "axe", "spear",
	"bomb", "explode", "explosion",
	"fight", "attack", "punch", "kick", "hit", "strike",
	"war", "battle", "combat", "destroy", "destruction",

	// fear and horror
	"scary", "terrify", "terror", "fear", "afraid", "frightening",
	"horror", "horrify", "nightmare", "dread",
	"monster", "beast", "creature", "demon", "devil",
	"ghost", "spirit", "haunted", "spooky",
	"zombie", "vampire", "werewolf", "undead",
	"evil", "wicked", "sinister", "dark", "darkness",

	// negativity and cruelty
	"hate", "hatred", "despise", "loathe",
	"stupid", "idiot", "dumb", "moron", "fool",
	"ugly", "hideous", "disgusting", "gross",
	"bad", "terrible", "awful", "horrible",
	"steal", "thief", "rob", "robbery",
	"lie", "liar", "cheat", "deceive",
	"bully", "mean", "cruel", "nasty",

	// mild profanity
	"hell", "damn", "dammit", "crap", "suck",

	// danger
	"danger", "dangerous", "hazard", "peril",
	"poison", "toxic", "venom",
	"trap", "trapped", "capture", "caught",
	"lost", "alone", "abandoned", "stranded",

	// excessive sadness
	"depressed", "depression", "miserable", "hopeless",
	"despair", "anguish", "agony", "torment",
}

// Age lists are independent per bracket; a word barred for 6-8 is not implied for 9-12.
var defaultAgeWords = map[string][]string{
	"6-8": {
		"sacrifice", "betrayal", "revenge", "conspiracy",
		"politics", "war", "battle", "conflict",
		"complex", "complicated", "sophisticated",
		"abstract", "theoretical", "philosophical",
		"enigmatic", "perplexing", "bewildering", "confounding",
		"esoteric", "abstruse", "recondite", "arcane",
		"convoluted", "labyrinthine", "byzantine",
		"juxtaposition", "dichotomy", "paradigm",
	},
	"9-12": {
		"suicide", "depression", "mental", "therapy",
		"romantic", "love", "dating", "relationship",
	},
}

var defaultNegativeWeights = map[string]float64{
	"sad": -0.3, "cry": -0.3, "crying": -0.3, "tears": -0.2,
	"afraid": -0.4, "scared": -0.4, "fear": -0.4, "frightened": -0.4,
	"worried": -0.2, "anxious": -0.2, "nervous": -0.2,
	"lonely": -0.4, "alone": -0.3, "lost": -0.4,
	"angry": -0.3, "mad": -0.3, "upset": -0.2,
	"fail": -0.3, "failed": -0.3, "failure": -0.3,
	"wrong": -0.2, "mistake": -0.2, "error": -0.2,
	"dark": -0.2, "darkness": -0.3, "shadow": -0.2,
	"cold": -0.1, "rain": -0.1, "storm": -0.2,
}

var defaultPositiveWeights = map[string]float64{
	"happy": 0.4, "joy": 0.4, "joyful": 0.4, "cheerful": 0.4,
	"fun": 0.3, "exciting": 0.4, "excited": 0.4,
	"wonderful": 0.4, "amazing": 0.4, "awesome": 0.4,
	"beautiful": 0.3, "pretty": 0.3, "lovely": 0.3,
	"kind": 0.3, "friendly": 0.3, "helpful": 0.3,
	"brave": 0.4, "courageous": 0.4, "strong": 0.3,
	"clever": 0.3, "smart": 0.3, "wise": 0.3,
	"discover": 0.3, "explore": 0.3, "adventure": 0.4,
	"friend": 0.3, "together": 0.2, "help": 0.2,
	"smile": 0.3, "laugh": 0.4, "giggle": 0.4,
	"bright": 0.2, "sunshine": 0.3, "rainbow": 0.3,
}

// Lexicon holds the swappable word data behind the filters.
type Lexicon struct {
	banned   map[string]struct{}
	ageWords map[string]map[string]struct{}
	negative map[string]float64
	positive map[string]float64

	bannedRE *regexp.Regexp
}

// DefaultLexicon returns the stock word lists.
func DefaultLexicon() *Lexicon {
	l := &Lexicon{
		banned:   toSet(defaultBannedWords),
		ageWords: make(map[string]map[string]struct{}, len(defaultAgeWords)),
		negative: copyWeights(defaultNegativeWeights),
		positive: copyWeights(defaultPositiveWeights),
	}
	for bracket, words := range defaultAgeWords {
		l.ageWords[bracket] = toSet(words)
	}
	l.compile()
	return l
}

// Extend adds banned and age-bracket words on top of the current lists.
func (l *Lexicon) Extend(banned []string, ageWords map[string][]string) *Lexicon {
	for _, w := range banned {
		if w = normalizeToken(w); w != "" {
			l.banned[w] = struct{}{}
		}
	}
	for bracket, words := range ageWords {
		set, ok := l.ageWords[bracket]
		if !ok {
			set = make(map[string]struct{}, len(words))
			l.ageWords[bracket] = set
		}
		for _, w := range words {
			if w = normalizeToken(w); w != "" {
				set[w] = struct{}{}
			}
		}
	}
	l.compile()
	return l
}

func (l *Lexicon) compile() {
	words := make([]string, 0, len(l.banned))
	for w := range l.banned {
		words = append(words, regexp.QuoteMeta(w))
	}
	// Longest first so alternation prefers "darkness" over "dark".
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	l.bannedRE = regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

// BannedWordCount reports the size of the banned list.
func (l *Lexicon) BannedWordCount() int { return len(l.banned) }

// AgeBrackets lists brackets that carry a word list, sorted.
func (l *Lexicon) AgeBrackets() []string {
	out := make([]string, 0, len(l.ageWords))
	for b := range l.ageWords {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// firstBannedToken returns the first whole token of text on the banned list.
func (l *Lexicon) firstBannedToken(text string) (string, bool) {
	for _, tok := range tokens(text) {
		if _, ok := l.banned[tok]; ok {
			return tok, true
		}
	}
	return "", false
}

// findBanned is the word-boundary scan used on generated output.
func (l *Lexicon) findBanned(text string) (string, bool) {
	m := l.bannedRE.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

func (l *Lexicon) firstAgeToken(text, ageRange string) (string, bool) {
	set, ok := l.ageWords[ageRange]
	if !ok {
		return "", false
	}
	for _, tok := range tokens(text) {
		if _, hit := set[tok]; hit {
			return tok, true
		}
	}
	return "", false
}

// tokens lowercases text, splits on whitespace and strips punctuation from each word.
func tokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if t := normalizeToken(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeToken(w string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToLower(r)
		}
		return -1
	}, w)
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
