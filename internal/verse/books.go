package verse

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// jaroWinklerThreshold is the minimum similarity score required before a
// phonetically-matched book name is accepted. Transcribed speech mangles
// proper nouns ("Filippians", "Collossians"), so the bar is lower than it
// would be for typed input; 0.80 keeps "Psalms"/"Palms" apart from
// "Proverbs" while still catching common mis-hearings.
const jaroWinklerThreshold = 0.80

// minFuzzyLen is the minimum input length eligible for the fuzzy passes.
// Short filler words score deceptively well against short book names ("at"
// lands within a whisker of "Acts"), so anything under four characters must
// match exactly or via an alias.
const minFuzzyLen = 4

// Books lists the canonical book names in canonical order.
var Books = []string{
	"Genesis", "Exodus", "Leviticus", "Numbers", "Deuteronomy",
	"Joshua", "Judges", "Ruth", "1 Samuel", "2 Samuel",
	"1 Kings", "2 Kings", "1 Chronicles", "2 Chronicles", "Ezra",
	"Nehemiah", "Esther", "Job", "Psalms", "Proverbs",
	"Ecclesiastes", "Song of Solomon", "Isaiah", "Jeremiah", "Lamentations",
	"Ezekiel", "Daniel", "Hosea", "Joel", "Amos",
	"Obadiah", "Jonah", "Micah", "Nahum", "Habakkuk",
	"Zephaniah", "Haggai", "Zechariah", "Malachi",
	"Matthew", "Mark", "Luke", "John", "Acts",
	"Romans", "1 Corinthians", "2 Corinthians", "Galatians", "Ephesians",
	"Philippians", "Colossians", "1 Thessalonians", "2 Thessalonians",
	"1 Timothy", "2 Timothy", "Titus", "Philemon", "Hebrews",
	"James", "1 Peter", "2 Peter", "1 John", "2 John", "3 John",
	"Jude", "Revelation",
}

// bookAliases maps lowercase alternate spellings, abbreviations, and
// traditional titles to canonical book names. Single-word abbreviations
// follow the common Protestant abbreviation set.
var bookAliases = map[string]string{
	"gen": "Genesis", "exo": "Exodus", "lev": "Leviticus",
	"num": "Numbers", "deut": "Deuteronomy", "josh": "Joshua",
	"judg": "Judges", "1 sam": "1 Samuel", "2 sam": "2 Samuel",
	"1 kgs": "1 Kings", "2 kgs": "2 Kings",
	"1 chron": "1 Chronicles", "2 chron": "2 Chronicles",
	"neh": "Nehemiah", "esth": "Esther",
	"ps": "Psalms", "psalm": "Psalms", "psa": "Psalms",
	"prov": "Proverbs", "eccl": "Ecclesiastes",
	"song of songs": "Song of Solomon", "canticles": "Song of Solomon",
	"isa": "Isaiah", "jer": "Jeremiah", "lam": "Lamentations",
	"ezek": "Ezekiel", "dan": "Daniel", "hos": "Hosea",
	"obad": "Obadiah", "mic": "Micah", "nah": "Nahum",
	"hab": "Habakkuk", "zeph": "Zephaniah", "hag": "Haggai",
	"zech": "Zechariah", "mal": "Malachi",
	"matt": "Matthew", "mk": "Mark", "lk": "Luke", "jn": "John",
	"rom": "Romans", "1 cor": "1 Corinthians", "2 cor": "2 Corinthians",
	"gal": "Galatians", "eph": "Ephesians", "phil": "Philippians",
	"col": "Colossians",
	"1 thess": "1 Thessalonians", "2 thess": "2 Thessalonians",
	"1 tim": "1 Timothy", "2 tim": "2 Timothy",
	"heb": "Hebrews", "jas": "James",
	"1 pet": "1 Peter", "2 pet": "2 Peter",
	"rev": "Revelation", "revelations": "Revelation",
}

// ordinalWords maps spoken ordinal prefixes to their numeric form, so that
// "first corinthians" and "second kings" normalise to "1 corinthians" and
// "2 kings" before lookup.
var ordinalWords = map[string]string{
	"first": "1", "second": "2", "third": "3",
	"1st": "1", "2nd": "2", "3rd": "3",
	"i": "1", "ii": "2", "iii": "3",
}

// NormalizeBook maps a free-form book name — as produced by a transcription
// and extraction pipeline — onto a canonical book name.
//
// Matching proceeds in three passes:
//
//  1. Exact match against canonical names and known aliases, after ordinal
//     normalisation ("First John" → "1 john").
//  2. Phonetic candidate match: Double Metaphone codes of the input are
//     compared against each canonical name; candidates are ranked by
//     Jaro-Winkler similarity and accepted above [jaroWinklerThreshold].
//  3. Pure Jaro-Winkler fallback over all canonical names with the same
//     threshold, for misspellings that happen to not align phonetically.
//
// Returns the canonical name and true on success, or the cleaned input and
// false when nothing plausible matches.
func NormalizeBook(name string) (string, bool) {
	cleaned := cleanBookName(name)
	if cleaned == "" {
		return "", false
	}

	if canonical, ok := exactBookMatch(cleaned); ok {
		return canonical, true
	}

	// Split an ordinal prefix so "1 samuel" fuzzy-matches against "Samuel"
	// rather than the digit throwing the similarity off.
	prefix, rest := splitOrdinal(cleaned)
	if len(rest) < minFuzzyLen {
		return cleaned, false
	}

	best := ""
	bestScore := 0.0
	inputCodes := metaphoneCodes(rest)

	for _, canonical := range Books {
		canonPrefix, canonRest := splitOrdinal(strings.ToLower(canonical))
		if prefix != "" && prefix != canonPrefix {
			continue
		}
		score := matchr.JaroWinkler(rest, canonRest, false)
		if !codesOverlap(inputCodes, metaphoneCodes(canonRest)) {
			// No phonetic support; demand the same threshold but only let
			// it win if no phonetic candidate does better.
			score -= 0.05
		}
		if score > bestScore {
			best = canonical
			bestScore = score
		}
	}

	if bestScore >= jaroWinklerThreshold {
		return best, true
	}
	return cleaned, false
}

// cleanBookName lowercases, trims punctuation, collapses whitespace, and
// rewrites ordinal words ("first" → "1").
func cleanBookName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, ".,;:!?\"'")

	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	if n, ok := ordinalWords[fields[0]]; ok && len(fields) > 1 {
		fields[0] = n
	}
	// "the book of john" → "john"
	for len(fields) > 1 && (fields[0] == "the" || fields[0] == "book" || fields[0] == "of") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

// exactBookMatch checks the cleaned name against canonical names and aliases.
func exactBookMatch(cleaned string) (string, bool) {
	for _, canonical := range Books {
		if cleaned == strings.ToLower(canonical) {
			return canonical, true
		}
	}
	if canonical, ok := bookAliases[cleaned]; ok {
		return canonical, true
	}
	return "", false
}

// splitOrdinal separates a leading "1"/"2"/"3" token from the rest of a
// lowercase book name. Returns ("", name) when there is no ordinal prefix.
func splitOrdinal(name string) (prefix, rest string) {
	fields := strings.Fields(name)
	if len(fields) > 1 {
		switch fields[0] {
		case "1", "2", "3":
			return fields[0], strings.Join(fields[1:], " ")
		}
	}
	return "", name
}

// metaphoneCodes returns the union of Double Metaphone codes for every token
// in the given lowercase name. Empty codes are excluded.
func metaphoneCodes(name string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, tok := range strings.Fields(name) {
		p, s := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
