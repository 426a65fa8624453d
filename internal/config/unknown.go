package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys per section.
var knownKeys = map[string][]string{
	"api":       {"base_url", "timeout", "user_agent"},
	"session":   {"path", "store"},
	"transfers": {"bandwidth_limit", "parallel_uploads"},
	"logging":   {"log_format", "log_level"},
}

// knownSections is the sorted list of section names for suggestions.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	// An unknown table is reported once, not again for each key inside it.
	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. A key at the top level or
// under an unknown table is matched against section names; a key inside a
// known section is matched against that section's keys.
func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		if section := sectionOf(key[0]); section != "" {
			return fmt.Errorf("config key %q must be inside [%s]", key[0], section)
		}

		return withSuggestion(fmt.Sprintf("unknown config section %q", key[0]), key[0], knownSections)
	}

	section, field := key[0], key[1]

	fields, ok := knownKeys[section]
	if !ok {
		return withSuggestion(fmt.Sprintf("unknown config section %q", section), section, knownSections)
	}

	return withSuggestion(fmt.Sprintf("unknown config key %q in [%s]", field, section), field, fields)
}

// sectionOf returns the section that owns field, or "".
func sectionOf(field string) string {
	for _, section := range knownSections {
		for _, k := range knownKeys[section] {
			if k == field {
				return section
			}
		}
	}

	return ""
}

func withSuggestion(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s: did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
// Ties go to the earlier entry, so known should be sorted.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
