// Package rollcall turns free text (a spoken transcript or typed input) into
// the set of roll-number identifiers it mentions.
package rollcall

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Set is an unordered collection of roll-number strings.
type Set map[string]struct{}

func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s Set) Add(id string) { s[id] = struct{}{} }

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Len() int { return len(s) }

// Slice returns the members in a stable order: numeric first by value, then lexical.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i])
		b, errB := strconv.Atoi(out[j])
		if errA == nil && errB == nil && a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

var (
	digitsOnly = regexp.MustCompile(`^\d+$`)
	digitRuns  = regexp.MustCompile(`\d+`)

	separators = strings.NewReplacer(",", " ", ".", " ")
)

var wordToNum = map[string]string{
	"zero": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
	"ten": "10", "eleven": "11", "twelve": "12", "thirteen": "13",
	"fourteen": "14", "fifteen": "15", "sixteen": "16", "seventeen": "17",
	"eighteen": "18", "nineteen": "19", "twenty": "20",
}

// Extract returns every roll number found in text. It never fails; empty or
// unintelligible input yields an empty set.
//
// Tokens that are all digits are kept verbatim and number words zero..twenty
// map to their numerals. "twenty" directly followed by a unit word composes
// ("twenty two" -> "22"). A second pass collects digit runs glued to other
// characters, ex: "no12".
func Extract(text string) Set {
	out := Set{}
	if strings.TrimSpace(text) == "" {
		return out
	}

	clean := separators.Replace(strings.ToLower(text))
	words := strings.Fields(clean)

	for i := 0; i < len(words); i++ {
		w := words[i]
		if digitsOnly.MatchString(w) {
			out.Add(w)
			continue
		}
		n, ok := wordToNum[w]
		if !ok {
			continue
		}
		if w == "twenty" && i+1 < len(words) {
			if unit, ok := unitWord(words[i+1]); ok {
				out.Add("2" + unit)
				i++
				continue
			}
		}
		out.Add(n)
	}

	for _, d := range digitRuns.FindAllString(clean, -1) {
		out.Add(d)
	}
	return out
}

// ExtractSlice is Extract in sorted slice form.
func ExtractSlice(text string) []string {
	return Extract(text).Slice()
}

func unitWord(w string) (string, bool) {
	n, ok := wordToNum[w]
	if !ok || len(n) != 1 || n == "0" {
		return "", false
	}
	return n, true
}
