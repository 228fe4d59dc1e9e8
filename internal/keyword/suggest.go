package keyword

import (
	"sort"
	"strings"
)

// Suggester proposes corrected queries from the terms of a TermDictionary.
type Suggester struct {
	dict        TermDictionary
	maxDistance int
	minFreq     int
}

// NewSuggester returns a suggester accepting corrections within maxDistance edits
// whose term appears in at least minFreq pages.
func NewSuggester(dict TermDictionary, maxDistance, minFreq int) *Suggester {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	if minFreq <= 0 {
		minFreq = 1
	}
	return &Suggester{dict: dict, maxDistance: maxDistance, minFreq: minFreq}
}

// Suggest returns query with every unknown term replaced by its closest indexed term,
// or "" when no term needed a correction.
func (s *Suggester) Suggest(query string) (string, error) {
	terms, err := s.dict.Terms()
	if err != nil {
		return "", err
	}

	words := tokenizeQuery(query)
	changed := false
	for i, w := range words {
		if _, ok := terms[w]; ok {
			continue
		}
		if best := s.closest(w, terms); best != "" {
			words[i] = best
			changed = true
		}
	}
	if !changed {
		return "", nil
	}
	return strings.Join(words, " "), nil
}

// closest picks the nearest term by edit distance, breaking ties by frequency then order.
func (s *Suggester) closest(word string, terms map[string]int) string {
	type candidate struct {
		term string
		dist int
		freq int
	}
	var cands []candidate
	n := len([]rune(word))
	for term, freq := range terms {
		if freq < s.minFreq {
			continue
		}
		if d := len([]rune(term)) - n; d > s.maxDistance || -d > s.maxDistance {
			continue
		}
		if dist := Levenshtein(word, term); dist <= s.maxDistance {
			cands = append(cands, candidate{term: term, dist: dist, freq: freq})
		}
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term
}

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
