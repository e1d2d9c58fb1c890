// Package highlight splits response text into plain and emphasised spans
// according to the AI's feature importance words. It never produces markup.
package highlight

import (
	"regexp"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/LMDG1/v2-scoringThesis/internal/model"
)

// Segment is a run of text. Level is only meaningful when Highlighted is set.
type Segment struct {
	Text        string
	Highlighted bool
	Level       model.Importance
}

type span struct {
	start, end int
	level      model.Importance
}

// Segments returns text split into segments. Words match case-insensitively
// on word boundaries, where any Unicode letter or digit counts as part of a
// word. Items are applied in order and an earlier item keeps
// any span it claimed, so a later overlapping word is ignored there.
func Segments(text string, items []model.FeatureImportanceItem) []Segment {
	if text == "" {
		return nil
	}

	var claimed []span
	for _, it := range items {
		if it.Word == "" {
			continue
		}
		re, err := wordPattern(it.Word)
		if err != nil {
			continue
		}
		for _, loc := range wholeWords(re, text) {
			if overlaps(claimed, loc[0], loc[1]) {
				continue
			}
			claimed = append(claimed, span{start: loc[0], end: loc[1], level: it.Importance})
		}
	}

	if len(claimed) == 0 {
		return []Segment{{Text: text}}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })

	var segs []Segment
	pos := 0
	for _, sp := range claimed {
		if sp.start > pos {
			segs = append(segs, Segment{Text: text[pos:sp.start]})
		}
		segs = append(segs, Segment{Text: text[sp.start:sp.end], Highlighted: true, Level: sp.level})
		pos = sp.end
	}
	if pos < len(text) {
		segs = append(segs, Segment{Text: text[pos:]})
	}
	return segs
}

// Part highlights one part of a student's response.
func Part(s model.StudentResponse, p model.Part) []Segment {
	return Segments(s.Response.Get(p).FullText(), s.FeatureImportance.Get(p))
}

func wordPattern(word string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)` + regexp.QuoteMeta(word))
}

// wholeWords returns the matches of re that neither start nor end inside a
// word. regexp's \b only knows ASCII, so "één" would never match with it.
func wholeWords(re *regexp.Regexp, text string) [][2]int {
	var out [][2]int
	for pos := 0; pos < len(text); {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil || loc[0] == loc[1] {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if atBoundary(text, start, end) {
			out = append(out, [2]int{start, end})
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
	return out
}

func atBoundary(text string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	if isWordRune(first) && start > 0 {
		if prev, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(prev) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(text[start:end])
	if isWordRune(last) && end < len(text) {
		if next, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(next) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlaps(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}
