// Package dsl splits epic workflow documents into marker sections and reads
// the inline @key: sub-syntax found inside section bodies.
package dsl

import (
	"regexp"
	"sort"
	"strings"
)

type Marker string

const (
	MarkerTemplate  Marker = "/TEMPLATE"
	MarkerDocs      Marker = "/DOCS"
	MarkerPrompt    Marker = "/PROMPT"
	MarkerRun       Marker = "/RUN"
	MarkerDebugLoop Marker = "/DEBUG_LOOP"
	MarkerExit      Marker = "/EXIT"
)

// DefaultMarkers is the marker set understood by the graph builder.
var DefaultMarkers = []Marker{
	MarkerTemplate,
	MarkerDocs,
	MarkerPrompt,
	MarkerRun,
	MarkerDebugLoop,
	MarkerExit,
}

// Section is one marker occurrence and the text that follows it.
type Section struct {
	Marker Marker
	// Body is the text after the marker up to the next marker, trimmed.
	Body string
	// Line is the 1-based line of the marker in the source.
	Line int
}

// Parse splits src into sections in source order. A marker is recognised at
// the start of input or after whitespace and must end on a word boundary.
// Text before the first marker is dropped; no markers yields nil.
func Parse(src string, markers []Marker) []Section {
	re := markerPattern(markers)
	if re == nil {
		return nil
	}
	locs := re.FindAllStringSubmatchIndex(src, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make([]Section, 0, len(locs))
	for i, loc := range locs {
		start, end := loc[2], loc[3]
		bodyEnd := len(src)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][2]
		}
		out = append(out, Section{
			Marker: Marker(src[start:end]),
			Body:   strings.TrimSpace(src[end:bodyEnd]),
			Line:   1 + strings.Count(src[:start], "\n"),
		})
	}
	return out
}

func markerPattern(markers []Marker) *regexp.Regexp {
	var alts []string
	for _, m := range markers {
		if s := strings.TrimSpace(string(m)); s != "" {
			alts = append(alts, regexp.QuoteMeta(s))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	// Longest first so that a marker which prefixes another never wins.
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	return regexp.MustCompile(`(?:^|\s)(` + strings.Join(alts, "|") + `)\b`)
}
