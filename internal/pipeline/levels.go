package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"shiftdoc/internal"
)

const (
	MinLevel = 0
	MaxLevel = 10
)

// SubstanceLabels maps the abbreviations staff write in craving lines to the
// label stored with an observation.
var SubstanceLabels = map[string]string{
	"alc":  "alcohol",
	"nic":  "nicotine",
	"coc":  "cocaine",
	"her":  "heroin",
	"meth": "methamphetamine",
	"pot":  "marijuana",
	"weed": "marijuana",
	"thc":  "marijuana",
	"sub":  "substance",
}

var (
	reLabeledLevel = regexp.MustCompile(`(?i)(?:^|[\s,])(alc|nic|coc|her|meth|pot|weed|thc|sub)\s*[-:]?\s*(\d+)`)
	reLevelFor     = regexp.MustCompile(`(?i)\b(\d+)\s*for\b`)
	// A number right after "/" is a scale ("0/10"), not a level.
	reBareNumber = regexp.MustCompile(`(?:^|[^/\d])(\d+)`)
)

// ExtractLevels pulls craving observations out of the text that follows a
// "Cravings/Triggers:" label. Labeled ("alc 5", "nic-7") and number-first
// ("8 for nic") forms are returned together; only when neither appears is the
// highest bare in-range number returned as a single unknown observation.
func ExtractLevels(text string) []internal.CravingObservation {
	out := make([]internal.CravingObservation, 0)

	for _, m := range reLabeledLevel.FindAllStringSubmatch(text, -1) {
		level, ok := parseLevel(m[2])
		if !ok {
			continue
		}
		abbr := strings.ToLower(m[1])
		substance, known := SubstanceLabels[abbr]
		if !known {
			substance = abbr
		}
		out = append(out, internal.CravingObservation{Substance: substance, Level: level})
	}

	for _, m := range reLevelFor.FindAllStringSubmatch(text, -1) {
		if level, ok := parseLevel(m[1]); ok {
			out = append(out, internal.CravingObservation{Substance: internal.SubstanceUnknown, Level: level})
		}
	}

	if len(out) > 0 {
		return out
	}

	highest := -1
	for _, m := range reBareNumber.FindAllStringSubmatch(text, -1) {
		if level, ok := parseLevel(m[1]); ok && level > highest {
			highest = level
		}
	}
	if highest >= MinLevel {
		out = append(out, internal.CravingObservation{Substance: internal.SubstanceUnknown, Level: highest})
	}
	return out
}

// ResolveLevel picks the observation reported downstream: the highest level,
// preferring the one labeled substance at that level when exactly one exists.
func ResolveLevel(obs []internal.CravingObservation) (internal.CravingObservation, bool) {
	if len(obs) == 0 {
		return internal.CravingObservation{}, false
	}

	best := obs[0]
	for _, o := range obs[1:] {
		if o.Level > best.Level {
			best = o
		}
	}

	labeled := -1
	count := 0
	for i, o := range obs {
		if o.Level == best.Level && o.Substance != internal.SubstanceUnknown {
			if labeled < 0 {
				labeled = i
			}
			count++
		}
	}
	if count == 1 {
		return obs[labeled], true
	}
	return best, true
}

// parseLevel accepts "0".."9" and "10" only; "05" or "15" are not levels.
func parseLevel(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 || (len(s) == 2 && s != "10") {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < MinLevel || n > MaxLevel {
		return 0, false
	}
	return n, true
}
