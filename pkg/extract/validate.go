package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Validation failures that the dispatcher turns into corrective chat
// messages.
var (
	ErrEmptyProposal   = fmt.Errorf("the proposed replacement is empty")
	ErrNoChange        = fmt.Errorf("the proposed replacement is identical to the current code")
	ErrColorsUnchanged = fmt.Errorf("the proposed replacement keeps the original colors")
)

// Validate rejects proposals that would not change anything. When the request
// is about colors or theming, a proposal whose literal color tokens match the
// target's is a restatement, not a change.
func Validate(c Candidate, target Target, colorSensitive bool) error {
	if strings.TrimSpace(c.Proposed) == "" {
		return ErrEmptyProposal
	}
	if c.Proposed == target.Content {
		return ErrNoChange
	}
	if colorSensitive && colorSetsEqual(ColorTokens(c.Proposed), ColorTokens(target.Content)) {
		return ErrColorsUnchanged
	}
	return nil
}

var (
	hexColorRe  = regexp.MustCompile(`#(?:[0-9a-fA-F]{8}|[0-9a-fA-F]{6}|[0-9a-fA-F]{3,4})\b`)
	funcColorRe = regexp.MustCompile(`(?i)\b(?:rgba?|hsla?)\(\s*[^)]*\)`)
	spaceRe     = regexp.MustCompile(`\s+`)

	namedColors = []string{
		// Longest first so alternation prefers the full name.
		"midnightblue", "springgreen", "greenyellow", "forestgreen", "lightyellow",
		"dodgerblue", "lightgreen", "orangered", "steelblue", "aquamarine",
		"chartreuse", "darkorange", "darkviolet", "deepskyblue", "whitesmoke",
		"darkgreen", "firebrick", "gainsboro", "goldenrod", "lightblue",
		"lightgray", "limegreen", "royalblue", "seagreen", "slateblue",
		"slategray", "turquoise", "darkblue", "darkgray", "deeppink",
		"hotpink", "lavender", "honeydew", "seashell", "cornsilk",
		"darkred", "crimson", "fuchsia", "magenta", "skyblue",
		"thistle", "salmon", "silver", "tomato", "bisque",
		"indigo", "maroon", "orchid", "purple", "violet",
		"yellow", "azure", "beige", "black", "brown",
		"coral", "green", "ivory", "khaki", "linen",
		"olive", "wheat", "white", "aqua", "blue",
		"cyan", "gold", "gray", "lime", "navy",
		"pink", "plum", "teal", "red", "tan",
	}

	namedColorRe = regexp.MustCompile(`(?i)\b(` + strings.Join(namedColors, "|") + `)\b`)
)

// ColorTokens collects the normalized literal color tokens in s: hex values
// (short forms expanded), rgb/rgba/hsl/hsla calls (whitespace collapsed), and
// named CSS colors.
func ColorTokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range hexColorRe.FindAllString(s, -1) {
		set[expandHex(strings.ToLower(m))] = struct{}{}
	}
	for _, m := range funcColorRe.FindAllString(s, -1) {
		set[spaceRe.ReplaceAllString(strings.ToLower(m), "")] = struct{}{}
	}
	for _, m := range namedColorRe.FindAllString(s, -1) {
		set[strings.ToLower(m)] = struct{}{}
	}
	return set
}

// expandHex widens #abc to #aabbcc and #abcd to #aabbccdd so equivalent
// spellings compare equal.
func expandHex(hex string) string {
	digits := hex[1:]
	if len(digits) != 3 && len(digits) != 4 {
		return hex
	}
	var b strings.Builder
	b.WriteByte('#')
	for i := 0; i < len(digits); i++ {
		b.WriteByte(digits[i])
		b.WriteByte(digits[i])
	}
	return b.String()
}

func colorSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for token := range a {
		if _, ok := b[token]; !ok {
			return false
		}
	}
	return true
}

// SortedColorTokens is ColorTokens flattened for messages and tests.
func SortedColorTokens(s string) []string {
	set := ColorTokens(s)
	out := make([]string, 0, len(set))
	for token := range set {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}
