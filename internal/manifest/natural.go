package manifest

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

var digitRun = regexp.MustCompile(`\d+`)

// naturalKey splits s into alternating text and digit runs. The text parts
// are lower-cased; the slice always starts with a (possibly empty) text part.
func naturalKey(s string) []string {
	var parts []string
	last := 0
	for _, loc := range digitRun.FindAllStringIndex(s, -1) {
		parts = append(parts, strings.ToLower(s[last:loc[0]]), s[loc[0]:loc[1]])
		last = loc[1]
	}
	return append(parts, strings.ToLower(s[last:]))
}

// compareDigits compares two digit runs by numeric value
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// NaturalLess orders strings so that digit runs compare as numbers and text
// compares case-insensitively: "Mix 2" < "Mix 10".
func NaturalLess(a, b string) bool {
	ka, kb := naturalKey(a), naturalKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		var c int
		if i%2 == 1 {
			c = compareDigits(ka[i], kb[i])
		} else {
			c = strings.Compare(ka[i], kb[i])
		}
		if c != 0 {
			return c < 0
		}
	}
	return len(ka) < len(kb)
}

// NaturalSort sorts names in place; equal keys keep their order
func NaturalSort(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return NaturalLess(names[i], names[j])
	})
}

// FormatDuration renders seconds as H:MM:SS
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
}
