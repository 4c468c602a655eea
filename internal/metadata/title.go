package metadata

import (
	"path/filepath"
	"strings"
)

// separators are ignored when matching a file name against its directory
const separators = "-_ "

// normalize lower-cases s and drops every separator
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if !strings.ContainsRune(separators, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveTitle builds a display title from a file name for mixes without a
// title tag. When the name starts with the directory (artist) name, ignoring
// case and separators, that prefix is cut off:
//
//	DeriveTitle("DJSmith", "DJSmith-SummerSet.mp3")  == "SummerSet"
//	DeriveTitle("DJ Smith", "dj_smith - Live 2019")  == "Live 2019"
//	DeriveTitle("Other", "Just-AMixName.mp3")        == "Just AMixName"
//
// If nothing remains after the prefix the whole name is used.
func DeriveTitle(directory, filename string) string {
	display := strings.ReplaceAll(strings.TrimSuffix(filename, filepath.Ext(filename)), "_", " ")
	whole := strings.ReplaceAll(display, "-", " ")

	prefix := normalize(directory)
	if !strings.HasPrefix(normalize(display), prefix) {
		return whole
	}

	cut := prefixEnd([]rune(strings.ToLower(display)), []rune(prefix))
	runes := []rune(display)
	for cut < len(runes) && strings.ContainsRune(separators, runes[cut]) {
		cut++
	}

	remainder := strings.ReplaceAll(strings.TrimSpace(string(runes[cut:])), "-", " ")
	if remainder == "" {
		return whole
	}
	return remainder
}

// prefixEnd walks s matching the separator-free prefix one rune at a time,
// skipping separators in s, and returns the index just past the last rune
// that matched.
func prefixEnd(s, prefix []rune) int {
	matched, end := 0, 0
	for i, r := range s {
		if matched == len(prefix) {
			break
		}
		if strings.ContainsRune(separators, r) {
			continue
		}
		if r == prefix[matched] {
			matched++
			end = i + 1
		}
	}
	return end
}
