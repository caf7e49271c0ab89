// Package mention extracts @-mention labels from free text.
package mention

import (
	"regexp"
	"strings"
)

// A mention is "@" followed by a word of letters, digits, dots, underscores
// or hyphens, optionally followed by one more such word separated by a
// single space (covering "@First Last"). This is a deliberately loose
// heuristic: prose directly after a one-word mention can be absorbed as the
// second token ("@Ada is done" yields "Ada is").
var pattern = regexp.MustCompile(`@([A-Za-z0-9._-]+(?: [A-Za-z0-9._-]+)?)`)

// Extract returns the mention labels in order of first appearance, with
// trailing punctuation stripped and duplicates removed. Case is preserved as
// authored; labels are stored verbatim and matched case-insensitively later.
func Extract(message string) []string {
	matches := pattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	labels := make([]string, 0, len(matches))
	for _, match := range matches {
		label := strings.TrimRight(match[1], ".,!?")
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}
