// Package ownership computes added/removed owner label sets between two
// versions of an objective's owner list.
package ownership

// Diff holds the labels gained and lost by a mutation. Comparison is by
// exact string; label normalization happens only in the directory resolver.
type Diff struct {
	Added   []string
	Removed []string
}

// Empty reports whether the mutation changed no ownership.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Compute returns next minus previous as Added and previous minus next as
// Removed. A label present in both lists lands in neither. Repeated labels
// within one list are kept per occurrence; callers are expected to pass
// deduplicated lists.
func Compute(previous, next []string) Diff {
	prevSet := toSet(previous)
	nextSet := toSet(next)

	var diff Diff
	for _, label := range next {
		if _, ok := prevSet[label]; !ok {
			diff.Added = append(diff.Added, label)
		}
	}
	for _, label := range previous {
		if _, ok := nextSet[label]; !ok {
			diff.Removed = append(diff.Removed, label)
		}
	}
	return diff
}

func toSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		set[label] = struct{}{}
	}
	return set
}
