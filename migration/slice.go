package migration

// SliceBy splits items into contiguous groups. The first item always starts a
// group, and every following item starts a new one if split(previous, current)
// returns true.
func SliceBy[T any](items []T, split func(prev, cur T) bool) [][]T {
	var (
		groups [][]T
		start  int
	)
	for i := 1; i < len(items); i++ {
		if split(items[i-1], items[i]) {
			groups = append(groups, items[start:i:i])
			start = i
		}
	}
	if len(items) > 0 {
		groups = append(groups, items[start:])
	}

	return groups
}
