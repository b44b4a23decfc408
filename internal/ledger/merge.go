package ledger

// Merge appends to existing every incoming line whose natural key is not
// already present and returns the merged ledger with the number accepted.
//
// Existing rows keep their order and content. A key repeated inside incoming
// is accepted once, so merging the same batch twice equals merging it once.
// existing is never modified; the result is a fresh slice.
func Merge(existing, incoming []OrderLine) ([]OrderLine, int) {
	seen := make(map[Key]struct{}, len(existing)+len(incoming))
	merged := make([]OrderLine, 0, len(existing)+len(incoming))
	for _, line := range existing {
		seen[line.Key()] = struct{}{}
		merged = append(merged, line)
	}

	accepted := 0
	for _, line := range incoming {
		k := line.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, line)
		accepted++
	}
	return merged, accepted
}

// NewLines returns the lines Merge would append, in order.
func NewLines(existing, incoming []OrderLine) []OrderLine {
	merged, accepted := Merge(existing, incoming)
	return merged[len(merged)-accepted:]
}
