package points

// dedupeByID returns a new slice keeping only the first record for each id,
// preserving order. The input slice is not modified. Ids must stay unique in
// the store, and hand-merged or imported snapshots are the only way a repeat
// can appear.
func dedupeByID(in []RawRecord) ([]RawRecord, int) {
	if len(in) <= 1 {
		// Nothing to dedupe.
		return append([]RawRecord(nil), in...), 0
	}
	seen := make(map[int]struct{}, len(in))
	out := make([]RawRecord, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out, len(in) - len(out)
}
