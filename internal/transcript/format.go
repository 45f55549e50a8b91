package transcript

import "strings"

// FormatTurn folds a batch into one conversational turn, one
// "<speaker>: <text>" line per segment. Segments with blank text are
// skipped; the result is empty when every segment was blank.
func FormatTurn(segs []Segment) string {
	lines := make([]string, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		speaker := s.Speaker
		if speaker == "" {
			speaker = "UNKNOWN"
		}
		lines = append(lines, speaker+": "+text)
	}
	return strings.Join(lines, "\n")
}

// IDs returns the row ids of segs in order.
func IDs(segs []Segment) []uint64 {
	ids := make([]uint64, 0, len(segs))
	for _, s := range segs {
		ids = append(ids, s.ID)
	}
	return ids
}
