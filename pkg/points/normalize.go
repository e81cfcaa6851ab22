package points

import (
	"encoding/json"
	"fmt"

	"github.com/rubiojr/deliverymap/pkg/logger"
)

// ParseSnapshot decodes a persisted blob. Any decode failure is reported as
// ErrStorageParse.
func ParseSnapshot(data []byte) ([]RawRecord, error) {
	var raw []RawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageParse, err)
	}
	return raw, nil
}

// Normalize applies the forward-compatible schema migration to loaded
// records: every optional field missing from an older snapshot gets its
// default. It returns the points in input order and the next id to assign,
// max(id)+1 or 1 for an empty input.
//
//	chome -> ""
//	note  -> ""
//	photo -> nil
//	paper -> PaperNone (null)
//	kind  -> house when missing or unknown
func Normalize(raw []RawRecord) ([]Point, int) {
	raw, dropped := dedupeByID(raw)
	if dropped > 0 {
		logger.Warn("points: dropped %d record(s) with a repeated id", dropped)
	}
	out := make([]Point, 0, len(raw))
	maxID := 0
	for _, r := range raw {
		p := Point{
			ID:   r.ID,
			Kind: r.Kind,
			Name: r.Name,
			Room: r.Room,
			Lat:  r.Lat,
			Lng:  r.Lng,
		}
		if !p.Kind.Valid() {
			p.Kind = House
		}
		if p.Kind == House {
			p.Room = ""
		}
		if r.Chome != nil {
			p.Chome = *r.Chome
		}
		if r.Note != nil {
			p.Note = *r.Note
		}
		if r.Paper != nil {
			p.Paper = Paper(*r.Paper)
		}
		if r.Photo != nil && *r.Photo != "" {
			photo := *r.Photo
			p.Photo = &photo
		}
		if p.ID > maxID {
			maxID = p.ID
		}
		out = append(out, p)
	}
	return out, maxID + 1
}
