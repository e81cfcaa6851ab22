// Package points owns the registered delivery points: the in-memory
// collection, id assignment, schema normalization of persisted snapshots and
// the single keyed blob they are saved to.
package points

import (
	"errors"
	"fmt"
)

// Kind of building at a delivery point.
type Kind string

const (
	House     Kind = "house"
	Apartment Kind = "apartment"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == House || k == Apartment
}

// Paper is the newspaper brand delivered to a point. PaperNone means unassigned
// and is persisted as JSON null.
type Paper string

const (
	PaperNone Paper = ""
	Mainichi  Paper = "mainichi"
	Asahi     Paper = "asahi"
	Nikkei    Paper = "nikkei"
)

// Valid reports whether p is a known brand or unassigned.
func (p Paper) Valid() bool {
	switch p {
	case PaperNone, Mainichi, Asahi, Nikkei:
		return true
	}
	return false
}

// Point is a registered delivery destination. Points are immutable once
// created; the store only ever adds or removes them.
type Point struct {
	ID    int     `json:"id"`
	Kind  Kind    `json:"kind"`
	Name  string  `json:"name"`
	Room  string  `json:"room"`
	Chome string  `json:"chome"`
	Note  string  `json:"note"`
	Paper Paper   `json:"paper"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	// Photo is an inline data URL, nil when the point has no photo.
	Photo *string `json:"photo"`
}

// HasPhoto reports whether a photo payload is attached.
func (p Point) HasPhoto() bool {
	return p.Photo != nil && *p.Photo != ""
}

// Candidate is the unvalidated input of Store.Add (the registration form).
type Candidate struct {
	Kind  Kind
	Name  string
	Room  string
	Chome string
	Note  string
	Paper Paper
	Lat   float64
	Lng   float64
	Photo *string
}

// Record is the persisted shape of a point. It mirrors Point field for field;
// paper and photo are written as null when unset.
type Record struct {
	ID    int     `json:"id"`
	Kind  Kind    `json:"kind"`
	Name  string  `json:"name"`
	Room  string  `json:"room"`
	Chome string  `json:"chome"`
	Note  string  `json:"note"`
	Paper *string `json:"paper"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Photo *string `json:"photo"`
}

// RawRecord is a loosely typed persisted record as read back from storage.
// Optional fields are pointers so an absent field can be told apart and
// defaulted; snapshots written before chome, note, photo or paper existed
// simply lack them.
type RawRecord struct {
	ID    int     `json:"id"`
	Kind  Kind    `json:"kind"`
	Name  string  `json:"name"`
	Room  string  `json:"room"`
	Chome *string `json:"chome,omitempty"`
	Note  *string `json:"note,omitempty"`
	Paper *string `json:"paper,omitempty"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Photo *string `json:"photo,omitempty"`
}

// Sentinel errors.
var (
	// ErrStorageParse marks a persisted snapshot that could not be decoded.
	ErrStorageParse = errors.New("points: unparseable snapshot")
	// ErrPersist wraps a failed snapshot write. The in-memory mutation is kept.
	ErrPersist = errors.New("points: persist failed")
	// ErrPhotoRead marks a photo that could not be read or recognised.
	ErrPhotoRead = errors.New("points: photo read failed")
)

// ValidationError rejects a Candidate; the store is left untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (p Point) record() Record {
	r := Record{
		ID:    p.ID,
		Kind:  p.Kind,
		Name:  p.Name,
		Room:  p.Room,
		Chome: p.Chome,
		Note:  p.Note,
		Lat:   p.Lat,
		Lng:   p.Lng,
	}
	if p.Paper != PaperNone {
		s := string(p.Paper)
		r.Paper = &s
	}
	if p.HasPhoto() {
		s := *p.Photo
		r.Photo = &s
	}
	return r
}
