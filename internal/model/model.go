// Package model holds the plain data types shared across the harvest engine.
package model

import (
	"strconv"
	"time"
)

// Family distinguishes the two content channels the catalog serves.
type Family string

const (
	// SUHA is the painting family.
	SUHA Family = "SUHA"
	// SUFA is the calligraphy family.
	SUFA Family = "SUFA"
)

// Key returns the lowercase JSON key this family is nested under in
// resource/sub-list payloads ("suha" or "sufa").
func (f Family) Key() string {
	if f == SUFA {
		return "sufa"
	}
	return "suha"
}

// Work is one artist's catalog entry, immutable once fetched.
type Work struct {
	WorkID      string
	DisplayName string
	Family      Family
}

// Resource is a sub-resource of a Work, expanded from the sub-list endpoint.
type Resource struct {
	ResourceID  string
	DisplayName string
	Family      Family
	WorkID      string
}

// Variant is one selectable image of a Resource.
type Variant struct {
	VariantID   string
	DisplayName string
	Family      Family
	ResourceID  string
	WorkID      string
}

// Tile is a single downloaded JPEG fragment.
type Tile struct {
	VariantID string
	X, Y      int
	Bytes     []byte
}

// PoolKind distinguishes the primary (catalog) and secondary (tile) session
// pools so that rotation logic replaces the right slot.
type PoolKind int

const (
	// Primary sessions serve catalog/metadata calls, one per artist worker.
	Primary PoolKind = iota
	// Secondary sessions serve tile downloads, round-robined.
	Secondary
)

func (k PoolKind) String() string {
	if k == Secondary {
		return "secondary"
	}
	return "primary"
}

// CompletionMarkerName is the sentinel file recording that a subtree has
// been fully harvested.
const CompletionMarkerName = ".completed"

// MarkerTimestamp renders a marker file's payload: seconds since epoch,
// as decimal text.
func MarkerTimestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
