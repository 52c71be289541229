package sqlite

import "github.com/sandevgo/tuskmem/internal/core"

// LegacyDimensions is recorded for stores written before the width was
// tracked. Those stores were built with 384-wide MiniLM embeddings.
const LegacyDimensions = 384

// ResolveDimensions applies the open-time rules shared by every store role:
//
//	stored and requested, different -> mismatch error
//	stored only                     -> stored
//	requested only                  -> requested (caller records it)
//	neither                         -> 0 if deferral is allowed, else error
func ResolveDimensions(stored, requested int, allowDeferred bool) (int, error) {
	switch {
	case stored > 0 && requested > 0 && stored != requested:
		return 0, &core.DimensionMismatchError{Stored: stored, Requested: requested}
	case stored > 0:
		return stored, nil
	case requested > 0:
		return requested, nil
	case allowDeferred:
		return 0, nil
	default:
		return 0, core.ErrDimensionsUnknown
	}
}
