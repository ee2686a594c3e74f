package diff

import (
	"crypto/sha256"
	"encoding/hex"
)

// ImageResult classifies a profile picture transition.
type ImageResult string

const (
	// ImageUnchanged means the current picture matches the previous one.
	ImageUnchanged ImageResult = "unchanged"

	// ImageChanged means the picture differs from the previous one.
	ImageChanged ImageResult = "changed"

	// ImageBecameEmpty means a real picture was replaced by the platform's
	// empty/default picture.
	ImageBecameEmpty ImageResult = "became_empty"

	// ImageBecamePresent means the empty/default picture was replaced by a
	// real one.
	ImageBecamePresent ImageResult = "became_present"

	// ImageFirstSet means there was no previous picture; the current one
	// establishes the baseline.
	ImageFirstSet ImageResult = "first_set"
)

// Fingerprinter decides whether a binary image artifact changed.
//
// Comparison is exact content equality via sha256 — profile pictures either
// match byte for byte or they do not; there is no perceptual matching.
//
// The fingerprinter is pure comparison logic with no I/O. Retaining the old
// artifact on a change is the caller's responsibility and must happen before
// the current artifact reference is replaced.
type Fingerprinter struct{}

// NewFingerprinter creates a new image fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Classify compares the current picture bytes against the previous ones.
//
// If emptyTemplate is non-nil and current matches it, the picture counts as
// empty regardless of previous: template → non-template is BecamePresent,
// the reverse is BecameEmpty. A nil previous yields FirstSet, not Changed.
func (f *Fingerprinter) Classify(previous, current, emptyTemplate []byte) ImageResult {
	curHash := Fingerprint(current)

	var templateHash string
	if emptyTemplate != nil {
		templateHash = Fingerprint(emptyTemplate)
	}

	currentEmpty := templateHash != "" && curHash == templateHash

	if previous == nil {
		return ImageFirstSet
	}

	prevHash := Fingerprint(previous)
	previousEmpty := templateHash != "" && prevHash == templateHash

	switch {
	case prevHash == curHash:
		return ImageUnchanged
	case currentEmpty && !previousEmpty:
		return ImageBecameEmpty
	case previousEmpty && !currentEmpty:
		return ImageBecamePresent
	default:
		return ImageChanged
	}
}

// Fingerprint returns the hex-encoded sha256 digest of the image bytes.
// The digest is what snapshots persist as PictureHash.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
