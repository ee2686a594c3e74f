package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/profilewatch/profilewatch-go/pkg/diff"
)

func TestFingerprinter_Classify_FirstSet(t *testing.T) {
	f := diff.NewFingerprinter()

	result := f.Classify(nil, []byte("picture"), nil)
	assert.Equal(t, diff.ImageFirstSet, result)
}

func TestFingerprinter_Classify_Unchanged(t *testing.T) {
	f := diff.NewFingerprinter()

	result := f.Classify([]byte("picture"), []byte("picture"), nil)
	assert.Equal(t, diff.ImageUnchanged, result)
}

func TestFingerprinter_Classify_Changed(t *testing.T) {
	f := diff.NewFingerprinter()

	result := f.Classify([]byte("old picture"), []byte("new picture"), nil)
	assert.Equal(t, diff.ImageChanged, result)
}

func TestFingerprinter_Classify_BecameEmpty(t *testing.T) {
	f := diff.NewFingerprinter()

	empty := []byte("default avatar")
	result := f.Classify([]byte("real picture"), empty, empty)
	assert.Equal(t, diff.ImageBecameEmpty, result)
}

func TestFingerprinter_Classify_BecamePresent(t *testing.T) {
	f := diff.NewFingerprinter()

	empty := []byte("default avatar")
	result := f.Classify(empty, []byte("real picture"), empty)
	assert.Equal(t, diff.ImageBecamePresent, result)
}

func TestFingerprinter_Classify_TemplateWithoutMatch(t *testing.T) {
	f := diff.NewFingerprinter()

	// Neither side matches the template, so the transition is a plain change.
	empty := []byte("default avatar")
	result := f.Classify([]byte("one"), []byte("two"), empty)
	assert.Equal(t, diff.ImageChanged, result)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := diff.Fingerprint([]byte("picture"))
	b := diff.Fingerprint([]byte("picture"))
	c := diff.Fingerprint([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
