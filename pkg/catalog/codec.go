package catalog

import (
	"gonum.org/v1/gonum/mat"

	"dicomvault/pkg/volume"
)

// Codec loads and stores individual instance files. The catalog treats the
// file format as opaque: it only requires attribute access, pixel payload
// extraction, and multiframe conversion. Implementations must be safe for
// concurrent reads, which happen during the rebuild scan.
type Codec interface {
	// Read loads the instance file at the given absolute path into an
	// in-memory dataset.
	Read(path string) (Dataset, error)

	// NewDataset returns an empty dataset to use as a write template when
	// no reference instance is available.
	NewDataset() Dataset

	// Write stores the dataset as a new instance file at the given
	// absolute path, creating parent directories as needed.
	Write(ds Dataset, path string) error

	// NewUID returns a fresh globally unique identifier.
	NewUID() string

	// SplitMultiframe converts a multiframe instance file into
	// single-frame files next to the original and returns their absolute
	// paths. An empty result signals a failed conversion.
	SplitMultiframe(path string) ([]string, error)
}

// Dataset is one instance file held in memory: named attributes plus the
// pixel payload.
type Dataset interface {
	// Value returns the named attribute's value and whether it is present.
	// Values are strings, ints or float64s depending on the attribute.
	Value(name string) (any, bool)

	// SetValue sets a named attribute.
	SetValue(name string, value any)

	// PixelData returns the raw 2-D pixel payload.
	PixelData() (*mat.Dense, error)

	// ExtractSlice returns the instance as a positioned spatial slice. The
	// multislice flag selects slice-gap rather than slice-thickness
	// geometry and is forwarded opaquely.
	ExtractSlice(multislice bool) (*volume.Slice, error)

	// ApplySlice replaces the instance's pixel payload and spatial
	// position with the given slice.
	ApplySlice(sl *volume.Slice, multislice bool) error
}
