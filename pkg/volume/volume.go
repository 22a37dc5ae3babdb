// Package volume provides the dense N-dimensional image volume used by the
// catalog's read and write paths. A volume is a stack of equally sized 2-D
// spatial slices, optionally replicated along additional non-spatial axes
// such as acquisition time or echo index.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Slice is a single 2-D spatial slice together with its physical position
// along the slice-ordering axis.
type Slice struct {
	// Data holds the pixel values as a dense matrix.
	Data *mat.Dense

	// Location is the physical position of the slice along the spatial
	// axis, typically the SliceLocation attribute of the source instance.
	Location float64
}

// Volume is a dense volume of 3 or more dimensions. The first three
// dimensions are spatial; any further dimensions are non-spatial grouping
// axes described by Dims and Coords.
type Volume struct {
	// frames holds the spatial slices in combination-major order: for
	// non-spatial combination k, frames[k*nz : (k+1)*nz] are its slices in
	// spatial order.
	frames []*Slice

	// nz is the number of spatial slices per non-spatial combination.
	nz int

	// extraShape is the size of each non-spatial axis, empty for a 3-D
	// volume.
	extraShape []int

	// dims names the non-spatial axes.
	dims []string

	// coords holds, per non-spatial axis, the sorted distinct coordinate
	// values along that axis.
	coords [][]float64

	// extraVals is only set on sub-volumes produced by Separate: the
	// non-spatial coordinate tuple of this sub-volume.
	extraVals []float64
}

// Stack joins spatial slices into a 3-D volume. The slices must all have
// the same dimensions and are kept in the given order.
func Stack(slices []*Slice) (*Volume, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("cannot stack an empty slice list")
	}
	r0, c0 := slices[0].Data.Dims()
	for i, sl := range slices[1:] {
		r, c := sl.Data.Dims()
		if r != r0 || c != c0 {
			return nil, fmt.Errorf("cannot stack slice %d: size %dx%d does not match %dx%d", i+1, r, c, r0, c0)
		}
	}
	return &Volume{frames: slices, nz: len(slices)}, nil
}

// Join combines 3-D sub-volumes into one volume with the given non-spatial
// shape. The sub-volumes are taken in row-major order over shape and must
// agree on slice count and slice dimensions. With an empty shape the single
// input volume is returned unchanged.
func Join(vols []*Volume, shape []int) (*Volume, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("cannot join an empty volume list")
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(vols) {
		return nil, fmt.Errorf("cannot join %d volumes into shape %v", len(vols), shape)
	}
	if len(shape) == 0 {
		return vols[0], nil
	}
	nz := vols[0].nz
	frames := make([]*Slice, 0, n*nz)
	for i, v := range vols {
		if v.NDim() != 3 {
			return nil, fmt.Errorf("cannot join volume %d: expected 3 dimensions, got %d", i, v.NDim())
		}
		if v.nz != nz {
			return nil, fmt.Errorf("cannot join volume %d: %d slices, expected %d", i, v.nz, nz)
		}
		frames = append(frames, v.frames...)
	}
	return &Volume{frames: frames, nz: nz, extraShape: append([]int(nil), shape...)}, nil
}

// NDim returns the number of dimensions: 3 plus one per non-spatial axis.
func (v *Volume) NDim() int {
	return 3 + len(v.extraShape)
}

// Shape returns the slice count followed by the non-spatial axis sizes.
func (v *Volume) Shape() []int {
	shape := make([]int, 0, 1+len(v.extraShape))
	shape = append(shape, v.nz)
	return append(shape, v.extraShape...)
}

// Split breaks a 3-D volume back into its ordered spatial slices.
func (v *Volume) Split() ([]*Slice, error) {
	if v.NDim() != 3 {
		return nil, fmt.Errorf("cannot split a %d-dimensional volume, separate it first", v.NDim())
	}
	return append([]*Slice(nil), v.frames...), nil
}

// Separate breaks an N-D volume into its 3-D sub-volumes, one per
// non-spatial combination in row-major order. Each sub-volume keeps the
// axis names and its own coordinate tuple for stamping written instances.
func (v *Volume) Separate() ([]*Volume, error) {
	if v.NDim() == 3 {
		return nil, fmt.Errorf("cannot separate a 3-dimensional volume")
	}
	n := len(v.frames) / v.nz
	subs := make([]*Volume, n)
	for k := 0; k < n; k++ {
		subs[k] = &Volume{
			frames:    v.frames[k*v.nz : (k+1)*v.nz],
			nz:        v.nz,
			dims:      v.dims,
			extraVals: v.comboTuple(k),
		}
	}
	return subs, nil
}

// comboTuple unravels combination index k into its per-axis coordinate
// values. Returns nil when coordinates were never set.
func (v *Volume) comboTuple(k int) []float64 {
	if len(v.coords) != len(v.extraShape) || len(v.coords) == 0 {
		return nil
	}
	tuple := make([]float64, len(v.extraShape))
	for ax := len(v.extraShape) - 1; ax >= 0; ax-- {
		size := v.extraShape[ax]
		tuple[ax] = v.coords[ax][k%size]
		k /= size
	}
	return tuple
}

// SetDims names the non-spatial axes. The count must match the shape.
func (v *Volume) SetDims(dims []string) error {
	if len(dims) != len(v.extraShape) {
		return fmt.Errorf("got %d axis names for %d non-spatial axes", len(dims), len(v.extraShape))
	}
	v.dims = append([]string(nil), dims...)
	return nil
}

// SetCoords attaches the distinct coordinate values of each non-spatial
// axis. The lengths must match the shape.
func (v *Volume) SetCoords(coords [][]float64) error {
	if len(coords) != len(v.extraShape) {
		return fmt.Errorf("got coordinates for %d axes, volume has %d non-spatial axes", len(coords), len(v.extraShape))
	}
	for i, c := range coords {
		if len(c) != v.extraShape[i] {
			return fmt.Errorf("axis %d has %d coordinate values, expected %d", i, len(c), v.extraShape[i])
		}
	}
	v.coords = make([][]float64, len(coords))
	for i, c := range coords {
		v.coords[i] = append([]float64(nil), c...)
	}
	return nil
}

// Dims returns the non-spatial axis names.
func (v *Volume) Dims() []string {
	return append([]string(nil), v.dims...)
}

// Coords returns the distinct coordinate values per non-spatial axis.
func (v *Volume) Coords() [][]float64 {
	out := make([][]float64, len(v.coords))
	for i, c := range v.coords {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// DimValues returns the non-spatial axis names and, for a sub-volume
// produced by Separate, the coordinate tuple of this sub-volume.
func (v *Volume) DimValues() ([]string, []float64) {
	return v.Dims(), append([]float64(nil), v.extraVals...)
}

// Locations returns the spatial positions of the slices of the first
// non-spatial combination.
func (v *Volume) Locations() []float64 {
	locs := make([]float64, v.nz)
	for i := 0; i < v.nz; i++ {
		locs[i] = v.frames[i].Location
	}
	return locs
}
