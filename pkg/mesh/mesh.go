// Package mesh reconstructs a dense coordinate grid from an unordered
// collection of tagged 2-D slices, and flattens an assembled volume back
// into ordered slices. The first component of every coordinate tuple is the
// spatial ordering key (the physical slice position); the remaining
// components are non-spatial grouping axes.
package mesh

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"dicomvault/pkg/volume"
)

// ErrIncompleteGrid reports that the coordinate tuples do not form a
// complete, duplicate-free grid.
var ErrIncompleteGrid = errors.New("incomplete slice grid")

// ErrGeometryInconsistency reports that not all non-spatial combinations
// share the same spatial sampling.
var ErrGeometryInconsistency = errors.New("inconsistent slice geometry")

// Entry is one flattened slice: its full coordinate tuple and its payload.
type Entry struct {
	Coords []float64
	Data   *mat.Dense
}

// Grid is the ordering derived from a set of coordinate tuples. The grid
// groups slices by their non-spatial coordinate combination and sorts each
// group by spatial position.
type Grid struct {
	// nz is the number of slices per non-spatial combination.
	nz int

	// axes holds the sorted distinct values of each non-spatial axis.
	axes [][]float64

	// spatial holds, per combination in row-major axis order, the sorted
	// spatial positions of its slices.
	spatial [][]float64

	// order maps grid cell (combination-major, spatial-minor) to the index
	// of the input slice occupying it.
	order []int
}

// Build derives the grid implied by the given coordinate tuples. All tuples
// must have the same length, with at least the spatial component. Build
// fails with ErrIncompleteGrid when the tuples do not cover every
// combination of non-spatial values with the same number of distinct
// spatial positions, or when two tuples are identical.
func Build(tuples [][]float64) (*Grid, error) {
	if len(tuples) == 0 {
		return nil, fmt.Errorf("%w: no slices", ErrIncompleteGrid)
	}
	width := len(tuples[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: empty coordinate tuples", ErrIncompleteGrid)
	}
	for i, t := range tuples {
		if len(t) != width {
			return nil, fmt.Errorf("%w: tuple %d has %d components, expected %d", ErrIncompleteGrid, i, len(t), width)
		}
	}

	axes := make([][]float64, width-1)
	for ax := range axes {
		axes[ax] = distinctSorted(tuples, ax+1)
	}
	combos := 1
	for _, vals := range axes {
		combos *= len(vals)
	}
	if len(tuples)%combos != 0 {
		return nil, fmt.Errorf("%w: %d slices cannot fill %d combinations of non-spatial values", ErrIncompleteGrid, len(tuples), combos)
	}
	nz := len(tuples) / combos

	// Group slice indices by non-spatial combination.
	groups := make([][]int, combos)
	for i, t := range tuples {
		k := 0
		for ax, vals := range axes {
			k = k*len(vals) + indexOf(vals, t[ax+1])
		}
		groups[k] = append(groups[k], i)
	}

	g := &Grid{
		nz:      nz,
		axes:    axes,
		spatial: make([][]float64, combos),
		order:   make([]int, 0, len(tuples)),
	}
	for k, group := range groups {
		if len(group) != nz {
			return nil, fmt.Errorf("%w: combination %v has %d slices, expected %d", ErrIncompleteGrid, g.comboValues(k), len(group), nz)
		}
		sort.Slice(group, func(a, b int) bool {
			return tuples[group[a]][0] < tuples[group[b]][0]
		})
		locs := make([]float64, nz)
		for z, idx := range group {
			locs[z] = tuples[idx][0]
		}
		for z := 1; z < nz; z++ {
			if locs[z] == locs[z-1] {
				return nil, fmt.Errorf("%w: duplicate slice at position %g in combination %v", ErrIncompleteGrid, locs[z], g.comboValues(k))
			}
		}
		g.spatial[k] = locs
		g.order = append(g.order, group...)
	}
	return g, nil
}

// CheckGeometry verifies that every non-spatial combination samples the
// same spatial positions as the first one.
func (g *Grid) CheckGeometry() error {
	for k := 1; k < len(g.spatial); k++ {
		for z, loc := range g.spatial[k] {
			if loc != g.spatial[0][z] {
				return fmt.Errorf("%w: combination %v has slice position %g where the first combination has %g",
					ErrGeometryInconsistency, g.comboValues(k), loc, g.spatial[0][z])
			}
		}
	}
	return nil
}

// Shape returns the slice count followed by the non-spatial axis sizes.
func (g *Grid) Shape() []int {
	shape := []int{g.nz}
	for _, vals := range g.axes {
		shape = append(shape, len(vals))
	}
	return shape
}

// Axes returns the sorted distinct values of each non-spatial axis.
func (g *Grid) Axes() [][]float64 {
	out := make([][]float64, len(g.axes))
	for i, vals := range g.axes {
		out[i] = append([]float64(nil), vals...)
	}
	return out
}

// Order returns, cell by cell in combination-major order, the index of the
// input slice occupying that cell.
func (g *Grid) Order() []int {
	return append([]int(nil), g.order...)
}

// comboValues unravels combination index k into its axis values, for error
// messages.
func (g *Grid) comboValues(k int) []float64 {
	vals := make([]float64, len(g.axes))
	for ax := len(g.axes) - 1; ax >= 0; ax-- {
		vals[ax] = g.axes[ax][k%len(g.axes[ax])]
		k /= len(g.axes[ax])
	}
	return vals
}

// Assemble places the given slices on the grid implied by their coordinate
// tuples and joins them into one validated volume. The axis names in dims
// label the non-spatial tuple components and are attached, together with
// the axis coordinate values, when the result has more than 3 dimensions.
func Assemble(tuples [][]float64, slices []*mat.Dense, dims []string) (*volume.Volume, error) {
	if len(tuples) != len(slices) {
		return nil, fmt.Errorf("%w: %d coordinate tuples for %d slices", ErrIncompleteGrid, len(tuples), len(slices))
	}
	grid, err := Build(tuples)
	if err != nil {
		return nil, err
	}
	if err := grid.CheckGeometry(); err != nil {
		return nil, err
	}

	order := grid.Order()
	combos := len(order) / grid.nz
	subs := make([]*volume.Volume, combos)
	for k := 0; k < combos; k++ {
		stacked := make([]*volume.Slice, grid.nz)
		for z := 0; z < grid.nz; z++ {
			idx := order[k*grid.nz+z]
			stacked[z] = &volume.Slice{Data: slices[idx], Location: tuples[idx][0]}
		}
		sub, err := volume.Stack(stacked)
		if err != nil {
			return nil, err
		}
		subs[k] = sub
	}

	shape := grid.Shape()[1:]
	vol, err := volume.Join(subs, shape)
	if err != nil {
		return nil, err
	}
	if vol.NDim() > 3 {
		if err := vol.SetDims(dims); err != nil {
			return nil, err
		}
		if err := vol.SetCoords(grid.Axes()); err != nil {
			return nil, err
		}
	}
	return vol, nil
}

// Disassemble flattens a volume back into slices with full coordinate
// tuples. The tuples of a volume produced by Assemble are exactly the
// original input set, though not necessarily in the original order.
func Disassemble(vol *volume.Volume) ([]Entry, error) {
	if vol.NDim() == 3 {
		slices, err := vol.Split()
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, len(slices))
		for i, sl := range slices {
			entries[i] = Entry{Coords: []float64{sl.Location}, Data: sl.Data}
		}
		return entries, nil
	}

	subs, err := vol.Separate()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, sub := range subs {
		slices, err := sub.Split()
		if err != nil {
			return nil, err
		}
		_, extra := sub.DimValues()
		for _, sl := range slices {
			coords := append([]float64{sl.Location}, extra...)
			entries = append(entries, Entry{Coords: coords, Data: sl.Data})
		}
	}
	return entries, nil
}

func distinctSorted(tuples [][]float64, component int) []float64 {
	seen := make(map[float64]struct{})
	var vals []float64
	for _, t := range tuples {
		v := t[component]
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

func indexOf(vals []float64, v float64) int {
	return sort.SearchFloat64s(vals, v)
}
