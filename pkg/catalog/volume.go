package catalog

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"dicomvault/pkg/mesh"
	"dicomvault/pkg/volume"
)

// Re-exported mesh failure kinds, so callers can match assembly errors
// without importing the mesh package.
var (
	ErrIncompleteGrid        = mesh.ErrIncompleteGrid
	ErrGeometryInconsistency = mesh.ErrGeometryInconsistency
)

// Volume assembles the instances of a series into one dense volume. The
// slices are ordered by SliceLocation; dims names additional non-spatial
// axes whose per-instance attribute values extend the coordinate grid
// (acquisition time, echo index, ...). The multislice flag is forwarded to
// the codec's slice extraction. Assembly fails with ErrIncompleteGrid or
// ErrGeometryInconsistency when the instances do not form a complete,
// consistently sampled grid.
func (c *Catalog) Volume(series Address, dims []string, multislice bool) (*volume.Volume, error) {
	files := c.FilesFor(series)
	if len(files) == 0 {
		return nil, fmt.Errorf("no instances under %s", series)
	}
	slog.Info("reading volume", "series", series.String(), "instances", len(files), "dims", dims)

	tuples := make([][]float64, len(files))
	slices := make([]*mat.Dense, len(files))
	for i, f := range files {
		ds, err := c.codec.Read(c.abs(f))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		tuple, err := coordinateTuple(ds, f, dims)
		if err != nil {
			return nil, err
		}
		sl, err := ds.ExtractSlice(multislice)
		if err != nil {
			return nil, fmt.Errorf("failed to extract slice from %s: %w", f, err)
		}
		tuples[i] = tuple
		slices[i] = sl.Data
	}
	return mesh.Assemble(tuples, slices, dims)
}

// PixelData meshes the raw 2-D pixel arrays of a series by the same
// coordinate grid as Volume, without the geometry validation or spatial
// stacking. It returns the arrays in grid order together with the grid
// shape (slice count first) and the distinct values of each non-spatial
// axis.
func (c *Catalog) PixelData(series Address, dims []string) ([]*mat.Dense, []int, [][]float64, error) {
	files := c.FilesFor(series)
	if len(files) == 0 {
		return nil, nil, nil, fmt.Errorf("no instances under %s", series)
	}
	slog.Info("reading pixel data", "series", series.String(), "instances", len(files))

	tuples := make([][]float64, len(files))
	arrays := make([]*mat.Dense, len(files))
	for i, f := range files {
		ds, err := c.codec.Read(c.abs(f))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		tuple, err := coordinateTuple(ds, f, dims)
		if err != nil {
			return nil, nil, nil, err
		}
		data, err := ds.PixelData()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to read pixel data of %s: %w", f, err)
		}
		tuples[i] = tuple
		arrays[i] = data
	}
	grid, err := mesh.Build(tuples)
	if err != nil {
		return nil, nil, nil, err
	}
	ordered := make([]*mat.Dense, len(arrays))
	for cell, idx := range grid.Order() {
		ordered[cell] = arrays[idx]
	}
	return ordered, grid.Shape(), grid.Axes(), nil
}

// WriteVolume disassembles a volume into ordered slices and writes each as
// a new instance of the series. The metadata template comes from the first
// instance of ref when given (opening a separate catalog when ref lies
// under another root), otherwise from a fresh dataset. Instance numbering
// continues from the destination series' maximum, without reset across the
// sub-volumes of a more-than-3-dimensional volume; instances of such
// volumes are additionally stamped with their non-spatial coordinate
// values.
func (c *Catalog) WriteVolume(vol *volume.Volume, series Address, ref *Address, multislice bool) error {
	ds, err := c.templateDataset(ref)
	if err != nil {
		return err
	}
	attrs := c.seriesAttributes(series)
	seriesUID, _ := attrs[AttrSeriesInstanceUID].(string)
	next := c.maxInstanceNumber(seriesUID)
	slog.Info("writing volume", "series", series.String(), "shape", vol.Shape())

	if vol.NDim() == 3 {
		slices, err := vol.Split()
		if err != nil {
			return err
		}
		for i, sl := range slices {
			if err := ds.ApplySlice(sl, multislice); err != nil {
				return fmt.Errorf("failed to apply slice %d: %w", i, err)
			}
			if err := c.writeDataset(ds, attrs, next+1+i); err != nil {
				return err
			}
		}
		return nil
	}

	subs, err := vol.Separate()
	if err != nil {
		return err
	}
	written := 0
	for _, sub := range subs {
		slices, err := sub.Split()
		if err != nil {
			return err
		}
		names, values := sub.DimValues()
		for _, sl := range slices {
			if err := ds.ApplySlice(sl, multislice); err != nil {
				return fmt.Errorf("failed to apply slice %d: %w", written, err)
			}
			for j, name := range names {
				if j < len(values) {
					ds.SetValue(name, values[j])
				}
			}
			if err := c.writeDataset(ds, attrs, next+1+written); err != nil {
				return err
			}
			written++
		}
	}
	return nil
}

// templateDataset returns the write template: the first instance of the
// reference series, or an empty dataset when no reference is given.
func (c *Catalog) templateDataset(ref *Address) (Dataset, error) {
	if ref == nil {
		return c.codec.NewDataset(), nil
	}
	refCat := c
	if ref.Root != c.root {
		other, err := Open(ref.Root, c.codec)
		if err != nil {
			return nil, fmt.Errorf("failed to open reference catalog %s: %w", ref.Root, err)
		}
		refCat = other
	}
	files := refCat.FilesFor(*ref)
	if len(files) == 0 {
		return c.codec.NewDataset(), nil
	}
	ds, err := refCat.codec.Read(refCat.abs(files[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference instance %s: %w", files[0], err)
	}
	return ds, nil
}

// coordinateTuple builds the slice's coordinate tuple: SliceLocation
// first, then the values of the requested non-spatial attributes.
func coordinateTuple(ds Dataset, path string, dims []string) ([]float64, error) {
	tuple := make([]float64, 0, 1+len(dims))
	loc, _ := floatValue(ds, AttrSliceLocation)
	tuple = append(tuple, loc)
	for _, dim := range dims {
		v, ok := floatValue(ds, dim)
		if !ok {
			return nil, fmt.Errorf("instance %s has no numeric value for dimension %s", path, dim)
		}
		tuple = append(tuple, v)
	}
	return tuple, nil
}
