package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// instanceDir is the directory under the root where the catalog writes new
// instance files.
const instanceDir = "instances"

// Copy copies a patient, study or series subtree to the destination
// address. Both addresses must have the same depth (2, 3 or 4); otherwise
// the call fails with ErrShapeMismatch before any mutation. Destination
// entities that do not exist are created through attribute resolution;
// every copied instance gets a fresh SOPInstanceUID and the next free
// InstanceNumber of its destination series. A destination under a
// different root uses a separately opened catalog that is committed before
// Copy returns.
//
// A failing write leaves instances already copied in place; there is no
// implicit rollback of a partially completed copy.
func (c *Catalog) Copy(from, to Address) error {
	if from.Depth() != to.Depth() || from.Depth() < 2 {
		return fmt.Errorf("%w: cannot copy %s entity %s to %s entity %s",
			ErrShapeMismatch, from.Kind(), from, to.Kind(), to)
	}
	switch from.Depth() {
	case 4:
		return c.copySeries(from, to)
	case 3:
		return c.copyStudy(from, to)
	default:
		return c.copyPatient(from, to)
	}
}

// Delete stages every record under the address for removal. Files stay on
// disk until commit.
func (c *Catalog) Delete(addr Address) {
	keys := c.IndexFor(addr)
	slog.Info("staging removal", "entity", addr.String(), "records", len(keys))
	c.MarkRemoved(keys)
}

// Move copies the entity and then stages removal of the source. The
// removal is unconditional even when the copy failed partway, matching
// best-effort semantics: callers that need atomicity must check the
// returned copy error before committing, and can Restore to undo the
// staged removal.
func (c *Catalog) Move(from, to Address) error {
	err := c.Copy(from, to)
	c.Delete(from)
	return err
}

func (c *Catalog) copyPatient(from, to Address) error {
	studies, err := c.Studies(from)
	if err != nil {
		return err
	}
	slog.Info("copying patient", "from", from.String(), "to", to.String(), "studies", len(studies))
	for _, study := range studies {
		if err := c.copyStudy(study, to.Child(ByName(study.Study.Name))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) copyStudy(from, to Address) error {
	series, err := c.Series(from)
	if err != nil {
		return err
	}
	slog.Info("copying study", "from", from.String(), "to", to.String(), "series", len(series))
	for _, s := range series {
		if err := c.copySeries(s, to.Child(ByName(s.Series.Name))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) copySeries(from, to Address) error {
	files := c.FilesFor(from)
	if to.Root == c.root {
		return c.filesToSeries(c, files, to)
	}
	dest, err := Open(to.Root, c.codec)
	if err != nil {
		return fmt.Errorf("failed to open destination catalog %s: %w", to.Root, err)
	}
	if err := dest.filesToSeries(c, files, to); err != nil {
		return err
	}
	return dest.Close()
}

// filesToSeries copies instance files from the source catalog into the
// series addressed by to, which belongs to this catalog. Destination
// attributes are resolved once; instance numbering continues from the
// destination series' current maximum.
func (c *Catalog) filesToSeries(src *Catalog, files []string, to Address) error {
	attrs := c.seriesAttributes(to)
	seriesUID, _ := attrs[AttrSeriesInstanceUID].(string)
	next := c.maxInstanceNumber(seriesUID)

	slog.Info("copying series", "to", to.String(), "instances", len(files))
	for i, f := range files {
		ds, err := src.codec.Read(src.abs(f))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		if err := c.writeDataset(ds, attrs, next+1+i); err != nil {
			return err
		}
	}
	return nil
}

// writeDataset stamps the resolved attributes, a fresh SOPInstanceUID and
// the given InstanceNumber onto the dataset, writes it to a new file under
// the instance directory, and stages the new record.
func (c *Catalog) writeDataset(ds Dataset, attrs map[string]any, instanceNumber int) error {
	attrs[AttrSOPInstanceUID] = c.codec.NewUID()
	attrs[AttrInstanceNumber] = instanceNumber
	for name, value := range attrs {
		ds.SetValue(name, value)
	}
	rel := filepath.Join(instanceDir, c.codec.NewUID()+".dcm")
	if err := c.codec.Write(ds, c.abs(rel)); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	c.Append(recordFromDataset(rel, ds))
	return nil
}
