package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// WarningKind classifies diagnostics raised by the load-time normalization
// passes.
type WarningKind int

const (
	// WarnMultiframeConversion marks a multiframe file that could not be
	// converted to single-frame files and was dropped from the catalog
	// without replacement.
	WarnMultiframeConversion WarningKind = iota + 1
)

// Warning is a non-fatal diagnostic from catalog loading. Warnings carry
// conditions that would otherwise be silent data loss.
type Warning struct {
	Kind    WarningKind
	Path    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// Warnings returns the diagnostics collected during the last rebuild.
func (c *Catalog) Warnings() []Warning {
	return append([]Warning(nil), c.warnings...)
}

// normalize runs the two load-time passes. Both are idempotent and
// independent of each other's order. The transient NumberOfFrames and
// SOPClassUID fields are cleared afterwards.
func (c *Catalog) normalize() error {
	if err := c.splitMultiframe(); err != nil {
		return err
	}
	if err := c.splitMixedSeries(); err != nil {
		return err
	}
	for _, rec := range c.records {
		rec.NumberOfFrames = -1
		rec.SOPClassUID = ""
	}
	return nil
}

// splitMultiframe converts every multiframe record into single-frame files
// via the external converter. The converted files replace the original
// record and the original file is deleted. A failed conversion drops the
// record without replacement and is reported as a warning.
func (c *Catalog) splitMultiframe() error {
	for _, path := range c.livePaths() {
		rec := c.records[path]
		if rec.NumberOfFrames <= 1 {
			continue
		}
		slog.Info("converting multiframe file", "path", path, "frames", rec.NumberOfFrames)
		files, err := c.codec.SplitMultiframe(c.abs(path))
		if err != nil || len(files) == 0 {
			msg := "multiframe conversion produced no files"
			if err != nil {
				msg = fmt.Sprintf("multiframe conversion failed: %v", err)
			}
			slog.Warn("dropping multiframe file", "path", path, "reason", msg)
			c.warnings = append(c.warnings, Warning{
				Kind:    WarnMultiframeConversion,
				Path:    path,
				Message: msg,
			})
			delete(c.records, path)
			continue
		}
		for _, f := range files {
			ds, err := c.codec.Read(f)
			if err != nil {
				return fmt.Errorf("failed to read converted file %s: %w", f, err)
			}
			rel, err := filepath.Rel(c.root, f)
			if err != nil {
				return fmt.Errorf("converted file %s is outside the catalog root: %w", f, err)
			}
			c.records[rel] = recordFromDataset(rel, ds)
		}
		if err := os.Remove(c.abs(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete multiframe original %s: %w", path, err)
		}
		delete(c.records, path)
	}
	return nil
}

// splitMixedSeries moves, for every series holding more than one
// structural class, all classes after the first into newly created sibling
// series named "<description> [k]". The moved originals are dropped and
// their files deleted.
func (c *Catalog) splitMixedSeries() error {
	series, err := c.Series(RootAddress(c.root))
	if err != nil {
		return err
	}
	for _, addr := range series {
		keys := c.IndexFor(addr)

		// Distinct classes in path order; the first keeps the series.
		var classes []string
		byClass := make(map[string][]string)
		for _, key := range keys {
			class := c.records[key].SOPClassUID
			if _, ok := byClass[class]; !ok {
				classes = append(classes, class)
			}
			byClass[class] = append(byClass[class], key)
		}
		if len(classes) < 2 {
			continue
		}

		desc := addr.Series.Name
		slog.Info("splitting series with mixed structural classes",
			"series", addr.String(), "classes", len(classes))
		for k, class := range classes[1:] {
			sibling := addr.Parent().Child(ByName(fmt.Sprintf("%s [%d]", desc, k+1)))
			moved := byClass[class]
			if err := c.filesToSeries(c, moved, sibling); err != nil {
				return err
			}
			for _, key := range moved {
				if err := os.Remove(c.abs(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("failed to delete %s: %w", key, err)
				}
				delete(c.records, key)
			}
		}
	}
	return nil
}
