// Package catalog maintains a directory of imaging instance files as a
// hierarchical Patient > Study > Series > Instance index. The index is
// persisted as a snapshot file colocated with the root directory and is
// rebuilt from a full directory scan when the snapshot is absent or
// corrupt. Mutations are staged in memory and take effect on disk at
// commit (Close) or are undone at rollback (Restore).
//
// A catalog session is single-threaded. Two sessions opened concurrently
// on the same root directory are not synchronized: the later commit wins
// and the earlier one's index updates are lost. Callers that need
// cross-process safety must serialize access themselves.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
)

// ErrShapeMismatch reports a copy or move between addresses of different
// hierarchy depths.
var ErrShapeMismatch = errors.New("entity depth mismatch")

// Catalog is the index of one root directory. It exclusively owns its
// records: queries return copies, never live handles.
type Catalog struct {
	root  string
	codec Codec

	records map[string]*Record

	warnings []Warning

	scanWorkers int
	compress    bool
}

// Option configures a catalog at open time.
type Option func(*Catalog)

// WithScanWorkers bounds the number of concurrent file reads during a
// rebuild scan.
func WithScanWorkers(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.scanWorkers = n
		}
	}
}

// WithSnapshotCompression toggles zstd compression of the persisted
// snapshot. Both forms are accepted when loading.
func WithSnapshotCompression(on bool) Option {
	return func(c *Catalog) {
		c.compress = on
	}
}

// Open loads the catalog of the given root directory. The directory is
// created when missing. When the snapshot file is absent or cannot be
// decoded, the catalog is rebuilt by scanning the directory and reading
// every instance file; snapshot corruption is recovered, not surfaced.
func Open(root string, codec Codec, opts ...Option) (*Catalog, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	c := &Catalog{
		root:        root,
		codec:       codec,
		records:     make(map[string]*Record),
		scanWorkers: runtime.NumCPU(),
		compress:    true,
	}
	for _, opt := range opts {
		opt(c)
	}

	err := c.loadSnapshot()
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("catalog snapshot unreadable, rebuilding from directory scan",
			"root", root, "error", err)
		os.Remove(c.snapshotPath())
	}
	if err := c.Rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// Root returns the catalog's root directory.
func (c *Catalog) Root() string {
	return c.root
}

// Rebuild discards the in-memory index and reconstructs it by scanning the
// root directory, then runs the load-time normalization passes. Files the
// codec cannot read are skipped.
func (c *Catalog) Rebuild() error {
	paths, err := c.instanceFiles()
	if err != nil {
		return err
	}
	slog.Info("rebuilding catalog", "root", c.root, "files", len(paths))

	c.records = make(map[string]*Record, len(paths))
	c.warnings = nil

	type scanned struct {
		rel string
		rec *Record
	}
	jobs := make(chan string)
	results := make(chan scanned)
	var wg sync.WaitGroup
	for w := 0; w < c.scanWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range jobs {
				ds, err := c.codec.Read(c.abs(rel))
				if err != nil {
					slog.Debug("skipping unreadable file", "path", rel, "error", err)
					continue
				}
				results <- scanned{rel: rel, rec: recordFromDataset(rel, ds)}
			}
		}()
	}
	go func() {
		for _, rel := range paths {
			jobs <- rel
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()
	for s := range results {
		c.records[s.rel] = s.rec
	}

	if err := c.normalize(); err != nil {
		return err
	}
	slog.Info("catalog rebuilt", "root", c.root, "records", len(c.records))
	return nil
}

// instanceFiles lists every file under the root, relative to it, excluding
// the snapshot file itself.
func (c *Catalog) instanceFiles() ([]string, error) {
	snapshot := filepath.Base(c.snapshotPath())
	var paths []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() == snapshot {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan root directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// abs resolves a record key to its file path on disk.
func (c *Catalog) abs(rel string) string {
	return filepath.Join(c.root, rel)
}

// livePaths returns the keys of all non-removed records in path order.
func (c *Catalog) livePaths() []string {
	paths := make([]string, 0, len(c.records))
	for path, rec := range c.records {
		if rec.live() {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// matches reports whether a record belongs to the entity at the given
// address.
func (c *Catalog) matches(rec *Record, addr Address) bool {
	depth := addr.Depth()
	if depth >= 2 && !addr.Patient.matches(rec.PatientID, rec.PatientName) {
		return false
	}
	if depth >= 3 && !addr.Study.matches(rec.StudyInstanceUID, rec.StudyDescription) {
		return false
	}
	if depth >= 4 && !addr.Series.matches(rec.SeriesInstanceUID, rec.SeriesDescription) {
		return false
	}
	return true
}

// Patients returns the distinct patients among non-removed records,
// optionally filtered by PatientName.
func (c *Catalog) Patients(filters ...Filter) []Address {
	seen := make(map[[2]string]struct{})
	var out []Address
	for _, path := range c.livePaths() {
		rec := c.records[path]
		key := [2]string{rec.PatientID, rec.PatientName}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if !matchesAll(filters, rec.PatientName) {
			continue
		}
		out = append(out, PatientAddress(c.root, Label{UID: rec.PatientID, Name: rec.PatientName}))
	}
	return out
}

// Studies returns the distinct studies under the given address, optionally
// filtered by StudyDescription. A root address flat-maps over all
// patients.
func (c *Catalog) Studies(addr Address, filters ...Filter) ([]Address, error) {
	switch addr.Depth() {
	case 1:
		var out []Address
		for _, patient := range c.Patients() {
			studies, err := c.Studies(patient, filters...)
			if err != nil {
				return nil, err
			}
			out = append(out, studies...)
		}
		return out, nil
	case 2:
		seen := make(map[string]struct{})
		var out []Address
		for _, path := range c.livePaths() {
			rec := c.records[path]
			if !c.matches(rec, addr) {
				continue
			}
			if _, ok := seen[rec.StudyInstanceUID]; ok {
				continue
			}
			seen[rec.StudyInstanceUID] = struct{}{}
			if !matchesAll(filters, rec.StudyDescription) {
				continue
			}
			out = append(out, addr.Child(Label{UID: rec.StudyInstanceUID, Name: rec.StudyDescription}))
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot list studies under %s address %s", addr.Kind(), addr)
}

// Series returns the distinct series under the given address, optionally
// filtered by SeriesDescription. Root and patient addresses flat-map over
// their studies.
func (c *Catalog) Series(addr Address, filters ...Filter) ([]Address, error) {
	switch addr.Depth() {
	case 1, 2:
		studies, err := c.Studies(addr)
		if err != nil {
			return nil, err
		}
		var out []Address
		for _, study := range studies {
			series, err := c.Series(study, filters...)
			if err != nil {
				return nil, err
			}
			out = append(out, series...)
		}
		return out, nil
	case 3:
		seen := make(map[string]struct{})
		var out []Address
		for _, path := range c.livePaths() {
			rec := c.records[path]
			if !c.matches(rec, addr) {
				continue
			}
			if _, ok := seen[rec.SeriesInstanceUID]; ok {
				continue
			}
			seen[rec.SeriesInstanceUID] = struct{}{}
			if !matchesAll(filters, rec.SeriesDescription) {
				continue
			}
			out = append(out, addr.Child(Label{UID: rec.SeriesInstanceUID, Name: rec.SeriesDescription}))
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot list series under %s address %s", addr.Kind(), addr)
}

// FilesFor returns the relative paths of all non-removed records under the
// address, in path order.
func (c *Catalog) FilesFor(addr Address) []string {
	return c.IndexFor(addr)
}

// IndexFor returns the catalog keys of all non-removed records under the
// address, in path order. Keys are relative file paths, used to target
// mutations.
func (c *Catalog) IndexFor(addr Address) []string {
	var keys []string
	for _, path := range c.livePaths() {
		if c.matches(c.records[path], addr) {
			keys = append(keys, path)
		}
	}
	return keys
}

// Record returns a copy of the record with the given key.
func (c *Catalog) Record(key string) (*Record, bool) {
	rec, ok := c.records[key]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// Unique returns the sorted distinct non-absent values of each named
// attribute across the entity's non-removed records.
func (c *Catalog) Unique(attrs []string, addr Address) map[string][]any {
	out := make(map[string][]any, len(attrs))
	for _, name := range attrs {
		var vals []any
		seen := make(map[any]struct{})
		for _, key := range c.IndexFor(addr) {
			v := c.records[key].value(name)
			if v == nil {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			vals = append(vals, v)
		}
		sort.Slice(vals, func(i, j int) bool {
			return fmt.Sprint(vals[i]) < fmt.Sprint(vals[j])
		})
		out[name] = vals
	}
	return out
}

// Append stages a new record. The record's file is expected to exist
// already; rollback deletes it again.
func (c *Catalog) Append(rec *Record) {
	staged := rec.clone()
	staged.Status = StatusPendingCreate
	c.records[staged.Path] = staged
}

// MarkRemoved stages the given records for deletion. Records created in
// this session are discarded on both commit and rollback. Unknown keys and
// already-removed records are ignored.
func (c *Catalog) MarkRemoved(keys []string) {
	for _, key := range keys {
		rec, ok := c.records[key]
		if !ok {
			continue
		}
		switch rec.Status {
		case StatusClean:
			rec.Status = StatusPendingRemove
		case StatusPendingCreate:
			rec.Status = StatusPendingDiscard
		}
	}
}

// Close commits the session: files of removed records are deleted from
// disk (already-absent files are skipped) and their records dropped,
// surviving created records become clean, and the snapshot is persisted.
func (c *Catalog) Close() error {
	for path, rec := range c.records {
		switch rec.Status {
		case StatusPendingRemove, StatusPendingDiscard:
			if err := os.Remove(c.abs(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
			delete(c.records, path)
		case StatusPendingCreate:
			rec.Status = StatusClean
		}
	}
	return c.saveSnapshot()
}

// Restore rolls the session back to the last committed state: files of
// records created in this session are deleted and their records dropped,
// staged removals are cleared, and the snapshot is persisted.
func (c *Catalog) Restore() error {
	for path, rec := range c.records {
		switch rec.Status {
		case StatusPendingCreate, StatusPendingDiscard:
			if err := os.Remove(c.abs(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to delete %s: %w", path, err)
			}
			delete(c.records, path)
		case StatusPendingRemove:
			rec.Status = StatusClean
		}
	}
	return c.saveSnapshot()
}

// maxSeriesNumber returns the highest SeriesNumber among non-removed
// records of the given study, or 0 when there is none.
func (c *Catalog) maxSeriesNumber(studyUID string) int {
	max := 0
	for _, rec := range c.records {
		if !rec.live() || rec.StudyInstanceUID != studyUID {
			continue
		}
		if rec.SeriesNumber > max {
			max = rec.SeriesNumber
		}
	}
	return max
}

// maxInstanceNumber returns the highest InstanceNumber among non-removed
// records of the given series, or 0 when there is none.
func (c *Catalog) maxInstanceNumber(seriesUID string) int {
	max := 0
	for _, rec := range c.records {
		if !rec.live() || rec.SeriesInstanceUID != seriesUID {
			continue
		}
		if rec.InstanceNumber > max {
			max = rec.InstanceNumber
		}
	}
	return max
}
