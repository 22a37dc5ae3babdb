package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dicomvault/pkg/volume"
)

// memDataset is an in-memory instance record used as the codec fake's
// dataset.
type memDataset struct {
	attrs map[string]any
	data  *mat.Dense
}

func newMemDataset() *memDataset {
	return &memDataset{attrs: make(map[string]any)}
}

func (d *memDataset) Value(name string) (any, bool) {
	v, ok := d.attrs[name]
	return v, ok
}

func (d *memDataset) SetValue(name string, value any) {
	if value == nil {
		delete(d.attrs, name)
		return
	}
	d.attrs[name] = value
}

func (d *memDataset) PixelData() (*mat.Dense, error) {
	if d.data == nil {
		return nil, fmt.Errorf("no pixel data")
	}
	return d.data, nil
}

func (d *memDataset) ExtractSlice(multislice bool) (*volume.Slice, error) {
	data, err := d.PixelData()
	if err != nil {
		return nil, err
	}
	loc, _ := floatValue(d, AttrSliceLocation)
	return &volume.Slice{Data: data, Location: loc}, nil
}

func (d *memDataset) ApplySlice(sl *volume.Slice, multislice bool) error {
	d.data = sl.Data
	d.attrs[AttrSliceLocation] = sl.Location
	return nil
}

func (d *memDataset) clone() *memDataset {
	c := newMemDataset()
	for k, v := range d.attrs {
		c.attrs[k] = v
	}
	c.data = d.data
	return c
}

// memCodec is an in-memory catalog.Codec. Written datasets are kept in a
// map keyed by absolute path, and a marker file is created on disk so that
// commit and rollback deletions are observable.
type memCodec struct {
	mu    sync.Mutex
	files map[string]*memDataset
	split map[string][]string
	uids  int
}

func newMemCodec() *memCodec {
	return &memCodec{
		files: make(map[string]*memDataset),
		split: make(map[string][]string),
	}
}

func (m *memCodec) Read(path string) (Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("not an instance file: %s", path)
	}
	return ds.clone(), nil
}

func (m *memCodec) NewDataset() Dataset {
	return newMemDataset()
}

func (m *memCodec) Write(ds Dataset, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte("instance"), 0644); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = ds.(*memDataset).clone()
	return nil
}

func (m *memCodec) NewUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uids++
	return fmt.Sprintf("9.9.%d", m.uids)
}

func (m *memCodec) SplitMultiframe(path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.split[path], nil
}

// seedInstance registers an instance with the codec and creates its marker
// file on disk, as if it had always been part of the root directory.
func seedInstance(t *testing.T, codec *memCodec, root, rel string, attrs map[string]any) {
	t.Helper()
	ds := newMemDataset()
	for k, v := range attrs {
		ds.attrs[k] = v
	}
	ds.data = mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if err := codec.Write(ds, filepath.Join(root, rel)); err != nil {
		t.Fatalf("Failed to seed instance %s: %v", rel, err)
	}
}

// instanceAttrs builds the attribute set of one seeded instance.
func instanceAttrs(patientID, patientName, studyUID, studyDesc, seriesUID, seriesDesc string, seriesNumber, instanceNumber int, loc float64) map[string]any {
	return map[string]any{
		AttrPatientID:         patientID,
		AttrPatientName:       patientName,
		AttrStudyInstanceUID:  studyUID,
		AttrStudyDescription:  studyDesc,
		AttrStudyDate:         "20240101",
		AttrSeriesInstanceUID: seriesUID,
		AttrSeriesDescription: seriesDesc,
		AttrSeriesNumber:      seriesNumber,
		AttrInstanceNumber:    instanceNumber,
		AttrSOPInstanceUID:    fmt.Sprintf("1.1.%s.%d", seriesUID, instanceNumber),
		AttrSOPClassUID:       "1.2.840.10008.5.1.4.1.1.4",
		AttrSliceLocation:     loc,
	}
}

// seedDefaultHierarchy seeds two patients: Alice with two studies (one
// series of three instances each) and Bob with one study of one series of
// two instances.
func seedDefaultHierarchy(t *testing.T, codec *memCodec, root string) {
	t.Helper()
	for i := 0; i < 3; i++ {
		seedInstance(t, codec, root, fmt.Sprintf("a_t1_%d.dcm", i),
			instanceAttrs("p-alice", "Alice", "st-a1", "Brain", "se-a1", "T1", 1, i+1, float64(i)))
		seedInstance(t, codec, root, fmt.Sprintf("a_t2_%d.dcm", i),
			instanceAttrs("p-alice", "Alice", "st-a2", "Knee", "se-a2", "T2", 1, i+1, float64(i)))
	}
	for i := 0; i < 2; i++ {
		seedInstance(t, codec, root, fmt.Sprintf("b_t1_%d.dcm", i),
			instanceAttrs("p-bob", "Bob", "st-b1", "Brain", "se-b1", "T1", 1, i+1, float64(i)))
	}
}

// openTestCatalog opens a catalog over a fresh temporary root seeded with
// the default hierarchy.
func openTestCatalog(t *testing.T) (*Catalog, *memCodec) {
	t.Helper()
	root := t.TempDir()
	codec := newMemCodec()
	seedDefaultHierarchy(t, codec, root)
	cat, err := Open(root, codec, WithScanWorkers(2))
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	return cat, codec
}
