package catalog

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestOpenRebuildsFromScan(t *testing.T) {
	cat, _ := openTestCatalog(t)

	patients := cat.Patients()
	if len(patients) != 2 {
		t.Fatalf("Expected 2 patients, got %d", len(patients))
	}

	studies, err := cat.Studies(RootAddress(cat.Root()))
	if err != nil {
		t.Fatalf("Failed to list studies: %v", err)
	}
	if len(studies) != 3 {
		t.Fatalf("Expected 3 studies, got %d", len(studies))
	}

	series, err := cat.Series(RootAddress(cat.Root()))
	if err != nil {
		t.Fatalf("Failed to list series: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("Expected 3 series, got %d", len(series))
	}

	alice := PatientAddress(cat.Root(), ByUID("p-alice"))
	files := cat.FilesFor(alice)
	if len(files) != 6 {
		t.Fatalf("Expected 6 files for Alice, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i] < files[i-1] {
			t.Fatalf("Files not in path order: %v", files)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	cat, _ := openTestCatalog(t)
	root := RootAddress(cat.Root())

	t.Run("NameExact", func(t *testing.T) {
		patients := cat.Patients(Filter{Name: "Alice"})
		if len(patients) != 1 {
			t.Fatalf("Expected 1 patient named Alice, got %d", len(patients))
		}
		if patients[0].Patient.UID != "p-alice" {
			t.Errorf("Expected patient UID p-alice, got %s", patients[0].Patient.UID)
		}
	})

	t.Run("Contains", func(t *testing.T) {
		studies, err := cat.Studies(root, Filter{Contains: "rai"})
		if err != nil {
			t.Fatalf("Failed to list studies: %v", err)
		}
		if len(studies) != 2 {
			t.Fatalf("Expected 2 studies containing 'rai', got %d", len(studies))
		}
	})

	t.Run("IsIn", func(t *testing.T) {
		series, err := cat.Series(root, Filter{IsIn: []string{"T2", "T3"}})
		if err != nil {
			t.Fatalf("Failed to list series: %v", err)
		}
		if len(series) != 1 {
			t.Fatalf("Expected 1 series in {T2,T3}, got %d", len(series))
		}
	})

	t.Run("CombinedCriteriaAnd", func(t *testing.T) {
		series, err := cat.Series(root, Filter{Contains: "T", IsIn: []string{"T2"}}, Filter{Name: "T1"})
		if err != nil {
			t.Fatalf("Failed to list series: %v", err)
		}
		if len(series) != 0 {
			t.Fatalf("Contradictory filters should match nothing, got %d series", len(series))
		}
	})

	t.Run("StudiesUnderPatient", func(t *testing.T) {
		studies, err := cat.Studies(PatientAddress(cat.Root(), ByUID("p-alice")))
		if err != nil {
			t.Fatalf("Failed to list studies: %v", err)
		}
		if len(studies) != 2 {
			t.Fatalf("Expected 2 studies for Alice, got %d", len(studies))
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	cat, codec := openTestCatalog(t)
	root := cat.Root()
	want := len(cat.livePaths())

	if err := cat.Close(); err != nil {
		t.Fatalf("Failed to commit catalog: %v", err)
	}

	// Drop the codec's knowledge of the files: a reopen that still sees
	// all records must have loaded the snapshot, not rescanned.
	codec.mu.Lock()
	codec.files = map[string]*memDataset{}
	codec.mu.Unlock()

	reopened, err := Open(root, codec)
	if err != nil {
		t.Fatalf("Failed to reopen catalog: %v", err)
	}
	if got := len(reopened.livePaths()); got != want {
		t.Fatalf("Expected %d records after snapshot reload, got %d", want, got)
	}
}

func TestCorruptSnapshotTriggersRebuild(t *testing.T) {
	cat, codec := openTestCatalog(t)
	root := cat.Root()
	want := len(cat.livePaths())
	if err := cat.Close(); err != nil {
		t.Fatalf("Failed to commit catalog: %v", err)
	}

	snapshot := filepath.Join(root, filepath.Base(root)+".catalog")
	if err := os.WriteFile(snapshot, []byte("not a snapshot"), 0644); err != nil {
		t.Fatalf("Failed to corrupt snapshot: %v", err)
	}

	reopened, err := Open(root, codec)
	if err != nil {
		t.Fatalf("Corrupt snapshot must not fail the open: %v", err)
	}
	if got := len(reopened.livePaths()); got != want {
		t.Fatalf("Expected %d records after rebuild, got %d", want, got)
	}
}

func TestUncompressedSnapshot(t *testing.T) {
	root := t.TempDir()
	codec := newMemCodec()
	seedDefaultHierarchy(t, codec, root)
	cat, err := Open(root, codec, WithSnapshotCompression(false))
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	want := len(cat.livePaths())
	if err := cat.Close(); err != nil {
		t.Fatalf("Failed to commit catalog: %v", err)
	}

	reopened, err := Open(root, codec)
	if err != nil {
		t.Fatalf("Failed to reopen catalog: %v", err)
	}
	if got := len(reopened.livePaths()); got != want {
		t.Fatalf("Expected %d records, got %d", want, got)
	}
}

func TestAppendCommit(t *testing.T) {
	cat, codec := openTestCatalog(t)
	before := len(cat.livePaths())

	rel := filepath.Join("instances", "new.dcm")
	seedInstance(t, codec, cat.Root(), rel,
		instanceAttrs("p-alice", "Alice", "st-a1", "Brain", "se-a1", "T1", 1, 4, 3.0))
	cat.Append(&Record{
		Path: rel, PatientID: "p-alice", PatientName: "Alice",
		StudyInstanceUID: "st-a1", SeriesInstanceUID: "se-a1",
		SeriesNumber: 1, InstanceNumber: 4, SOPInstanceUID: "1.1.new",
	})

	if err := cat.Close(); err != nil {
		t.Fatalf("Failed to commit catalog: %v", err)
	}
	if got := len(cat.livePaths()); got != before+1 {
		t.Fatalf("Expected %d records after commit, got %d", before+1, got)
	}
	rec, ok := cat.Record(rel)
	if !ok {
		t.Fatal("Appended record missing after commit")
	}
	if rec.Status != StatusClean {
		t.Errorf("Expected clean status after commit, got %v", rec.Status)
	}
	if _, err := os.Stat(filepath.Join(cat.Root(), rel)); err != nil {
		t.Errorf("Appended file must survive the commit: %v", err)
	}
}

func TestAppendRollback(t *testing.T) {
	cat, codec := openTestCatalog(t)
	before := len(cat.livePaths())

	rel := filepath.Join("instances", "new.dcm")
	seedInstance(t, codec, cat.Root(), rel,
		instanceAttrs("p-alice", "Alice", "st-a1", "Brain", "se-a1", "T1", 1, 4, 3.0))
	cat.Append(&Record{Path: rel, PatientID: "p-alice", SeriesInstanceUID: "se-a1", InstanceNumber: 4})

	if err := cat.Restore(); err != nil {
		t.Fatalf("Failed to roll back catalog: %v", err)
	}
	if got := len(cat.livePaths()); got != before {
		t.Fatalf("Expected %d records after rollback, got %d", before, got)
	}
	if _, err := os.Stat(filepath.Join(cat.Root(), rel)); !os.IsNotExist(err) {
		t.Error("Rolled-back file must be deleted from disk")
	}
}

func TestMarkRemovedCommit(t *testing.T) {
	cat, _ := openTestCatalog(t)
	series := SeriesAddress(cat.Root(), ByUID("p-alice"), ByUID("st-a1"), ByUID("se-a1"))
	keys := cat.IndexFor(series)
	if len(keys) != 3 {
		t.Fatalf("Expected 3 records in series, got %d", len(keys))
	}

	cat.MarkRemoved(keys)
	if got := len(cat.IndexFor(series)); got != 0 {
		t.Fatalf("Removed records must be excluded from queries, got %d", got)
	}
	// Files are untouched until commit.
	for _, key := range keys {
		if _, err := os.Stat(filepath.Join(cat.Root(), key)); err != nil {
			t.Fatalf("File %s must remain until commit: %v", key, err)
		}
	}

	if err := cat.Close(); err != nil {
		t.Fatalf("Failed to commit catalog: %v", err)
	}
	for _, key := range keys {
		if _, ok := cat.Record(key); ok {
			t.Errorf("Record %s must be dropped after commit", key)
		}
		if _, err := os.Stat(filepath.Join(cat.Root(), key)); !os.IsNotExist(err) {
			t.Errorf("File %s must be deleted after commit", key)
		}
	}
}

func TestMarkRemovedRollback(t *testing.T) {
	cat, _ := openTestCatalog(t)
	series := SeriesAddress(cat.Root(), ByUID("p-alice"), ByUID("st-a1"), ByUID("se-a1"))
	keys := cat.IndexFor(series)
	cat.MarkRemoved(keys)

	if err := cat.Restore(); err != nil {
		t.Fatalf("Failed to roll back catalog: %v", err)
	}
	if got := len(cat.IndexFor(series)); got != 3 {
		t.Fatalf("Expected staged removals to be cleared, got %d records", got)
	}
	for _, key := range keys {
		if _, err := os.Stat(filepath.Join(cat.Root(), key)); err != nil {
			t.Errorf("File %s must survive the rollback: %v", key, err)
		}
	}
}

func TestInstanceNumberUniqueness(t *testing.T) {
	cat, _ := openTestCatalog(t)

	// Exercise the paths that allocate instance numbers, then check the
	// invariant across the whole catalog.
	from := SeriesAddress(cat.Root(), ByUID("p-alice"), ByUID("st-a1"), ByUID("se-a1"))
	to := SeriesAddress(cat.Root(), ByUID("p-bob"), ByUID("st-b1"), ByUID("se-b1"))
	if err := cat.Copy(from, to); err != nil {
		t.Fatalf("Failed to copy series: %v", err)
	}

	seen := make(map[[2]string]string)
	for _, key := range cat.livePaths() {
		rec, _ := cat.Record(key)
		pair := [2]string{rec.SeriesInstanceUID, strconv.Itoa(rec.InstanceNumber)}
		if other, ok := seen[pair]; ok {
			t.Fatalf("Duplicate (series, instance number) pair %v for %s and %s", pair, other, key)
		}
		seen[pair] = key
	}
}

func TestUnique(t *testing.T) {
	cat, _ := openTestCatalog(t)
	alice := PatientAddress(cat.Root(), ByUID("p-alice"))

	vals := cat.Unique([]string{AttrStudyDescription, AttrSeriesNumber}, alice)
	if got := vals[AttrStudyDescription]; len(got) != 2 || got[0] != "Brain" || got[1] != "Knee" {
		t.Errorf("Expected sorted study descriptions [Brain Knee], got %v", got)
	}
	if got := vals[AttrSeriesNumber]; len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected series numbers [1], got %v", got)
	}
}
