package catalog

import "testing"

func TestAddressDepthWithEmptyNames(t *testing.T) {
	study := StudyAddress("/data", ByName("P"), ByName(""))
	if got := study.Depth(); got != 3 {
		t.Fatalf("Expected depth 3 for a study with an empty description, got %d", got)
	}
	if study.Kind() != KindStudy {
		t.Errorf("Expected study kind, got %s", study.Kind())
	}

	series := study.Child(ByName("T1"))
	if got := series.Depth(); got != 4 {
		t.Fatalf("Expected depth 4 after Child, got %d", got)
	}
	if series.Study.Name != "" || series.Series.Name != "T1" {
		t.Errorf("Child placed labels at the wrong levels: study %q, series %q",
			series.Study.Name, series.Series.Name)
	}

	parent := series.Parent()
	if got := parent.Depth(); got != 3 {
		t.Errorf("Expected depth 3 after Parent, got %d", got)
	}
	if parent.Parent().Depth() != 2 {
		t.Errorf("Expected depth 2 two levels up, got %d", parent.Parent().Depth())
	}
}

func TestAddressDepthConstruction(t *testing.T) {
	root := RootAddress("/data")
	if root.Depth() != 1 {
		t.Fatalf("Expected depth 1, got %d", root.Depth())
	}
	patient := root.Child(ByName(""))
	if patient.Depth() != 2 {
		t.Fatalf("Expected depth 2 for an empty-named patient, got %d", patient.Depth())
	}
	if got := PatientAddress("/data", ByUID("p-1")).Depth(); got != 2 {
		t.Errorf("Expected depth 2, got %d", got)
	}
	if got := SeriesAddress("/data", ByUID("p"), ByUID("st"), ByUID("se")).Depth(); got != 4 {
		t.Errorf("Expected depth 4, got %d", got)
	}
}

func TestEmptyNameLabelMatchesEmptyDescription(t *testing.T) {
	if !ByName("").matches("st-1", "") {
		t.Error("An empty-name label must match an empty description")
	}
	if ByName("").matches("st-1", "Brain") {
		t.Error("An empty-name label must not match a non-empty description")
	}
	if !ByUID("st-1").matches("st-1", "") {
		t.Error("A UID label must match regardless of description")
	}
}
