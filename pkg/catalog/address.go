package catalog

import (
	"fmt"
	"strings"
)

// Kind identifies the level of the hierarchy an address refers to.
type Kind int

const (
	KindRoot Kind = iota + 1
	KindPatient
	KindStudy
	KindSeries
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindPatient:
		return "patient"
	case KindStudy:
		return "study"
	case KindSeries:
		return "series"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Label identifies one entity at a single level. A label with a UID is a
// lookup of an existing entity. A label with only a name is matched by
// PatientName or description, and when nothing matches it names a new
// entity to create, with the name becoming its description. Descriptions
// are free text: an empty name is a valid label that matches entities
// whose description is empty.
type Label struct {
	UID  string
	Name string
}

// ByName returns a label matching (or creating) an entity by its name or
// description.
func ByName(name string) Label {
	return Label{Name: name}
}

// ByUID returns a label matching an existing entity by its unique
// identifier.
func ByUID(uid string) Label {
	return Label{UID: uid}
}

// IsZero reports whether the label is unset.
func (l Label) IsZero() bool {
	return l.UID == "" && l.Name == ""
}

// matches reports whether the label identifies an entity with the given
// unique identifier and name. UID-bearing labels match by UID only.
func (l Label) matches(uid, name string) bool {
	if l.UID != "" {
		return l.UID == uid
	}
	return l.Name == name
}

// description returns the human-readable text to stamp on a newly created
// entity.
func (l Label) description() string {
	if l.Name != "" {
		return l.Name
	}
	return l.UID
}

func (l Label) String() string {
	if l.Name != "" {
		return l.Name
	}
	return l.UID
}

// Address identifies an entity in the hierarchy: the whole root directory,
// one patient, one study, or one series. The level count is carried
// explicitly, not inferred from the labels: a level labeled with an empty
// name is present all the same.
type Address struct {
	Root    string
	Patient Label
	Study   Label
	Series  Label

	depth int
}

// RootAddress addresses all patients under a root directory.
func RootAddress(root string) Address {
	return Address{Root: root, depth: 1}
}

// PatientAddress addresses one patient.
func PatientAddress(root string, patient Label) Address {
	return Address{Root: root, Patient: patient, depth: 2}
}

// StudyAddress addresses one study of a patient.
func StudyAddress(root string, patient, study Label) Address {
	return Address{Root: root, Patient: patient, Study: study, depth: 3}
}

// SeriesAddress addresses one series of a study.
func SeriesAddress(root string, patient, study, series Label) Address {
	return Address{Root: root, Patient: patient, Study: study, Series: series, depth: 4}
}

// Depth returns the number of levels: 1 for a root address through 4 for a
// series address. A literal Address built without a constructor falls back
// to the deepest non-zero label.
func (a Address) Depth() int {
	if a.depth != 0 {
		return a.depth
	}
	switch {
	case !a.Series.IsZero():
		return 4
	case !a.Study.IsZero():
		return 3
	case !a.Patient.IsZero():
		return 2
	default:
		return 1
	}
}

// Kind returns the entity level the address refers to.
func (a Address) Kind() Kind {
	return Kind(a.Depth())
}

// Parent returns the address one level up. The parent of a root address is
// the root address itself.
func (a Address) Parent() Address {
	switch a.Depth() {
	case 4:
		return StudyAddress(a.Root, a.Patient, a.Study)
	case 3:
		return PatientAddress(a.Root, a.Patient)
	default:
		return RootAddress(a.Root)
	}
}

// Child returns the address one level down, addressing the entity
// identified by label. Child of a series address panics: the hierarchy has
// no deeper level.
func (a Address) Child(label Label) Address {
	switch a.Depth() {
	case 1:
		return PatientAddress(a.Root, label)
	case 2:
		return StudyAddress(a.Root, a.Patient, label)
	case 3:
		return SeriesAddress(a.Root, a.Patient, a.Study, label)
	}
	panic("catalog: series address has no child level")
}

func (a Address) String() string {
	parts := []string{a.Root}
	labels := []Label{a.Patient, a.Study, a.Series}
	for i := 0; i < a.Depth()-1; i++ {
		parts = append(parts, labels[i].String())
	}
	return strings.Join(parts, "/")
}
