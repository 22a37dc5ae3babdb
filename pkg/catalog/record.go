package catalog

import (
	"strconv"
)

// Attribute names understood by the catalog. These are the identifying and
// descriptive attributes stamped on instance files and indexed per record.
const (
	AttrPatientID         = "PatientID"
	AttrPatientName       = "PatientName"
	AttrStudyInstanceUID  = "StudyInstanceUID"
	AttrStudyDescription  = "StudyDescription"
	AttrStudyDate         = "StudyDate"
	AttrSeriesInstanceUID = "SeriesInstanceUID"
	AttrSeriesDescription = "SeriesDescription"
	AttrSeriesNumber      = "SeriesNumber"
	AttrInstanceNumber    = "InstanceNumber"
	AttrSOPInstanceUID    = "SOPInstanceUID"
	AttrSliceLocation     = "SliceLocation"
	AttrNumberOfFrames    = "NumberOfFrames"
	AttrSOPClassUID       = "SOPClassUID"
)

// IndexAttributes lists every attribute read from an instance file when it
// is added to the catalog, including the transient normalization fields.
var IndexAttributes = []string{
	AttrPatientID, AttrPatientName,
	AttrStudyInstanceUID, AttrStudyDescription, AttrStudyDate,
	AttrSeriesInstanceUID, AttrSeriesDescription, AttrSeriesNumber,
	AttrInstanceNumber, AttrSOPInstanceUID, AttrSliceLocation,
	AttrNumberOfFrames, AttrSOPClassUID,
}

// Status is the staged-mutation state of a record.
type Status uint8

const (
	// StatusClean marks a committed record.
	StatusClean Status = iota

	// StatusPendingCreate marks a record appended during this session. Its
	// file is deleted again on rollback.
	StatusPendingCreate

	// StatusPendingRemove marks a committed record staged for deletion. Its
	// file is deleted on commit; rollback clears the mark.
	StatusPendingRemove

	// StatusPendingDiscard marks a record that was created and then removed
	// within the same session. Its file is deleted on both commit and
	// rollback.
	StatusPendingDiscard
)

// Record is the catalog entry for one instance file, keyed by the file's
// path relative to the catalog root.
type Record struct {
	Path string `cbor:"path"`

	PatientID   string `cbor:"patientID,omitempty"`
	PatientName string `cbor:"patientName,omitempty"`

	StudyInstanceUID string `cbor:"studyInstanceUID,omitempty"`
	StudyDescription string `cbor:"studyDescription,omitempty"`
	StudyDate        string `cbor:"studyDate,omitempty"`

	SeriesInstanceUID string `cbor:"seriesInstanceUID,omitempty"`
	SeriesDescription string `cbor:"seriesDescription,omitempty"`

	// SeriesNumber and InstanceNumber are -1 when the file carries no
	// value.
	SeriesNumber   int `cbor:"seriesNumber"`
	InstanceNumber int `cbor:"instanceNumber"`

	SOPInstanceUID string  `cbor:"sopInstanceUID,omitempty"`
	SliceLocation  float64 `cbor:"sliceLocation,omitempty"`

	// NumberOfFrames and SOPClassUID are only used by the load-time
	// normalization passes and are dropped afterwards.
	NumberOfFrames int    `cbor:"-"`
	SOPClassUID    string `cbor:"-"`

	// Status tracks staged mutation. Snapshots are only written at commit
	// or rollback, when every surviving record is clean, so it is not
	// persisted.
	Status Status `cbor:"-"`
}

// live reports whether the record takes part in queries: staged removals
// are excluded even though their files still exist on disk.
func (r *Record) live() bool {
	return r.Status == StatusClean || r.Status == StatusPendingCreate
}

// clone returns a copy of the record. The catalog owns all stored records
// and only ever hands out copies.
func (r *Record) clone() *Record {
	c := *r
	return &c
}

// value returns the record's value for a named attribute, or nil when the
// attribute is absent or unknown.
func (r *Record) value(name string) any {
	switch name {
	case AttrPatientID:
		return nilIfEmpty(r.PatientID)
	case AttrPatientName:
		return nilIfEmpty(r.PatientName)
	case AttrStudyInstanceUID:
		return nilIfEmpty(r.StudyInstanceUID)
	case AttrStudyDescription:
		return nilIfEmpty(r.StudyDescription)
	case AttrStudyDate:
		return nilIfEmpty(r.StudyDate)
	case AttrSeriesInstanceUID:
		return nilIfEmpty(r.SeriesInstanceUID)
	case AttrSeriesDescription:
		return nilIfEmpty(r.SeriesDescription)
	case AttrSeriesNumber:
		return nilIfNegative(r.SeriesNumber)
	case AttrInstanceNumber:
		return nilIfNegative(r.InstanceNumber)
	case AttrSOPInstanceUID:
		return nilIfEmpty(r.SOPInstanceUID)
	case AttrSliceLocation:
		return r.SliceLocation
	case AttrNumberOfFrames:
		return nilIfNegative(r.NumberOfFrames)
	case AttrSOPClassUID:
		return nilIfEmpty(r.SOPClassUID)
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfNegative(n int) any {
	if n < 0 {
		return nil
	}
	return n
}

// recordFromDataset builds a record from the attributes of an in-memory
// instance dataset.
func recordFromDataset(path string, ds Dataset) *Record {
	rec := &Record{
		Path:           path,
		SeriesNumber:   -1,
		InstanceNumber: -1,
		NumberOfFrames: -1,
	}
	rec.PatientID = stringValue(ds, AttrPatientID)
	rec.PatientName = stringValue(ds, AttrPatientName)
	rec.StudyInstanceUID = stringValue(ds, AttrStudyInstanceUID)
	rec.StudyDescription = stringValue(ds, AttrStudyDescription)
	rec.StudyDate = stringValue(ds, AttrStudyDate)
	rec.SeriesInstanceUID = stringValue(ds, AttrSeriesInstanceUID)
	rec.SeriesDescription = stringValue(ds, AttrSeriesDescription)
	rec.SOPInstanceUID = stringValue(ds, AttrSOPInstanceUID)
	rec.SOPClassUID = stringValue(ds, AttrSOPClassUID)
	if n, ok := intValue(ds, AttrSeriesNumber); ok {
		rec.SeriesNumber = n
	}
	if n, ok := intValue(ds, AttrInstanceNumber); ok {
		rec.InstanceNumber = n
	}
	if n, ok := intValue(ds, AttrNumberOfFrames); ok {
		rec.NumberOfFrames = n
	}
	if f, ok := floatValue(ds, AttrSliceLocation); ok {
		rec.SliceLocation = f
	}
	return rec
}

func stringValue(ds Dataset, name string) string {
	v, ok := ds.Value(name)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	}
	return ""
}

func intValue(ds Dataset, name string) (int, bool) {
	v, ok := ds.Value(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func floatValue(ds Dataset, name string) (float64, bool) {
	v, ok := ds.Value(name)
	if !ok {
		return 0, false
	}
	switch f := v.(type) {
	case float64:
		return f, true
	case int:
		return float64(f), true
	case string:
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, false
		}
		return x, true
	}
	return 0, false
}
