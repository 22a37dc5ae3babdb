package dcm

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"dicomvault/pkg/catalog"
	"dicomvault/pkg/volume"
)

// attrTags maps the catalog's attribute names to DICOM tags.
var attrTags = map[string]tag.Tag{
	catalog.AttrPatientID:         tag.PatientID,
	catalog.AttrPatientName:       tag.PatientName,
	catalog.AttrStudyInstanceUID:  tag.StudyInstanceUID,
	catalog.AttrStudyDescription:  tag.StudyDescription,
	catalog.AttrStudyDate:         tag.StudyDate,
	catalog.AttrSeriesInstanceUID: tag.SeriesInstanceUID,
	catalog.AttrSeriesDescription: tag.SeriesDescription,
	catalog.AttrSeriesNumber:      tag.SeriesNumber,
	catalog.AttrInstanceNumber:    tag.InstanceNumber,
	catalog.AttrSOPInstanceUID:    tag.SOPInstanceUID,
	catalog.AttrSOPClassUID:       tag.SOPClassUID,
	catalog.AttrSliceLocation:     tag.SliceLocation,
	catalog.AttrNumberOfFrames:    tag.NumberOfFrames,
}

// intAttrs lists attributes surfaced to the catalog as ints; floatAttrs as
// float64s. Everything else is a string.
var intAttrs = map[string]bool{
	catalog.AttrSeriesNumber:   true,
	catalog.AttrInstanceNumber: true,
	catalog.AttrNumberOfFrames: true,
}

var floatAttrs = map[string]bool{
	catalog.AttrSliceLocation: true,
}

// dataset wraps a parsed DICOM dataset as a catalog.Dataset.
type dataset struct {
	ds dicom.Dataset
}

var _ catalog.Dataset = (*dataset)(nil)

// Value returns the named attribute, converted to the catalog's canonical
// type for that attribute.
func (d *dataset) Value(name string) (any, bool) {
	t, ok := attrTags[name]
	if !ok {
		return nil, false
	}
	el, err := d.ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	s, ok := firstString(el.Value.GetValue())
	if !ok {
		return nil, false
	}
	switch {
	case intAttrs[name]:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, false
		}
		return n, true
	case floatAttrs[name]:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return s, true
	}
}

// SetValue sets the named attribute, replacing any existing element.
func (d *dataset) SetValue(name string, value any) {
	t, ok := attrTags[name]
	if !ok {
		return
	}
	d.setString(t, formatValue(value))
}

// PixelData returns the first frame's pixel values as a dense matrix.
func (d *dataset) PixelData() (*mat.Dense, error) {
	el, err := d.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("dataset has no pixel data: %w", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, fmt.Errorf("dataset has malformed pixel data")
	}
	native, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return nil, fmt.Errorf("pixel data is not in native form: %w", err)
	}
	data := mat.NewDense(native.Rows, native.Cols, nil)
	for r := 0; r < native.Rows; r++ {
		for col := 0; col < native.Cols; col++ {
			data.Set(r, col, float64(native.Data[r*native.Cols+col][0]))
		}
	}
	return data, nil
}

// ExtractSlice returns the instance as a positioned spatial slice. The
// multislice flag is accepted for interface compatibility; position is
// taken from SliceLocation either way.
func (d *dataset) ExtractSlice(multislice bool) (*volume.Slice, error) {
	data, err := d.PixelData()
	if err != nil {
		return nil, err
	}
	loc := 0.0
	if v, ok := d.Value(catalog.AttrSliceLocation); ok {
		loc = v.(float64)
	}
	return &volume.Slice{Data: data, Location: loc}, nil
}

// ApplySlice replaces the pixel payload and spatial position.
func (d *dataset) ApplySlice(sl *volume.Slice, multislice bool) error {
	rows, cols := sl.Data.Dims()
	pixels := make([][]int, rows*cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			pixels[r*cols+col] = []int{int(sl.Data.At(r, col))}
		}
	}
	fr := &frame.Frame{
		NativeData: frame.NativeFrame{
			BitsPerSample: 16,
			Rows:          rows,
			Cols:          cols,
			Data:          pixels,
		},
	}
	d.setString(tag.Rows, strconv.Itoa(rows))
	d.setString(tag.Columns, strconv.Itoa(cols))
	d.setPixelFrame(fr)
	d.SetValue(catalog.AttrSliceLocation, sl.Location)
	return nil
}

// setPixelFrame replaces the pixel data element with a single native
// frame.
func (d *dataset) setPixelFrame(fr *frame.Frame) {
	d.remove(tag.PixelData)
	el, err := dicom.NewElement(tag.PixelData, dicom.PixelDataInfo{
		Frames:         []*frame.Frame{fr},
		IsEncapsulated: false,
	})
	if err != nil {
		return
	}
	d.ds.Elements = append(d.ds.Elements, el)
}

// setString sets a tag to a single string value, replacing any existing
// element.
func (d *dataset) setString(t tag.Tag, value string) {
	d.remove(t)
	el, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return
	}
	d.ds.Elements = append(d.ds.Elements, el)
}

func (d *dataset) remove(t tag.Tag) {
	for i, el := range d.ds.Elements {
		if el.Tag == t {
			d.ds.Elements = append(d.ds.Elements[:i], d.ds.Elements[i+1:]...)
			return
		}
	}
}

func (d *dataset) clone() *dataset {
	elements := make([]*dicom.Element, len(d.ds.Elements))
	copy(elements, d.ds.Elements)
	return &dataset{ds: dicom.Dataset{Elements: elements}}
}

// firstString flattens the library's element value to its first string
// form.
func firstString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []string:
		if len(val) == 0 {
			return "", false
		}
		return val[0], true
	case int:
		return strconv.Itoa(val), true
	case []int:
		if len(val) == 0 {
			return "", false
		}
		return strconv.Itoa(val[0]), true
	}
	return "", false
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
