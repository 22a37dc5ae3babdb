// Package dcm is the instance-file codec backing the catalog: it reads and
// writes DICOM files via github.com/suyashkumar/dicom and exposes them to
// the catalog as attribute/pixel datasets.
package dcm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomvault/pkg/catalog"
)

// explicitVRLittleEndian is the transfer syntax stamped on written files.
const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Codec implements catalog.Codec for DICOM Part-10 files.
type Codec struct{}

var _ catalog.Codec = (*Codec)(nil)

// New returns a DICOM codec.
func New() *Codec {
	return &Codec{}
}

// Read parses the DICOM file at the given path.
func (c *Codec) Read(path string) (catalog.Dataset, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &dataset{ds: ds}, nil
}

// NewDataset returns an empty dataset to serve as a write template.
func (c *Codec) NewDataset() catalog.Dataset {
	return &dataset{}
}

// Write stores the dataset as a Part-10 file, regenerating the file meta
// group from the dataset's SOP identifiers.
func (c *Codec) Write(ds catalog.Dataset, path string) error {
	d, ok := ds.(*dataset)
	if !ok {
		return fmt.Errorf("cannot write foreign dataset type %T", ds)
	}
	d.setString(tag.TransferSyntaxUID, explicitVRLittleEndian)
	if v, ok := d.Value(catalog.AttrSOPClassUID); ok {
		d.setString(tag.MediaStorageSOPClassUID, v.(string))
	}
	if v, ok := d.Value(catalog.AttrSOPInstanceUID); ok {
		d.setString(tag.MediaStorageSOPInstanceUID, v.(string))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := dicom.Write(f, d.ds, dicom.SkipVRVerification()); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SplitMultiframe converts a multiframe file into one single-frame file
// per frame, written next to the original, and returns their paths. Each
// new file gets a fresh SOPInstanceUID and its frame index as
// InstanceNumber.
func (c *Codec) SplitMultiframe(path string) ([]string, error) {
	src, err := c.Read(path)
	if err != nil {
		return nil, err
	}
	d := src.(*dataset)
	el, err := d.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s has no pixel data: %w", path, err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%s has malformed pixel data", path)
	}
	if len(info.Frames) < 2 {
		return nil, fmt.Errorf("%s is not a multiframe file", path)
	}

	stem := strings.TrimSuffix(path, filepath.Ext(path))
	var files []string
	for i, fr := range info.Frames {
		single := d.clone()
		single.remove(tag.NumberOfFrames)
		single.setPixelFrame(fr)
		single.SetValue(catalog.AttrSOPInstanceUID, c.NewUID())
		single.SetValue(catalog.AttrInstanceNumber, i+1)
		out := fmt.Sprintf("%s_f%04d.dcm", stem, i+1)
		if err := c.Write(single, out); err != nil {
			return nil, err
		}
		files = append(files, out)
	}
	return files, nil
}
