package catalog

import (
	"time"
)

// entityAttributes resolves the attribute set to stamp on new instances of
// the entity at the given address, from the patient level down to the
// address depth. Entities that already hold files contribute the
// attributes of their first file, so appended instances inherit the
// existing identifier chain; entities that do not exist yet get freshly
// synthesized identifiers. Resolution never fails: absence of data always
// falls back to synthesis.
func (c *Catalog) entityAttributes(addr Address) map[string]any {
	switch addr.Depth() {
	case 4:
		return c.seriesAttributes(addr)
	case 3:
		return c.studyAttributes(addr)
	default:
		return c.patientAttributes(addr)
	}
}

func (c *Catalog) patientAttributes(addr Address) map[string]any {
	if addr.Depth() < 2 {
		return map[string]any{}
	}
	if keys := c.IndexFor(addr); len(keys) > 0 {
		rec := c.records[keys[0]]
		return attributeMap(map[string]any{
			AttrPatientID:   rec.value(AttrPatientID),
			AttrPatientName: rec.value(AttrPatientName),
		})
	}
	return map[string]any{
		AttrPatientID:   c.codec.NewUID(),
		AttrPatientName: addr.Patient.description(),
	}
}

func (c *Catalog) studyAttributes(addr Address) map[string]any {
	if addr.Depth() < 3 {
		return c.patientAttributes(addr)
	}
	attrs := c.patientAttributes(addr.Parent())
	if keys := c.IndexFor(addr); len(keys) > 0 {
		rec := c.records[keys[0]]
		return mergeAttributes(attrs, map[string]any{
			AttrStudyInstanceUID: rec.value(AttrStudyInstanceUID),
			AttrStudyDescription: rec.value(AttrStudyDescription),
			AttrStudyDate:        rec.value(AttrStudyDate),
		})
	}
	return mergeAttributes(attrs, map[string]any{
		AttrStudyInstanceUID: c.codec.NewUID(),
		AttrStudyDescription: addr.Study.description(),
		AttrStudyDate:        time.Now().Format("20060102"),
	})
}

func (c *Catalog) seriesAttributes(addr Address) map[string]any {
	if addr.Depth() < 4 {
		return c.studyAttributes(addr)
	}
	attrs := c.studyAttributes(addr.Parent())
	if keys := c.IndexFor(addr); len(keys) > 0 {
		rec := c.records[keys[0]]
		return mergeAttributes(attrs, map[string]any{
			AttrSeriesInstanceUID: rec.value(AttrSeriesInstanceUID),
			AttrSeriesDescription: rec.value(AttrSeriesDescription),
			AttrSeriesNumber:      rec.value(AttrSeriesNumber),
		})
	}
	number := 1
	if studyUID, ok := attrs[AttrStudyInstanceUID].(string); ok {
		number = 1 + c.maxSeriesNumber(studyUID)
	}
	return mergeAttributes(attrs, map[string]any{
		AttrSeriesInstanceUID: c.codec.NewUID(),
		AttrSeriesDescription: addr.Series.description(),
		AttrSeriesNumber:      number,
	})
}

// attributeMap drops absent values.
func attributeMap(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// mergeAttributes overlays child attributes onto the parent set, dropping
// absent values. The child wins on a key collision, though levels do not
// share attribute names in practice.
func mergeAttributes(parent, child map[string]any) map[string]any {
	for k, v := range child {
		if v != nil {
			parent[k] = v
		}
	}
	return parent
}
