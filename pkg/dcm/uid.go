package dcm

import (
	"math/big"

	"github.com/google/uuid"
)

// uidRoot is the UUID-derived UID arc: a version 4 UUID rendered as a
// decimal integer under 2.25 is a valid, globally unique DICOM UID.
const uidRoot = "2.25."

// NewUID returns a fresh globally unique identifier in dotted-decimal
// form.
func (c *Codec) NewUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return uidRoot + n.String()
}
