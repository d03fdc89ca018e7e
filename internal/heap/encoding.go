package heap

import "encoding/binary"

// byteOrder is the wire order words are stored in within an arena. Little
// endian matches the host architectures proff targets and the teacher's
// own assumption (see internal/gocore/root.go's "little-endian only"
// TODOs on raw memory reads).
var byteOrder = binary.LittleEndian
