package hub

import (
	"encoding/binary"

	"github.com/JocelynWordSmith/polly/internal/thermal"
)

// EncodeThermalFrame packs a thermal frame for the /flir endpoint:
// u16 width | u16 height | u32 min | u32 max | u16[w*h] pixels, all
// little-endian.
func EncodeThermalFrame(f thermal.Frame) []byte {
	out := make([]byte, 12+2*len(f.Pixels))
	binary.LittleEndian.PutUint16(out[0:], uint16(f.Width))
	binary.LittleEndian.PutUint16(out[2:], uint16(f.Height))
	binary.LittleEndian.PutUint32(out[4:], uint32(f.Min))
	binary.LittleEndian.PutUint32(out[8:], uint32(f.Max))
	for i, px := range f.Pixels {
		binary.LittleEndian.PutUint16(out[12+2*i:], px)
	}
	return out
}
