package thermal

import (
	"encoding/binary"
	"testing"
)

// buildFrame assembles a wire frame around the given pixel plane, JPEG blob
// and status JSON. pixels is row-major 80x60.
func buildFrame(pixels []uint16, jpeg []byte, status string) []byte {
	thermal := make([]byte, expectedThermalSize)
	for row := 0; row < OutputHeight; row++ {
		for col := 0; col < OutputWidth; col++ {
			dst := thermalPixelOffset + row*rowStride*2 + col*2
			if col >= OutputWidth/2 {
				dst += 4
			}
			binary.LittleEndian.PutUint16(thermal[dst:], pixels[row*OutputWidth+col])
		}
	}

	body := append(append(append([]byte{}, thermal...), jpeg...), []byte(status)...)

	out := []byte{0xEF, 0xBE, 0x00, 0x00}
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(len(body)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(thermal)))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(jpeg)))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(status)))
	out = append(out, header...)
	return append(out, body...)
}

func gradientPixels() []uint16 {
	px := make([]uint16, OutputWidth*OutputHeight)
	for i := range px {
		px[i] = uint16(1000 + i)
	}
	return px
}

func TestParseSingleFrame(t *testing.T) {
	pixels := gradientPixels()
	data := buildFrame(pixels, []byte{0xFF, 0xD8, 0xFF, 0xD9}, `{"FFCState":"FFCDone"}`)

	p := NewParser()
	frames := p.Push(data)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Width != OutputWidth || f.Height != OutputHeight {
		t.Errorf("frame is %dx%d", f.Width, f.Height)
	}
	for i, want := range pixels {
		if f.Pixels[i] != want {
			t.Fatalf("pixel %d = %d, want %d", i, f.Pixels[i], want)
		}
	}
	if f.Min != 1000 || f.Max != uint16(1000+len(pixels)-1) {
		t.Errorf("min/max = %d/%d", f.Min, f.Max)
	}
	if len(f.JPEG) != 4 || f.JPEG[0] != 0xFF {
		t.Errorf("jpeg section = % x", f.JPEG)
	}
	if f.Status == "" {
		t.Error("status section empty")
	}
}

// TestParseSplitAcrossPushes feeds the frame one odd-sized chunk at a time.
func TestParseSplitAcrossPushes(t *testing.T) {
	data := buildFrame(gradientPixels(), nil, "")
	p := NewParser()

	var frames []Frame
	for len(data) > 0 {
		n := 1000
		if n > len(data) {
			n = len(data)
		}
		frames = append(frames, p.Push(data[:n])...)
		data = data[n:]
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames across split pushes, want 1", len(frames))
	}
}

func TestGarbageBeforeMagicDropped(t *testing.T) {
	data := append([]byte{1, 2, 3, 4, 5}, buildFrame(gradientPixels(), nil, "")...)
	p := NewParser()
	if frames := p.Push(data); len(frames) != 1 {
		t.Fatalf("got %d frames with leading garbage, want 1", len(frames))
	}
	if p.BytesDropped != 5 {
		t.Errorf("dropped %d bytes, want 5", p.BytesDropped)
	}
}

func TestBufferWithoutMagicDiscarded(t *testing.T) {
	p := NewParser()
	p.Push(make([]byte, 4096))
	if len(p.buf) != 0 {
		t.Errorf("magic-free buffer retained %d bytes", len(p.buf))
	}
}

func TestWrongThermalSizeRejected(t *testing.T) {
	// a frame claiming a 160x120 thermal section
	bogus := make([]byte, 2000)
	frame := []byte{0xEF, 0xBE, 0x00, 0x00}
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(len(bogus)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(bogus)))
	frame = append(frame, header...)
	frame = append(frame, bogus...)

	p := NewParser()
	if frames := p.Push(frame); len(frames) != 0 {
		t.Fatalf("unknown thermal size decoded into %d frames", len(frames))
	}
	if p.FramesRejected != 1 {
		t.Errorf("FramesRejected = %d, want 1", p.FramesRejected)
	}
}

// TestFFCSuppression checks the frame during an FFC and the first frame
// after it completes are both discarded.
func TestFFCSuppression(t *testing.T) {
	p := NewParser()

	emitted := len(p.Push(buildFrame(gradientPixels(), nil, `{"FFCState":"FFCDone"}`)))
	emitted += len(p.Push(buildFrame(gradientPixels(), nil, `{"FFCState":"FFCInProgress"}`)))
	emitted += len(p.Push(buildFrame(gradientPixels(), nil, `{"FFCState":"FFCDone"}`)))
	emitted += len(p.Push(buildFrame(gradientPixels(), nil, `{"FFCState":"FFCDone"}`)))

	if emitted != 2 {
		t.Errorf("emitted %d frames, want 2 (in-progress and first post-FFC suppressed)", emitted)
	}
	if p.FramesSuppressed != 2 {
		t.Errorf("FramesSuppressed = %d, want 2", p.FramesSuppressed)
	}
}
