package firmware

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

const flash32k = 32 * 1024

// TestParseFourBytes is the §8 seed: one data record, one EOF record.
func TestParseFourBytes(t *testing.T) {
	img, err := ParseHex(":0400000001020304F2\n:00000001FF\n", flash32k)
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if len(img.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(img.Pages))
	}
	page := img.Pages[0]
	if page.Address != 0 {
		t.Errorf("page address = 0x%x, want 0", page.Address)
	}
	if !bytes.Equal(page.Data[:4], []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("page data = % x", page.Data[:4])
	}
	for _, b := range page.Data[4:] {
		if b != 0xFF {
			t.Errorf("padding byte %x, want ff", b)
			break
		}
	}
	if img.ByteCount != 4 {
		t.Errorf("byte count = %d, want 4", img.ByteCount)
	}
}

func TestCorruptChecksumRejected(t *testing.T) {
	_, err := ParseHex(":0400000001020304F0\n:00000001FF\n", flash32k)
	if err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Errorf("corrupt checksum accepted: %v", err)
	}
}

func TestChecksumValidity(t *testing.T) {
	// every valid record's bytes, checksum included, sum to zero mod 256
	valid := ":10010000214601360121470136007EFE09D2190140\n:00000001FF\n"
	if _, err := ParseHex(valid, flash32k); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
	// perturb one data nibble without fixing the checksum
	invalid := strings.Replace(valid, "2146", "2147", 1)
	if _, err := ParseHex(invalid, flash32k); err == nil {
		t.Error("record with stale checksum accepted")
	}
}

func TestBlankPagesOmitted(t *testing.T) {
	// data only in the third page (address 0x100 = page 2)
	var sb strings.Builder
	sb.WriteString(hexRecord(0x0100, []byte{0xAA, 0xBB}))
	sb.WriteString(":00000001FF\n")

	img, err := ParseHex(sb.String(), flash32k)
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if len(img.Pages) != 1 {
		t.Fatalf("got %d pages, want 1 (blank pages must be dropped)", len(img.Pages))
	}
	if img.Pages[0].Address != 0x100 {
		t.Errorf("page address = 0x%x, want 0x100", img.Pages[0].Address)
	}
}

func TestExtendedLinearAddress(t *testing.T) {
	// base 0x1 0000 exceeds a 32KiB part: must be an overflow error
	text := ":020000040001F9\n" + hexRecord(0, []byte{0x01}) + ":00000001FF\n"
	if _, err := ParseHex(text, flash32k); err == nil {
		t.Error("data above flash end accepted")
	}

	// the same image parses fine when the part is large enough
	img, err := ParseHex(text, 128*1024)
	if err != nil {
		t.Fatalf("ParseHex with 128KiB flash: %v", err)
	}
	if img.Pages[0].Address != 0x10000 {
		t.Errorf("page address = 0x%x, want 0x10000", img.Pages[0].Address)
	}
}

func TestExtendedSegmentAddress(t *testing.T) {
	// segment value 0x0100 shifts to base 0x1000
	text := ":020000020100FB\n" + hexRecord(0, []byte{0x42}) + ":00000001FF\n"
	img, err := ParseHex(text, flash32k)
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if img.Pages[0].Address != 0x1000 {
		t.Errorf("page address = 0x%x, want 0x1000", img.Pages[0].Address)
	}
}

func TestStartAddressRecordsIgnored(t *testing.T) {
	text := ":0400000300003800C1\n" + hexRecord(0, []byte{0x01}) + ":00000001FF\n"
	if _, err := ParseHex(text, flash32k); err != nil {
		t.Errorf("start segment record not ignored: %v", err)
	}
}

func TestMissingEOF(t *testing.T) {
	if _, err := ParseHex(":0400000001020304F2\n", flash32k); err == nil {
		t.Error("image without EOF record accepted")
	}
}

func TestMissingColon(t *testing.T) {
	if _, err := ParseHex("0400000001020304F2\n:00000001FF\n", flash32k); err == nil {
		t.Error("record without leading colon accepted")
	}
}

func TestEmptyImage(t *testing.T) {
	if _, err := ParseHex(":00000001FF\n", flash32k); err == nil {
		t.Error("image with no data records accepted")
	}
}

// hexRecord builds a checksum-correct data record.
func hexRecord(addr int, data []byte) string {
	sum := byte(len(data)) + byte(addr>>8) + byte(addr&0xFF)
	var sb strings.Builder
	fmt.Fprintf(&sb, ":%02X%04X00", len(data), addr)
	for _, b := range data {
		fmt.Fprintf(&sb, "%02X", b)
		sum += b
	}
	fmt.Fprintf(&sb, "%02X\n", byte(-sum)&0xFF)
	return sb.String()
}
