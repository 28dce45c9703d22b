// Package firmware implements Intel-HEX parsing and STK500v1 flash
// programming for the vehicle microcontroller.
package firmware

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strings"
)

// PageSize is the flash page size of the target AVR in bytes.
const PageSize = 128

// Intel-HEX record types.
const (
	recData          = 0x00
	recEOF           = 0x01
	recExtSegment    = 0x02
	recStartSegment  = 0x03
	recExtLinear     = 0x04
	recStartLinear   = 0x05
)

// Page is one flash page of the parsed image. Pages whose bytes are all
// 0xFF are omitted from the image entirely.
type Page struct {
	Address uint32 // flash byte address, PageSize-aligned
	Data    []byte // exactly PageSize bytes
}

// Image is a parsed firmware image ready for page programming.
type Image struct {
	Pages     []Page
	ByteCount int // highest used address + 1, before page padding
}

// ParseHex parses an Intel-HEX payload into a page-aligned flash image.
// Record types 00 (data), 01 (EOF), 02 (extended segment) and 04 (extended
// linear) are honoured; 03 and 05 carry start addresses irrelevant to flash
// programming and are ignored. Data beyond flashSize is an error rather than
// a silent truncation.
func ParseHex(text string, flashSize int) (*Image, error) {
	if flashSize <= 0 {
		return nil, fmt.Errorf("invalid flash size %d", flashSize)
	}

	flash := make([]byte, flashSize)
	for i := range flash {
		flash[i] = 0xFF
	}

	var base uint32
	var maxAddr int
	sawEOF := false
	lineNo := 0

	scan := bufio.NewScanner(strings.NewReader(text))
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		if sawEOF {
			break
		}
		if !strings.HasPrefix(line, ":") {
			return nil, fmt.Errorf("line %d: record must start with ':'", lineNo)
		}

		raw, err := hex.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid hex: %w", lineNo, err)
		}
		if len(raw) < 5 {
			return nil, fmt.Errorf("line %d: record too short (%d bytes)", lineNo, len(raw))
		}

		count := int(raw[0])
		if len(raw) != 5+count {
			return nil, fmt.Errorf("line %d: length mismatch: declared %d data bytes, record has %d",
				lineNo, count, len(raw)-5)
		}

		// The low byte of the sum of every record byte, checksum included,
		// must be zero.
		var sum byte
		for _, b := range raw {
			sum += b
		}
		if sum != 0 {
			return nil, fmt.Errorf("line %d: checksum mismatch", lineNo)
		}

		offset := uint32(raw[1])<<8 | uint32(raw[2])
		recType := raw[3]
		data := raw[4 : 4+count]

		switch recType {
		case recData:
			addr := base + offset
			end := int(addr) + count
			if end > flashSize {
				return nil, fmt.Errorf("line %d: data at 0x%04x-0x%04x exceeds flash size %d",
					lineNo, addr, end-1, flashSize)
			}
			copy(flash[addr:], data)
			if end > maxAddr {
				maxAddr = end
			}
		case recEOF:
			sawEOF = true
		case recExtSegment:
			if count != 2 {
				return nil, fmt.Errorf("line %d: extended segment record needs 2 data bytes", lineNo)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 4
		case recExtLinear:
			if count != 2 {
				return nil, fmt.Errorf("line %d: extended linear record needs 2 data bytes", lineNo)
			}
			base = (uint32(data[0])<<8 | uint32(data[1])) << 16
		case recStartSegment, recStartLinear:
			// start-address records: nothing to program
		default:
			return nil, fmt.Errorf("line %d: unsupported record type 0x%02x", lineNo, recType)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("reading hex payload: %w", err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing EOF record")
	}
	if maxAddr == 0 {
		return nil, fmt.Errorf("no data records")
	}

	// Pad to a page boundary and collect non-empty pages.
	padded := (maxAddr + PageSize - 1) / PageSize * PageSize
	img := &Image{ByteCount: maxAddr}
	for addr := 0; addr < padded; addr += PageSize {
		page := flash[addr : addr+PageSize]
		if isBlank(page) {
			continue
		}
		data := make([]byte, PageSize)
		copy(data, page)
		img.Pages = append(img.Pages, Page{Address: uint32(addr), Data: data})
	}
	return img, nil
}

func isBlank(page []byte) bool {
	for _, b := range page {
		if b != 0xFF {
			return false
		}
	}
	return true
}
