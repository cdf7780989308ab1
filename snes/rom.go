package snes

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// ROM is a cartridge image with its internal header located.
type ROM struct {
	Contents []byte

	HeaderOffset uint32
	Header       Header
}

// $FFB0
type Header struct {
	MakerCode          uint16
	GameCode           uint32
	Fixed1             [7]byte
	ExpansionRAMSize   byte
	SpecialVersion     byte
	CartridgeSubType   byte
	Title              [21]byte
	MapMode            byte
	CartridgeType      byte
	ROMSize            byte
	RAMSize            byte
	DestinationCode    byte
	Fixed2             byte
	MaskROMVersion     byte
	ComplementCheckSum uint16
	CheckSum           uint16
}

const headerSize = 0x30

// candidate header locations; LoROM first, then HiROM, then ExHiROM:
var headerOffsets = []uint32{0x007FB0, 0x00FFB0, 0x40FFB0}

// NewROM locates the internal header of a ROM image, skipping a 512 byte copier header if present.
func NewROM(contents []byte) (r *ROM, err error) {
	if len(contents)%0x8000 == 0x200 {
		contents = contents[0x200:]
	}
	if len(contents) < 0x8000 {
		return nil, fmt.Errorf("snes: ROM file not big enough to contain SNES header")
	}

	best, bestScore := -1, -1
	headers := make([]Header, len(headerOffsets))
	for i, offs := range headerOffsets {
		if uint32(len(contents)) < offs+headerSize {
			continue
		}
		b := bytes.NewReader(contents[offs : offs+headerSize])
		if err = readBinaryStruct(b, &headers[i]); err != nil {
			return
		}
		if score := scoreHeader(&headers[i], i); score > bestScore {
			best, bestScore = i, score
		}
	}

	r = &ROM{
		Contents:     contents,
		HeaderOffset: headerOffsets[best],
		Header:       headers[best],
	}
	return
}

func scoreHeader(h *Header, i int) (score int) {
	if h.CheckSum^h.ComplementCheckSum == 0xFFFF {
		score += 4
	}
	switch h.MapMode & 0x0F {
	case 0x0, 0x2, 0x3:
		if i == 0 {
			score += 2
		}
	case 0x1:
		if i == 1 {
			score += 2
		}
	case 0x5:
		if i == 2 {
			score += 2
		}
	}
	if h.MapMode&0xE0 == 0x20 {
		score++
	}
	return
}

func readBinaryStruct(b *bytes.Reader, into interface{}) (err error) {
	hv := reflect.ValueOf(into).Elem()
	for i := 0; i < hv.NumField(); i++ {
		f := hv.Field(i)
		p := f.Addr().Interface()
		err = binary.Read(b, binary.LittleEndian, p)
		if err != nil {
			return fmt.Errorf("snes: error reading struct field %s of type %s: %w", hv.Type().Field(i).Name, hv.Type().Name(), err)
		}
	}
	return
}

// Mapping derives the memory layout from the header's map mode byte.
func (r *ROM) Mapping() Mapping {
	switch r.Header.MapMode & 0x0F {
	case 0x0:
		if r.HeaderOffset == 0x007FB0 && len(r.Contents) > 0x400000 {
			return MappingExLoROM
		}
		return MappingLoROM
	case 0x1:
		return MappingHiROM
	case 0x2:
		return MappingExLoROM
	case 0x3:
		return MappingSA1
	case 0x5:
		return MappingExHiROM
	}
	return MappingUnknown
}

func (r *ROM) Title() string {
	return string(bytes.TrimRight(r.Header.Title[:], " \x00"))
}

func (r *ROM) ROMSize() uint32 {
	return 1024 << r.Header.ROMSize
}

func (r *ROM) RAMSize() uint32 {
	if r.Header.RAMSize == 0 {
		return 0
	}
	return 1024 << r.Header.RAMSize
}
