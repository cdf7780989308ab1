package snes

import (
	"fmt"
	"strings"
)

// Mapping is a cartridge memory layout.
type Mapping int

const (
	MappingUnknown Mapping = iota
	MappingLoROM
	MappingHiROM
	MappingExLoROM
	MappingExHiROM
	MappingSA1
)

var mappingNames = [...]string{
	MappingUnknown: "unknown",
	MappingLoROM:   "lorom",
	MappingHiROM:   "hirom",
	MappingExLoROM: "exlorom",
	MappingExHiROM: "exhirom",
	MappingSA1:     "sa1",
}

func (m Mapping) String() string {
	if m < 0 || int(m) >= len(mappingNames) {
		return fmt.Sprintf("Mapping(%d)", int(m))
	}
	return mappingNames[m]
}

// ParseMapping recognizes the mapping names used in pack flags, case-insensitively.
func ParseMapping(s string) (Mapping, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range mappingNames {
		if i == int(MappingUnknown) {
			continue
		}
		if s == name {
			return Mapping(i), true
		}
	}
	return MappingUnknown, false
}

// MappingFromFlags returns the first mapping named in flags.
func MappingFromFlags(flags []string) (Mapping, bool) {
	for _, f := range flags {
		if m, ok := ParseMapping(f); ok {
			return m, true
		}
	}
	return MappingUnknown, false
}

// MapAddress translates a bus address into the bridge address space.
//
// It never fails. Addresses that are not backed by anything the bridge can read map to 0,
// which is indistinguishable from a genuine read of ROM offset 0.
func MapAddress(addr uint32, mode Mapping) uint32 {
	bank := addr >> 16
	if bank == 0x7E || bank == 0x7F {
		return WRAMBase + addr&0x1FFFF
	}

	switch mode {
	case MappingLoROM:
		return mapLoROM(addr)
	case MappingHiROM:
		return mapHiROM(addr)
	case MappingExLoROM:
		return mapExLoROM(addr)
	case MappingExHiROM:
		return mapExHiROM(addr)
	case MappingSA1:
		return mapSA1(addr)
	}

	// legacy behavior; cannot reach SRAM:
	return addr & 0x3FFFF
}

func mapLoROM(addr uint32) uint32 {
	// fast ROM mirror:
	if addr >= 0x800000 {
		addr -= 0x800000
	}
	bank, offs := addr>>16, addr&0xFFFF

	if bank >= 0x70 && bank <= 0x7F && offs < 0x8000 {
		return SRAMBase + (bank-0x70)*0x8000 + offs
	}
	if offs < 0x2000 && bank < 0x40 {
		return WRAMBase + offs
	}
	if offs < 0x8000 {
		return 0
	}
	return (addr&0x7F0000)>>1 + addr&0x7FFF
}

func mapHiROM(addr uint32) uint32 {
	if addr >= 0x800000 {
		addr -= 0x800000
	}
	bank, offs := addr>>16, addr&0xFFFF

	if bank >= 0x20 && bank <= 0x3F && offs >= 0x6000 && offs < 0x8000 {
		return SRAMBase + (bank-0x20)*0x2000 + (offs - 0x6000)
	}
	if offs < 0x2000 && bank < 0x40 {
		return WRAMBase + offs
	}
	return addr & 0x3FFFFF
}

func mapExLoROM(addr uint32) uint32 {
	bank, offs := addr>>16, addr&0xFFFF

	if bank >= 0xF0 && bank <= 0xFF && offs < 0x8000 {
		return SRAMBase + (bank-0xF0)*0x8000 + offs
	}
	if bank&0x7F < 0x40 && offs < 0x2000 {
		return WRAMBase + offs
	}
	if offs < 0x8000 {
		return 0
	}

	rom := (addr&0x7F0000)>>1 + addr&0x7FFF
	if addr&0x800000 != 0 {
		return rom
	}
	return rom + 0x400000
}

func mapExHiROM(addr uint32) uint32 {
	bank, offs := addr>>16, addr&0xFFFF

	if addr >= 0xA00000 && addr <= 0xBFFFFF && offs >= 0x6000 && offs < 0x8000 {
		return SRAMBase + (bank-0xA0)*0x2000 + (offs - 0x6000)
	}
	if bank&0x7F < 0x40 && offs < 0x2000 {
		return WRAMBase + offs
	}

	switch {
	case addr >= 0xC00000 && addr <= 0xFFFFFF:
		return addr & 0x3FFFFF
	case addr >= 0x800000 && addr <= 0xBFFFFF && offs&0x8000 != 0:
		return addr & 0x3FFFFF
	case addr >= 0x400000 && addr <= 0x7DFFFF:
		return 0x400000 + addr&0x3FFFFF
	case addr <= 0x3FFFFF && offs&0x8000 != 0:
		return 0x400000 + addr&0x3FFFFF
	}
	return 0
}

func mapSA1(addr uint32) uint32 {
	switch {
	case addr >= 0xC00000:
		return addr & 0x3FFFFF
	case addr >= 0x800000 && addr <= 0xBFFFFF:
		return mapSA1Mixed(addr)
	case addr >= 0x440000 && addr <= 0x4FFFFF:
		// bank switched BW-RAM mirror:
		return SRAMBase + (addr-0x400000)&0x3FFFF
	case addr >= 0x400000 && addr <= 0x43FFFF:
		return SRAMBase + (addr - 0x400000)
	case addr < 0x400000:
		return mapSA1Mixed(addr)
	}
	return 0
}

// fast ($80-$BF) and slow ($00-$3F) mixed banks share one layout.
func mapSA1Mixed(addr uint32) uint32 {
	bank, offs := (addr>>16)&0x3F, addr&0xFFFF
	switch {
	case offs >= 0x8000:
		return bank*0x8000 + (offs - 0x8000)
	case offs >= 0x6000:
		return SRAMBase + (offs - 0x6000)
	case offs >= 0x2000:
		return 0
	}
	return WRAMBase + offs
}
