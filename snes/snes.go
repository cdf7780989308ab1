// Package snes models the SNES memory as seen through a flash cart bridge.
//
// Console (bus) addresses are 24-bit. Bridges such as usb2snes expose a flat address space
// instead, laid out like the FX Pak Pro:
//
//	000000-DFFFFF = ROM
//	E00000-EFFFFF = SRAM
//	F50000-F6FFFF = WRAM
//	F70000-F8FFFF = VRAM
//	F90000-F901FF = CGRAM
//	F90200-F904FF = OAM
//
// MapAddress translates bus addresses into that space for each cartridge mapping.
package snes

const (
	// MaxBusAddress is the highest console address a watch or read may use.
	MaxBusAddress = 0xFFFFFF

	// SRAMBase is the start of save RAM in the bridge address space.
	SRAMBase = 0xE00000
	// WRAMBase is the start of work RAM in the bridge address space.
	WRAMBase = 0xF50000

	// ROMBoundary separates ROM from everything else in the bridge address space.
	ROMBoundary = SRAMBase
)

// IsROM reports whether a bridge address lies in cartridge ROM.
func IsROM(pakAddr uint32) bool {
	return pakAddr < ROMBoundary
}
