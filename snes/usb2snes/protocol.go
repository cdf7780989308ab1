package usb2snes

import (
	"fmt"
	"math/rand"
	"strings"
)

const space = "SNES"

type qusbCommand struct {
	Opcode   string   `json:"Opcode"`
	Space    string   `json:"Space"`
	Operands []string `json:"Operands,omitempty"`
}

type qusbResult struct {
	Results []string `json:"Results"`
}

func newCommand(opcode string, operands ...string) qusbCommand {
	return qusbCommand{Opcode: opcode, Space: space, Operands: operands}
}

func nameCommand(appName string) qusbCommand {
	return newCommand("Name", fmt.Sprintf("%s %04x", appName, rand.Intn(0x10000)))
}

func getAddressCommand(addr uint32, n int) qusbCommand {
	return newCommand("GetAddress", fmt.Sprintf("%06X", addr), fmt.Sprintf("%X", n))
}

// DeviceInfo describes the attached device as reported by the bridge.
type DeviceInfo struct {
	Name     string
	Version  string
	Type     string
	ROMName  string
	Features []string
}

func (d DeviceInfo) HasFeature(flag string) bool {
	for _, f := range d.Features {
		if f == flag {
			return true
		}
	}
	return false
}

// parseInfo reads an Info reply: [version, device type, rom name, flags...].
func parseInfo(name string, results []string) (info DeviceInfo) {
	info.Name = name
	if len(results) > 0 {
		info.Version = results[0]
	}
	if len(results) > 1 {
		info.Type = results[1]
	}
	if len(results) > 2 {
		info.ROMName = results[2]
	}
	for _, r := range results {
		if strings.HasPrefix(r, "FEAT_") || strings.HasPrefix(r, "NO_") {
			info.Features = append(info.Features, r)
		}
	}
	return
}

const featureNoROMRead = "NO_ROM_READ"
