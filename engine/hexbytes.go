package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

func (b *HexBytes) UnmarshalJSON(j []byte) (err error) {
	var s string
	err = json.Unmarshal(j, &s)
	if err != nil {
		return
	}
	*b, err = hex.DecodeString(s)
	return
}

// Address is a bus address that reads from JSON as either a number or a hex string.
type Address uint32

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("$%06X", uint32(a)))
}

func (a *Address) UnmarshalJSON(j []byte) error {
	var n uint32
	if err := json.Unmarshal(j, &n); err == nil {
		*a = Address(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(j, &s); err != nil {
		return err
	}
	v, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = Address(v)
	return nil
}

// ParseAddress accepts "$7E0010", "0x7E0010", "7E0010h" or a decimal number prefixed by "#".
func ParseAddress(s string) (uint32, error) {
	t := strings.TrimSpace(s)
	base := 16
	switch {
	case strings.HasPrefix(t, "$"):
		t = t[1:]
	case strings.HasPrefix(t, "0x"), strings.HasPrefix(t, "0X"):
		t = t[2:]
	case strings.HasSuffix(t, "h"), strings.HasSuffix(t, "H"):
		t = t[:len(t)-1]
	case strings.HasPrefix(t, "#"):
		t = t[1:]
		base = 10
	}
	v, err := strconv.ParseUint(t, base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return uint32(v), nil
}
