package usb2snes

import (
	"net"
	"strconv"
	"strings"
)

const (
	DefaultPort = 23074
	LegacyPort  = 8080
)

// DefaultAddresses are tried when nothing else is configured.
var DefaultAddresses = NormalizeAddresses([]string{"localhost"})

// NormalizeAddresses turns user supplied bridge addresses into websocket URLs.
//
// Entries with a scheme are kept as is; host:port gains ws://; a bare host expands to the
// current default port followed by the legacy port. Duplicates are dropped.
func NormalizeAddresses(in []string) []string {
	out := make([]string, 0, len(in)*2)
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "://") {
			add(s)
			continue
		}
		if _, port, err := net.SplitHostPort(s); err == nil && port != "" {
			add("ws://" + s)
			continue
		}
		host := strings.Trim(s, "[]")
		add("ws://" + net.JoinHostPort(host, strconv.Itoa(DefaultPort)))
		add("ws://" + net.JoinHostPort(host, strconv.Itoa(LegacyPort)))
	}
	return out
}
