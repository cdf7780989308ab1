package snes

// Cache holds the last byte seen at each bridge address. Absent addresses read as 0.
type Cache struct {
	m map[uint32]byte
}

func NewCache() *Cache {
	return &Cache{m: make(map[uint32]byte)}
}

func (c *Cache) Get(addr uint32) byte {
	return c.m[addr]
}

// Has reports whether a value was ever stored for addr.
func (c *Cache) Has(addr uint32) bool {
	_, ok := c.m[addr]
	return ok
}

// Store records data read starting at addr and reports whether any byte differs from before.
func (c *Cache) Store(addr uint32, data []byte) (changed bool) {
	for i, b := range data {
		a := addr + uint32(i)
		if old, ok := c.m[a]; !ok || old != b {
			c.m[a] = b
			changed = true
		}
	}
	return
}

func (c *Cache) Len() int { return len(c.m) }

func (c *Cache) Clear() {
	for k := range c.m {
		delete(c.m, k)
	}
}
