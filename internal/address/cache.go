package address

// Cache holds transient derived state for an address: the resolved
// value and the observed readiness flag.
//
// The cache is owned by the address handle and is never part of the
// address identity. It must be invalidated whenever the address moves
// between portals, because readiness observed against one portal says
// nothing about another.
type Cache struct {
	value    any
	hasValue bool
	ready    bool
}

// SetValue records a resolved value. A resolved value implies readiness.
func (c *Cache) SetValue(v any) {
	c.value = v
	c.hasValue = true
	c.ready = true
}

// Value returns the cached value and whether one is cached.
func (c *Cache) Value() (any, bool) {
	return c.value, c.hasValue
}

// MarkReady records that the addressed entry was observed as ready.
func (c *Cache) MarkReady() { c.ready = true }

// Ready reports whether readiness has been observed.
// A false return means "unknown", never "definitely absent".
func (c *Cache) Ready() bool { return c.ready }

// Invalidate clears all cached state.
func (c *Cache) Invalidate() {
	c.value = nil
	c.hasValue = false
	c.ready = false
}
