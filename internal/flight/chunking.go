package flight

// ChunkConfig sizes the record batches DoGet emits. Batches start small so the
// first rows reach the client quickly and grow geometrically up to MaxRows.
type ChunkConfig struct {
	MinRows int
	MaxRows int
	Growth  float64
}

// DefaultChunkConfig returns the chunking used when none is configured.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MinRows: 4096, MaxRows: 65536, Growth: 2.0}
}

func (c ChunkConfig) normalized() ChunkConfig {
	if c.MinRows <= 0 {
		c.MinRows = 1
	}
	if c.MaxRows < c.MinRows {
		c.MaxRows = c.MinRows
	}
	if c.Growth < 1 {
		c.Growth = 1
	}
	return c
}

// Spans splits n rows into consecutive [start, end) spans.
func (c ChunkConfig) Spans(n int) [][2]int {
	c = c.normalized()
	var spans [][2]int
	size := c.MinRows
	for start := 0; start < n; {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, [2]int{start, end})
		start = end

		next := int(float64(size) * c.Growth)
		if next > c.MaxRows {
			next = c.MaxRows
		}
		size = next
	}
	return spans
}
