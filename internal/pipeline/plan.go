package pipeline

// ChunkSize picks frames per chunk from the job length and resolution:
// total/divisor clamped to [MinChunk, MaxChunk], halved for frames above
// HighResPixels so peak memory stays roughly flat
func (c Config) ChunkSize(totalFrames, width, height int) int {
	lo, hi := c.MinChunk, c.MaxChunk
	if lo <= 0 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	divisor := c.ChunkDivisor
	if divisor <= 0 {
		divisor = 1
	}

	size := clamp(totalFrames/divisor, lo, hi)
	if c.HighResPixels > 0 && width*height > c.HighResPixels {
		size = clamp(size/2, lo, hi)
	}
	return size
}

// PlanChunks tiles [start, end) with consecutive chunks of at most size
// frames; the last chunk may be shorter
func PlanChunks(start, end, size int) []Chunk {
	if size <= 0 || end <= start {
		return nil
	}
	chunks := make([]Chunk, 0, (end-start+size-1)/size)
	for s := start; s < end; s += size {
		e := s + size
		if e > end {
			e = end
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: s, End: e})
	}
	return chunks
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
