package peers

// DedupHorizon is how many recent frame checksums are retained; the
// newest entry overwrites the oldest unconditionally, so duplicate
// suppression only reaches back this many frames.
const DedupHorizon = 24

// DedupCache is a fixed-size ring of frame checksums.
type DedupCache struct {
	ring [DedupHorizon]uint16
	pos  int
}

// NewDedupCache returns an empty cache.
func NewDedupCache() *DedupCache {
	return &DedupCache{}
}

// Seen reports whether checksum was recorded within the horizon, then
// records it at the current ring position and advances — regardless of
// the match outcome. Checksum 0 never matches: the zero-initialised
// ring and degenerate reads would otherwise produce false positives.
func (d *DedupCache) Seen(checksum uint16) bool {
	dup := false
	if checksum != 0 {
		for _, c := range d.ring {
			if c == checksum {
				dup = true
				break
			}
		}
	}
	d.ring[d.pos] = checksum
	d.pos = (d.pos + 1) % DedupHorizon
	return dup
}
