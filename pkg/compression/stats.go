package compression

import "sync/atomic"

// ByteCounters tracks the bytes a single direction (compressor or
// decompressor) has seen, exposed on the admin stats surface as a
// "bytesIn"/"bytesOut" pair.
type ByteCounters struct {
	BytesIn  int64 `json:"bytesIn"`
	BytesOut int64 `json:"bytesOut"`
}

type codecCounters struct {
	compressor   atomicByteCounters
	decompressor atomicByteCounters
}

type atomicByteCounters struct {
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func (c *atomicByteCounters) add(in, out int) {
	c.bytesIn.Add(int64(in))
	c.bytesOut.Add(int64(out))
}

func (c *atomicByteCounters) snapshot() ByteCounters {
	return ByteCounters{BytesIn: c.bytesIn.Load(), BytesOut: c.bytesOut.Load()}
}

var statsByName = map[string]*codecCounters{
	"noop":   {},
	"snappy": {},
	"zlib":   {},
}

// NameStats is one compressor's compressor/decompressor byte counters, as
// nested under its name in the admin surface's "compression" document.
type NameStats struct {
	Compressor   ByteCounters `json:"compressor"`
	Decompressor ByteCounters `json:"decompressor"`
}

// Stats returns a point-in-time snapshot of bytesIn/bytesOut for every
// registered compressor, keyed by name, matching the admin JSON
// "compression" document.
func Stats() map[string]NameStats {
	out := make(map[string]NameStats, len(statsByName))
	for name, c := range statsByName {
		out[name] = NameStats{
			Compressor:   c.compressor.snapshot(),
			Decompressor: c.decompressor.snapshot(),
		}
	}
	return out
}

func recordCompress(name string, in, out int) {
	if c, ok := statsByName[name]; ok {
		c.compressor.add(in, out)
	}
}

func recordDecompress(name string, in, out int) {
	if c, ok := statsByName[name]; ok {
		c.decompressor.add(in, out)
	}
}
