package indexer

import (
	"fmt"
	"log/slog"
	"math"
)

const (
	DefaultShards              = 65536
	DefaultLeafInitialCapacity = 8
	DefaultLeafMaxCapacity     = 32
	DefaultCompactRatio        = 20
	DefaultCompactThreshold    = 500
)

// Config holds the indexer tunables. Zero values mean defaults.
type Config struct {
	Shards              int
	LeafInitialCapacity int
	LeafMaxCapacity     int
	BufferSize          int
	CompactRatio        int
	CompactThreshold    int

	// MaxBuffers caps the buffer list of each unit. Zero means no cap beyond
	// what a Position can address.
	MaxBuffers int

	Logger  *slog.Logger
	Verbose bool
}

func (c *Config) Normalize() error {
	if c.Shards == 0 {
		c.Shards = DefaultShards
	}
	if c.LeafInitialCapacity == 0 {
		c.LeafInitialCapacity = DefaultLeafInitialCapacity
	}
	if c.LeafMaxCapacity == 0 {
		c.LeafMaxCapacity = DefaultLeafMaxCapacity
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.CompactRatio == 0 {
		c.CompactRatio = DefaultCompactRatio
	}
	if c.CompactThreshold == 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.MaxBuffers == 0 {
		c.MaxBuffers = math.MaxInt32
	}

	if c.Shards < 1 || c.Shards > DefaultShards {
		return fmt.Errorf("indexer: shard count %d out of range [1, %d]", c.Shards, DefaultShards)
	}
	if c.LeafInitialCapacity < 2 || c.LeafMaxCapacity < c.LeafInitialCapacity || c.LeafMaxCapacity > math.MaxUint16 {
		return fmt.Errorf("indexer: invalid leaf capacities %d..%d", c.LeafInitialCapacity, c.LeafMaxCapacity)
	}
	payload := c.BufferSize - BufferHeaderSize
	if payload < LeafSize(c.LeafMaxCapacity) {
		return fmt.Errorf("indexer: buffer size %d cannot hold a leaf of capacity %d", c.BufferSize, c.LeafMaxCapacity)
	}
	if payload > math.MaxUint16+1 {
		return fmt.Errorf("indexer: buffer size %d exceeds the 16-bit offset range", c.BufferSize)
	}
	if c.CompactRatio < 1 || c.CompactThreshold < 0 {
		return fmt.Errorf("indexer: invalid compaction ratio %d or threshold %d", c.CompactRatio, c.CompactThreshold)
	}
	if c.MaxBuffers < 1 || c.MaxBuffers > math.MaxInt32 {
		return fmt.Errorf("indexer: max buffers %d out of range", c.MaxBuffers)
	}
	return nil
}

func (c *Config) payload() int {
	return c.BufferSize - BufferHeaderSize
}
