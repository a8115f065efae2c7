package qmdb

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

type StorageKind int

const (
	Bolt StorageKind = iota
	LevelDB

	// Memory keeps everything in process memory; nothing survives Close.
	// The journal is disabled.
	Memory
)

func (k StorageKind) String() string {
	switch k {
	case Bolt:
		return "bolt"
	case LevelDB:
		return "leveldb"
	case Memory:
		return "memory"
	default:
		return fmt.Sprintf("StorageKind(%d)", int(k))
	}
}

// ParseStorageKind is the inverse of StorageKind.String.
func ParseStorageKind(s string) (StorageKind, error) {
	switch s {
	case "", "bolt":
		return Bolt, nil
	case "leveldb":
		return LevelDB, nil
	case "memory":
		return Memory, nil
	default:
		return 0, fmt.Errorf("unknown storage %q", s)
	}
}

// Options configure a database. Zero values mean defaults.
type Options struct {
	Storage StorageKind

	Shards              int
	LeafInitialCapacity int
	LeafMaxCapacity     int
	BufferSize          int
	CompactRatio        int
	CompactThreshold    int
	MaxBuffers          int

	TwigCapacity        int
	TwigGroups          int
	TwigCacheExpiration time.Duration

	// NoJournal disables the write-ahead journal; changes since the last
	// Flush are lost on crash.
	NoJournal          bool
	JournalMaxFileSize int64

	IsTesting bool
	MmapSize  int

	Logger  *slog.Logger
	Verbose bool
}

func (o *Options) normalize() (indexer.Config, twig.Config, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Storage == Memory {
		o.NoJournal = true
	}
	switch o.Storage {
	case Bolt, LevelDB, Memory:
	default:
		return indexer.Config{}, twig.Config{}, fmt.Errorf("qmdb: invalid storage %v", o.Storage)
	}

	icfg := indexer.Config{
		Shards:              o.Shards,
		LeafInitialCapacity: o.LeafInitialCapacity,
		LeafMaxCapacity:     o.LeafMaxCapacity,
		BufferSize:          o.BufferSize,
		CompactRatio:        o.CompactRatio,
		CompactThreshold:    o.CompactThreshold,
		MaxBuffers:          o.MaxBuffers,
		Logger:              o.Logger,
		Verbose:             o.Verbose,
	}
	if err := icfg.Normalize(); err != nil {
		return icfg, twig.Config{}, fmt.Errorf("qmdb: %w", err)
	}
	tcfg := twig.Config{
		Capacity:        o.TwigCapacity,
		Groups:          o.TwigGroups,
		CacheExpiration: o.TwigCacheExpiration,
		Logger:          o.Logger,
		Verbose:         o.Verbose,
	}
	if err := tcfg.Normalize(); err != nil {
		return icfg, tcfg, fmt.Errorf("qmdb: %w", err)
	}

	o.Shards = icfg.Shards
	o.TwigCapacity = tcfg.Capacity
	o.TwigGroups = tcfg.Groups
	return icfg, tcfg, nil
}
