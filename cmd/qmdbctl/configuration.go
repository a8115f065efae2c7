package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/andreyvit/qmdb"
)

type TwigConfiguration struct {
	Capacity        int    `gluamapper:"capacity" json:"capacity"`
	Groups          int    `gluamapper:"groups" json:"groups"`
	CacheExpiration string `gluamapper:"cache_expiration" json:"cache_expiration"`
}

type IndexConfiguration struct {
	Shards              int `gluamapper:"shards" json:"shards"`
	LeafInitialCapacity int `gluamapper:"leaf_initial_capacity" json:"leaf_initial_capacity"`
	LeafMaxCapacity     int `gluamapper:"leaf_max_capacity" json:"leaf_max_capacity"`
	BufferSize          int `gluamapper:"buffer_size" json:"buffer_size"`
	CompactRatio        int `gluamapper:"compact_ratio" json:"compact_ratio"`
	CompactThreshold    int `gluamapper:"compact_threshold" json:"compact_threshold"`
	MaxBuffers          int `gluamapper:"max_buffers" json:"max_buffers"`
}

type JournalConfiguration struct {
	Disable     bool  `gluamapper:"disable" json:"disable"`
	MaxFileSize int64 `gluamapper:"max_file_size" json:"max_file_size"`
}

// Configuration is what a configuration file returns. Zero values mean the
// database defaults.
type Configuration struct {
	DataDirectory string               `gluamapper:"data_directory" json:"data_directory"`
	Storage       string               `gluamapper:"storage" json:"storage"`
	MmapSize      int                  `gluamapper:"mmap_size" json:"mmap_size"`
	Index         IndexConfiguration   `gluamapper:"index" json:"index"`
	Twig          TwigConfiguration    `gluamapper:"twig" json:"twig"`
	Journal       JournalConfiguration `gluamapper:"journal" json:"journal"`
}

// parseConfigurationFile runs a Lua file and maps the table it returns onto
// config. The global arg[0] holds the file name.
func parseConfigurationFile(fileName string, config *Configuration) error {
	L := lua.NewState()
	defer L.Close()

	L.OpenLibs()

	arg := &lua.LTable{}
	arg.Insert(0, lua.LString(fileName))
	L.SetGlobal("arg", arg)

	if err := L.DoFile(fileName); err != nil {
		return err
	}

	tbl, ok := L.Get(L.GetTop()).(*lua.LTable)
	if !ok {
		return fmt.Errorf("%s: must return a table, got %s", fileName, L.Get(L.GetTop()).Type())
	}
	mapper := gluamapper.Mapper{Option: gluamapper.Option{
		NameFunc: func(s string) string {
			return s
		},
		TagName: "gluamapper",
	}}
	return mapper.Map(tbl, config)
}

// getConfiguration reads a configuration file. A data directory of "." or a
// relative path is resolved against the file's directory.
func getConfiguration(fileName string) (*Configuration, error) {
	fileName, err := filepath.Abs(filepath.Clean(fileName))
	if err != nil {
		return nil, err
	}
	baseDir, _ := filepath.Split(fileName)

	config := &Configuration{
		DataDirectory: ".",
		Storage:       qmdb.Bolt.String(),
	}
	if err := parseConfigurationFile(fileName, config); err != nil {
		return nil, err
	}

	switch config.DataDirectory {
	case "", "~":
		return nil, fmt.Errorf("data_directory: %q is not a valid directory", config.DataDirectory)
	case ".":
		config.DataDirectory = baseDir
	default:
		if !filepath.IsAbs(config.DataDirectory) {
			config.DataDirectory = filepath.Join(baseDir, config.DataDirectory)
		}
	}
	config.DataDirectory = filepath.Clean(config.DataDirectory)
	return config, nil
}

func (c *Configuration) options() (qmdb.Options, error) {
	kind, err := qmdb.ParseStorageKind(c.Storage)
	if err != nil {
		return qmdb.Options{}, err
	}
	var expiration time.Duration
	if c.Twig.CacheExpiration != "" {
		expiration, err = time.ParseDuration(c.Twig.CacheExpiration)
		if err != nil {
			return qmdb.Options{}, fmt.Errorf("twig.cache_expiration: %w", err)
		}
	}
	return qmdb.Options{
		Storage:             kind,
		Shards:              c.Index.Shards,
		LeafInitialCapacity: c.Index.LeafInitialCapacity,
		LeafMaxCapacity:     c.Index.LeafMaxCapacity,
		BufferSize:          c.Index.BufferSize,
		CompactRatio:        c.Index.CompactRatio,
		CompactThreshold:    c.Index.CompactThreshold,
		MaxBuffers:          c.Index.MaxBuffers,
		TwigCapacity:        c.Twig.Capacity,
		TwigGroups:          c.Twig.Groups,
		TwigCacheExpiration: expiration,
		NoJournal:           c.Journal.Disable,
		JournalMaxFileSize:  c.Journal.MaxFileSize,
		MmapSize:            c.MmapSize,
	}, nil
}
