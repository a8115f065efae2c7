package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/qmdb"
)

const testConfig = `
local M = {}

M.data_directory = "data"
M.storage = "leveldb"

M.index = {
    shards = 256,
    leaf_max_capacity = 64,
}

M.twig = {
    capacity = 1024,
    groups = 4,
    cache_expiration = "90s",
}

M.journal = {
    max_file_size = 1048576,
}

return M
`

func TestGetConfiguration(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "qmdb.conf")
	if err := os.WriteFile(file, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := getConfiguration(file)
	if err != nil {
		t.Fatalf("getConfiguration: %v", err)
	}
	if want := filepath.Join(dir, "data"); config.DataDirectory != want {
		t.Errorf("** DataDirectory = %q, wanted %q", config.DataDirectory, want)
	}

	opt, err := config.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opt.Storage != qmdb.LevelDB {
		t.Errorf("** Storage = %v, wanted leveldb", opt.Storage)
	}
	if opt.Shards != 256 || opt.LeafMaxCapacity != 64 || opt.LeafInitialCapacity != 0 {
		t.Errorf("** index options = %d/%d/%d, wanted 256/64/0", opt.Shards, opt.LeafMaxCapacity, opt.LeafInitialCapacity)
	}
	if opt.TwigCapacity != 1024 || opt.TwigGroups != 4 || opt.TwigCacheExpiration != 90*time.Second {
		t.Errorf("** twig options = %d/%d/%v", opt.TwigCapacity, opt.TwigGroups, opt.TwigCacheExpiration)
	}
	if opt.JournalMaxFileSize != 1048576 || opt.NoJournal {
		t.Errorf("** journal options = %d/%v", opt.JournalMaxFileSize, opt.NoJournal)
	}
}

func TestGetConfiguration_dotIsConfigDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "qmdb.conf")
	if err := os.WriteFile(file, []byte(`return { data_directory = "." }`), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := getConfiguration(file)
	if err != nil {
		t.Fatalf("getConfiguration: %v", err)
	}
	if config.DataDirectory != filepath.Clean(dir) {
		t.Errorf("** DataDirectory = %q, wanted %q", config.DataDirectory, dir)
	}
	if config.Storage != "bolt" {
		t.Errorf("** Storage = %q, wanted the bolt default", config.Storage)
	}
}

func TestGetConfiguration_errors(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"syntax":    `return {`,
		"not table": `return 42`,
		"empty dir": `return { data_directory = "" }`,
	}
	for name, src := range tests {
		file := filepath.Join(dir, name+".conf")
		if err := os.WriteFile(file, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := getConfiguration(file); err == nil {
			t.Errorf("** %s: getConfiguration succeeded", name)
		}
	}

	bad := &Configuration{Storage: "bolt", Twig: TwigConfiguration{CacheExpiration: "soon"}}
	if _, err := bad.options(); err == nil {
		t.Errorf("** options with a bad duration succeeded")
	}
	bad = &Configuration{Storage: "tape"}
	if _, err := bad.options(); err == nil {
		t.Errorf("** options with a bad storage succeeded")
	}
}
