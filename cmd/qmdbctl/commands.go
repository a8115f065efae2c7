package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"

	"github.com/andreyvit/qmdb"
)

type entryInfo struct {
	ID           uint64 `json:"id"`
	Twig         uint64 `json:"twig"`
	Key          string `json:"key"`
	Value        string `json:"value"`
	Seq          uint64 `json:"seq"`
	NextKey      string `json:"next_key"`
	OldID        string `json:"old_id,omitempty"`
	OldNextKeyID string `json:"old_next_key_id,omitempty"`
}

type proofInfo struct {
	Entry       entryInfo `json:"entry"`
	EntryPath   []string  `json:"entry_path"`
	ActiveChunk string    `json:"active_chunk"`
	ActivePath  []string  `json:"active_path"`
	UpperPath   []string  `json:"upper_path"`
	Root        string    `json:"root"`
	Active      bool      `json:"active"`
	Included    bool      `json:"included"`
}

func runGet(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if c.NArg() != 1 {
		return fmt.Errorf("get: wanted KEY")
	}
	arg := c.Args().Get(0)

	if m.table != nil {
		v, found, err := m.table.Get(arg)
		if err != nil {
			return err
		}
		return printJson(m.w, map[string]any{"key": arg, "found": found, "value": v})
	}

	key, err := m.parseBytes(arg)
	if err != nil {
		return err
	}
	v, found, err := m.db.Get(key)
	if err != nil {
		return err
	}
	out := map[string]any{"key": arg, "found": found}
	if found {
		out["value"] = m.formatBytes(v)
	}
	return printJson(m.w, out)
}

func runPut(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if c.NArg() != 2 {
		return fmt.Errorf("put: wanted KEY VALUE")
	}
	arg, varg := c.Args().Get(0), c.Args().Get(1)
	seq := c.Uint64("seq")

	var pos qmdb.Position
	if m.table != nil {
		var v any
		if err := json.Unmarshal([]byte(varg), &v); err != nil {
			return fmt.Errorf("put: value is not JSON: %w", err)
		}
		var err error
		pos, err = m.table.Put(arg, v, seq)
		if err != nil {
			return err
		}
	} else {
		key, err := m.parseBytes(arg)
		if err != nil {
			return err
		}
		value, err := m.parseBytes(varg)
		if err != nil {
			return err
		}
		pos, err = m.db.Put(key, value, seq)
		if err != nil {
			return err
		}
	}
	if m.verbose {
		fmt.Fprintf(m.e, "stored %s at %v\n", arg, pos)
	}
	return m.printRoot()
}

func runDelete(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if c.NArg() != 1 {
		return fmt.Errorf("delete: wanted KEY")
	}
	key, err := m.keyOf(c.Args().Get(0))
	if err != nil {
		return err
	}
	if err := m.db.Delete(key); err != nil {
		return err
	}
	return m.printRoot()
}

func runProve(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	var p *qmdb.Proof
	if s := c.String("entry"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("prove: invalid entry id %q", s)
		}
		p, err = m.db.ProveEntry(id)
		if err != nil {
			return err
		}
	} else {
		if c.NArg() != 1 {
			return fmt.Errorf("prove: wanted KEY or --entry ID")
		}
		key, err := m.keyOf(c.Args().Get(0))
		if err != nil {
			return err
		}
		p, err = m.db.Prove(key)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("prove: %s not found", c.Args().Get(0))
		}
	}

	root, err := m.db.Root()
	if err != nil {
		return err
	}
	return printJson(m.w, proofInfo{
		Entry:       m.entryInfo(p.Entry),
		EntryPath:   hashStrings(p.EntryPath),
		ActiveChunk: hex.EncodeToString(p.ActiveChunk),
		ActivePath:  hashStrings(p.ActivePath),
		UpperPath:   hashStrings(p.UpperPath),
		Root:        p.Root.String(),
		Active:      qmdb.Verify(p, root),
		Included:    qmdb.VerifyInclusion(p, root),
	})
}

func runEntry(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if c.NArg() != 1 {
		return fmt.Errorf("entry: wanted ID")
	}
	id, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("entry: invalid id %q", c.Args().Get(0))
	}
	e, err := m.db.Entry(id)
	if err != nil {
		return err
	}
	return printJson(m.w, m.entryInfo(e))
}

func runRoot(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	return m.printRoot()
}

func runPrune(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if s := c.String("twig"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("prune: invalid twig id %q", s)
		}
		if err := m.db.Prune(id); err != nil {
			return err
		}
		return printJson(m.w, map[string]any{"pruned": 1})
	}
	n, err := m.db.PruneInactive()
	if err != nil {
		return err
	}
	return printJson(m.w, map[string]any{"pruned": n})
}

func runFlush(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	if err := m.db.Flush(); err != nil {
		return err
	}
	return m.printRoot()
}

func runStats(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	st, err := m.db.Stats()
	if err != nil {
		return err
	}
	return printJson(m.w, st)
}

func runDump(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	f, err := qmdb.ParseDumpFlags(c.String("sections"))
	if err != nil {
		return err
	}
	s, err := m.db.Dump(f)
	if err != nil {
		return err
	}
	_, err = io.WriteString(m.w, s)
	return err
}

// keyOf maps a command-line key to an application key.
func (m *metadata) keyOf(arg string) ([]byte, error) {
	if m.table != nil {
		return m.table.Key(arg), nil
	}
	return m.parseBytes(arg)
}

func (m *metadata) parseBytes(arg string) ([]byte, error) {
	if !m.hex {
		return []byte(arg), nil
	}
	b, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", arg, err)
	}
	return b, nil
}

func (m *metadata) formatBytes(b []byte) string {
	if m.hex {
		return hex.EncodeToString(b)
	}
	return string(b)
}

func (m *metadata) entryInfo(e qmdb.Entry) entryInfo {
	info := entryInfo{
		ID:      e.ID,
		Twig:    m.db.TwigOf(e.ID),
		Key:     m.formatBytes(e.Key),
		Value:   m.formatBytes(e.Value),
		Seq:     e.Seq,
		NextKey: e.NextKey.String(),
	}
	if m.table != nil {
		if k, ok, err := m.table.ParseKey(e.Key); ok && err == nil {
			info.Key = k
		}
	}
	if e.OldID != qmdb.NoID {
		info.OldID = strconv.FormatUint(e.OldID, 10)
	}
	if e.OldNextKeyID != qmdb.NoID {
		info.OldNextKeyID = strconv.FormatUint(e.OldNextKeyID, 10)
	}
	return info
}

func (m *metadata) printRoot() error {
	root, err := m.db.Root()
	if err != nil {
		return err
	}
	return printJson(m.w, map[string]string{"root": root.String()})
}

func hashStrings(hashes []qmdb.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}

func printJson(handle io.Writer, message any) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(handle, "%s\n", b)
	return nil
}
