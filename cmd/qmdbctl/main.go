// Command qmdbctl inspects and edits a qmdb database.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/andreyvit/qmdb"
)

type metadata struct {
	db      *qmdb.DB
	table   *qmdb.Table[string, any]
	hex     bool
	verbose bool
	e       io.Writer
	w       io.Writer
}

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "qmdbctl"
	app.Usage = "inspect and edit a qmdb database"
	app.Version = version
	app.HideVersion = true

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "",
			Usage: " Lua configuration `FILE`",
		},
		cli.StringFlag{
			Name:  "dir, d",
			Value: "",
			Usage: " database `DIRECTORY` (overrides data_directory)",
		},
		cli.StringFlag{
			Name:  "storage, s",
			Value: "",
			Usage: " storage `KIND` [bolt|leveldb]",
		},
		cli.StringFlag{
			Name:  "table, t",
			Value: "",
			Usage: " treat keys as string keys of table `NAME` with JSON values",
		},
		cli.BoolFlag{
			Name:  "hex, x",
			Usage: " keys and values are hex-encoded",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " verbose logging",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "get",
			Usage:     "display the current value of a key",
			ArgsUsage: "KEY",
			Action:    runGet,
		},
		{
			Name:      "put",
			Usage:     "write a value",
			ArgsUsage: "KEY VALUE",
			Flags: []cli.Flag{
				cli.Uint64Flag{
					Name:  "seq, q",
					Value: 0,
					Usage: " sequence `NUMBER` of the write",
				},
			},
			Action: runPut,
		},
		{
			Name:      "delete",
			Usage:     "delete a key",
			ArgsUsage: "KEY",
			Action:    runDelete,
		},
		{
			Name:      "prove",
			Usage:     "display a membership proof of a key or an entry",
			ArgsUsage: "KEY",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "entry, e",
					Value: "",
					Usage: " prove entry `ID` instead of a key",
				},
			},
			Action: runProve,
		},
		{
			Name:      "entry",
			Usage:     "display an entry by id",
			ArgsUsage: "ID",
			Action:    runEntry,
		},
		{
			Name:   "root",
			Usage:  "display the global root",
			Action: runRoot,
		},
		{
			Name:  "prune",
			Usage: "discard entries of inactive twigs",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "twig",
					Value: "",
					Usage: " prune only twig `ID`",
				},
			},
			Action: runPrune,
		},
		{
			Name:   "flush",
			Usage:  "checkpoint the database",
			Action: runFlush,
		},
		{
			Name:   "stats",
			Usage:  "display database statistics",
			Action: runStats,
		},
		{
			Name:  "dump",
			Usage: "dump database internals",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "sections",
					Value: "stats,twigs,shards",
					Usage: " comma-separated `SECTIONS` [stats|twigs|shards|leaves|entries|all]",
				},
			},
			Action: runDump,
		},
		{
			Name:  "version",
			Usage: "display qmdbctl version",
			Action: func(c *cli.Context) error {
				fmt.Fprintf(c.App.Writer, "%s\n", version)
				return nil
			},
		},
	}

	app.Before = func(c *cli.Context) error {
		switch c.Args().Get(0) {
		case "", "version", "help", "h":
			return nil
		}

		e := c.App.ErrWriter
		verbose := c.GlobalBool("verbose")

		config := &Configuration{Storage: qmdb.Bolt.String()}
		if file := c.GlobalString("config"); file != "" {
			if verbose {
				fmt.Fprintf(e, "reading config file: %s\n", file)
			}
			var err error
			config, err = getConfiguration(file)
			if err != nil {
				return err
			}
		}
		if dir := c.GlobalString("dir"); dir != "" {
			config.DataDirectory = dir
		}
		if s := c.GlobalString("storage"); s != "" {
			config.Storage = s
		}
		if config.DataDirectory == "" {
			return fmt.Errorf("no database directory: use --dir or a configuration file")
		}

		opt, err := config.options()
		if err != nil {
			return err
		}
		if opt.Storage == qmdb.Memory {
			return fmt.Errorf("storage %v is not persistent", opt.Storage)
		}
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		opt.Logger = slog.New(slog.NewTextHandler(e, &slog.HandlerOptions{Level: level}))
		opt.Verbose = verbose

		db, err := qmdb.Open(config.DataDirectory, opt)
		if err != nil {
			return err
		}
		m := &metadata{
			db:      db,
			hex:     c.GlobalBool("hex"),
			verbose: verbose,
			e:       e,
			w:       c.App.Writer,
		}
		if name := c.GlobalString("table"); name != "" {
			m.table = qmdb.NewTable(db, name, qmdb.NewSchema[string, any](qmdb.JSON))
		}
		c.App.Metadata["config"] = m
		return nil
	}

	app.After = func(c *cli.Context) error {
		m, ok := c.App.Metadata["config"].(*metadata)
		if !ok {
			return nil
		}
		return m.db.Close()
	}
	return app
}
