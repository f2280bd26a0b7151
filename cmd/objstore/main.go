// Command objstore inspects and edits an objstore database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/andreyvit/objstore"
)

type config struct {
	DB          string `toml:"db"`
	Backend     string `toml:"backend"`
	Compression string `toml:"compression"`
	Verbose     bool   `toml:"verbose"`
	Order       int    `toml:"order"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "objstore: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: objstore [flags] <command> [args]

commands:
  names                  list indexes
  dump [index]           print the tree of one or all indexes
  stats [index]          print store or index statistics
  check [index]          verify one or all indexes
  get <index> <key>      print the value stored under key
  put <index> <key> <v>  store a value, creating the index if needed
  del <index> <key>      delete a key
  drop <index>           delete an index
`

func run(args []string, stdout, stderr io.Writer) error {
	var cfg config
	var configFile string
	fs := flag.NewFlagSet("objstore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&configFile, "config", "", "TOML config file")
	fs.StringVar(&cfg.DB, "db", "", "database file")
	fs.StringVar(&cfg.Backend, "backend", "", "storage backend (bolt, page)")
	fs.StringVar(&cfg.Compression, "compression", "", "record compression (none, snappy, lz4)")
	fs.BoolVar(&cfg.Verbose, "v", false, "log structural changes")
	fs.IntVar(&cfg.Order, "order", 0, "order of indexes created by put")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if configFile != "" {
		var fileCfg config
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return err
		}
		if err := toml.Unmarshal(raw, &fileCfg); err != nil {
			return fmt.Errorf("%s: %w", configFile, err)
		}
		cfg = merge(fileCfg, cfg)
	}
	if cfg.DB == "" {
		return errors.New("no database file, use -db or set db in the config file")
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command")
	}

	backend, err := objstore.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	compression, err := objstore.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	s, err := objstore.OpenIndexed(cfg.DB, objstore.Options{
		Backend:     backend,
		Compression: compression,
		Logger:      logger,
		Verbose:     cfg.Verbose,
	})
	if err != nil {
		return err
	}
	err = execute(s, cfg, fs.Args(), stdout)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// merge overrides file settings with flags that were set.
func merge(file, flags config) config {
	if flags.DB != "" {
		file.DB = flags.DB
	}
	if flags.Backend != "" {
		file.Backend = flags.Backend
	}
	if flags.Compression != "" {
		file.Compression = flags.Compression
	}
	if flags.Verbose {
		file.Verbose = true
	}
	if flags.Order != 0 {
		file.Order = flags.Order
	}
	return file
}

func execute(s *objstore.IndexedStore, cfg config, args []string, w io.Writer) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "names":
		names, err := s.IndexNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil

	case "dump":
		return eachIndex(s, args, func(idx *objstore.Index) error {
			fmt.Fprint(w, idx.Dump(objstore.DumpAll))
			return nil
		})

	case "stats":
		if len(args) == 0 {
			st := s.Store().Stats()
			fmt.Fprintf(w, "records = %d, file_size = %d, free_blocks = %d\n", st.Records, st.FileSize, st.FreeBlocks)
		}
		return eachIndex(s, args, func(idx *objstore.Index) error {
			st, err := idx.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s: entries = %d, height = %d, nodes = %d, leaves = %d, fill = %.2f\n", idx.Name(), st.Entries, st.Height, st.Nodes, st.Leaves, st.Fill())
			return nil
		})

	case "check":
		return eachIndex(s, args, func(idx *objstore.Index) error {
			if err := idx.Check(); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s: ok\n", idx.Name())
			return nil
		})

	case "get":
		if len(args) != 2 {
			return errors.New("usage: get <index> <key>")
		}
		idx, err := s.OpenIndex(args[0], objstore.IndexOptions{})
		if err != nil {
			return err
		}
		v, found, err := idx.Lookup([]byte(args[1]))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: key %q not found", args[0], args[1])
		}
		fmt.Fprintf(w, "%s\n", v)
		return nil

	case "put":
		if len(args) != 3 {
			return errors.New("usage: put <index> <key> <value>")
		}
		idx, err := s.EnsureIndex(args[0], objstore.IndexOptions{Order: cfg.Order})
		if err != nil {
			return err
		}
		return idx.Insert([]byte(args[1]), []byte(args[2]))

	case "del":
		if len(args) != 2 {
			return errors.New("usage: del <index> <key>")
		}
		idx, err := s.OpenIndex(args[0], objstore.IndexOptions{})
		if err != nil {
			return err
		}
		found, err := idx.Remove([]byte(args[1]))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: key %q not found", args[0], args[1])
		}
		return nil

	case "drop":
		if len(args) != 1 {
			return errors.New("usage: drop <index>")
		}
		return s.DropIndex(args[0])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func eachIndex(s *objstore.IndexedStore, names []string, f func(idx *objstore.Index) error) error {
	if len(names) == 0 {
		var err error
		names, err = s.IndexNames()
		if err != nil {
			return err
		}
	}
	var errs []string
	for _, name := range names {
		idx, err := s.OpenIndex(name, objstore.IndexOptions{})
		if err == nil {
			err = f(idx)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
