package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"gosuda.org/shmtype"
	"gosuda.org/shmtype/config"
	"gosuda.org/shmtype/pool"
	"gosuda.org/shmtype/registry"
)

// errIncompatible makes the process exit with status 1 without an error message
var errIncompatible = errors.New("incompatible")

const usage = `Usage: shmtype <command> [flags]

Commands:
  layout    print the slot layout of a service
  check     check a local service declaration against a committed one
  register  commit a service descriptor or check against the committed one

Run "shmtype <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "layout":
		err = runLayout(os.Stdout, args)
	case "check":
		err = runCheck(os.Stdout, args)
	case "register":
		err = runRegister(context.Background(), os.Stdout, args)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	switch {
	case err == nil:
	case errors.Is(err, errIncompatible):
		os.Exit(1)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type common struct {
	config  string
	verbose bool
}

func newFlagSet(name string, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.config, "config", "shmtype.yaml", "Path to the service declarations")
	fs.BoolVar(&c.verbose, "v", false, "Enable debug logging")
	return fs
}

func (c *common) load() (*config.Config, error) {
	if c.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		registry.SetLogger(l)
		pool.SetLogger(l)
	}
	return config.Load(c.config)
}

func lookup(cfg *config.Config, name string) (shmtype.MessageTypeDetails, error) {
	if name == "" {
		return shmtype.MessageTypeDetails{}, errors.New("missing service name")
	}
	svc, err := cfg.Lookup(name)
	if err != nil {
		return shmtype.MessageTypeDetails{}, err
	}
	return svc.Details()
}

func runLayout(w io.Writer, args []string) error {
	var c common
	fs := newFlagSet("layout", &c)
	service := fs.String("service", "", "Service to lay out")
	n := fs.Uint64("n", 1, "Number of payload elements per slot")
	capacity := fs.Uint64("capacity", 0, "Also print the pool region size for this many slots")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	d, err := lookup(cfg, *service)
	if err != nil {
		return err
	}
	return printLayout(w, *service, d, *n, *capacity)
}

func printLayout(w io.Writer, name string, d shmtype.MessageTypeDetails, n, capacity uint64) error {
	sample, err := d.SampleLayout(n)
	if err != nil {
		return err
	}
	exact, err := d.StructLayout(n)
	if err != nil {
		return err
	}
	payload, err := d.PayloadLayout(n)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "service %s, %d element(s)\n", name, n)
	fmt.Fprintf(w, "  %-12s offset %-6d %s\n", "header", 0, d.Header)
	fmt.Fprintf(w, "  %-12s offset %-6d %s\n", "user_header", d.UserHeaderOffset(0), d.UserHeader)
	fmt.Fprintf(w, "  %-12s offset %-6d %s\n", "payload", d.PayloadOffset(0), d.Payload)
	fmt.Fprintf(w, "  %-12s size %-8d align %d\n", "sample", sample.Size, sample.Align)
	fmt.Fprintf(w, "  %-12s size %-8d align %d\n", "struct", exact.Size, exact.Align)
	fmt.Fprintf(w, "  %-12s size %-8d align %d\n", "payload", payload.Size, payload.Align)
	fmt.Fprintf(w, "  %-12s %d\n", "max_elements", d.MaxElements())

	if capacity > 0 {
		size, err := pool.Size(d, n, capacity)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %-12s size %-8d slots %d\n", "pool", size, capacity)
	}
	return nil
}

func runCheck(w io.Writer, args []string) error {
	var c common
	fs := newFlagSet("check", &c)
	local := fs.String("local", "", "Service declaration used by this participant")
	committed := fs.String("committed", "", "Service declaration that was committed first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	l, err := lookup(cfg, *local)
	if err != nil {
		return err
	}
	cd, err := lookup(cfg, *committed)
	if err != nil {
		return err
	}

	mismatches := l.Compare(cd)
	if len(mismatches) == 0 {
		fmt.Fprintf(w, "%s is compatible to %s\n", *local, *committed)
		return nil
	}
	fmt.Fprintf(w, "%s is incompatible to %s:\n", *local, *committed)
	for _, m := range mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return errIncompatible
}

func runRegister(ctx context.Context, w io.Writer, args []string) error {
	var c common
	fs := newFlagSet("register", &c)
	service := fs.String("service", "", "Service to register")
	storeFlag := fs.String("store", "", "Registry location: a directory or sqlite:PATH (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	d, err := lookup(cfg, *service)
	if err != nil {
		return err
	}

	location := *storeFlag
	if location == "" {
		location = cfg.Store
	}
	store, closeStore, err := openStore(location)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := registry.New(store).OpenOrCreate(ctx, *service, d)
	if errors.Is(err, shmtype.ErrIncompatible) {
		fmt.Fprintf(w, "%v\n", err)
		return errIncompatible
	}
	if err != nil {
		return err
	}

	if svc.Creator {
		fmt.Fprintf(w, "created %s\n", svc.Name)
	} else {
		fmt.Fprintf(w, "opened %s\n", svc.Name)
	}
	return nil
}

func openStore(location string) (registry.Store, func(), error) {
	if location == "" {
		return nil, nil, errors.New("no registry location, set -store or store in the config")
	}
	if path, ok := strings.CutPrefix(location, "sqlite:"); ok {
		s, err := registry.OpenSQLStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	s, err := registry.NewFileStore(location)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}
