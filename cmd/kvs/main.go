package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/matteso1/kvs/internal/logging"
	"github.com/matteso1/kvs/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "get":
		os.Exit(getCmd(os.Args[2:]))
	case "set":
		os.Exit(setCmd(os.Args[2:]))
	case "rm":
		os.Exit(rmCmd(os.Args[2:]))
	case "compact":
		os.Exit(compactCmd(os.Args[2:]))
	case "stats":
		os.Exit(statsCmd(os.Args[2:]))
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kvs - log-structured key/value store

Usage:
  kvs <command> [options] [args]

Commands:
  get <key>           Print the value of a key
  set <key> <value>   Set the value of a key
  rm <key>            Remove a key
  compact             Rewrite live records and reclaim space
  stats               Show storage statistics
  help                Show this help

Options (after the command):
  -data <dir>         Data directory (default ".")
  -log-level <level>  Log level (default "warn")

Examples:
  kvs set greeting hello
  kvs get greeting
  kvs rm -data /var/lib/kvs greeting`)
}

// command parses the shared flags, checks the argument count and opens the
// store in the data directory.
func command(name string, args []string, nargs int) (*storage.Store, []string, bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	dataDir := fs.String("data", ".", "Data directory")
	logLevel := fs.String("log-level", "warn", "Log level")
	fs.Parse(args)

	if fs.NArg() != nargs {
		fmt.Fprintf(os.Stderr, "Error: %s takes %d argument(s)\n", name, nargs)
		printUsage()
		return nil, nil, false
	}

	logger, err := logging.New(*logLevel, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, false
	}

	config := storage.DefaultConfig()
	config.Logger = logger
	store, err := storage.Open(*dataDir, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return nil, nil, false
	}
	return store, fs.Args(), true
}

func closeStore(store *storage.Store, code int) int {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close store: %v\n", err)
		return 1
	}
	return code
}

func getCmd(args []string) int {
	store, args, ok := command("get", args, 1)
	if !ok {
		return 1
	}

	value, found, err := store.Get(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get: %v\n", err)
		return closeStore(store, 1)
	}
	if !found {
		fmt.Println("Key not found")
		return closeStore(store, 0)
	}
	fmt.Println(value)
	return closeStore(store, 0)
}

func setCmd(args []string) int {
	store, args, ok := command("set", args, 2)
	if !ok {
		return 1
	}

	if err := store.Set(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set: %v\n", err)
		return closeStore(store, 1)
	}
	return closeStore(store, 0)
}

func rmCmd(args []string) int {
	store, args, ok := command("rm", args, 1)
	if !ok {
		return 1
	}

	err := store.Remove(args[0])
	if errors.Is(err, storage.ErrKeyNotFound) {
		fmt.Println("Key not found")
		return closeStore(store, 1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to remove: %v\n", err)
		return closeStore(store, 1)
	}
	return closeStore(store, 0)
}

func compactCmd(args []string) int {
	store, _, ok := command("compact", args, 0)
	if !ok {
		return 1
	}

	before := store.Stats()
	if err := store.Compact(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compact: %v\n", err)
		return closeStore(store, 1)
	}
	after := store.Stats()

	fmt.Printf("✓ Compacted %d key(s): %d -> %d bytes\n", after.Keys, before.TotalBytes, after.TotalBytes)
	return closeStore(store, 0)
}

func statsCmd(args []string) int {
	store, _, ok := command("stats", args, 0)
	if !ok {
		return 1
	}

	printStats(store.Stats())
	return closeStore(store, 0)
}

func printStats(s storage.Stats) {
	fmt.Printf("keys:               %d\n", s.Keys)
	fmt.Printf("segments:           %d\n", s.Segments)
	fmt.Printf("current generation: %d\n", s.CurrentGeneration)
	fmt.Printf("total bytes:        %d\n", s.TotalBytes)
	fmt.Printf("live bytes:         %d\n", s.LiveBytes)
	fmt.Printf("garbage bytes:      %d (%.1f%%)\n", s.GarbageBytes, s.GarbageRatio()*100)
}
