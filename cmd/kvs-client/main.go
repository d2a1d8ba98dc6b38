package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matteso1/kvs/internal/server"
	"github.com/matteso1/kvs/internal/storage"
)

const defaultAddr = "127.0.0.1:4000"

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
	case "bench":
		os.Exit(benchCmd(os.Args[2:]))
	case "shell":
		os.Exit(shellCmd(os.Args[2:]))
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kvs-client - talk to a kvs server

Usage:
  kvs-client <command> [options] [args]

Commands:
  get <key>           Print the value of a key
  set <key> <value>   Set the value of a key
  rm <key>            Remove a key
  compact             Compact the server's store
  stats               Show the server's storage statistics
  bench               Run a concurrent set/get load
  shell               Interactive shell
  help                Show this help

Examples:
  kvs-client set -addr 127.0.0.1:4000 greeting hello
  kvs-client get greeting
  kvs-client bench -workers 8 -ops 10000`)
}

// connect parses the shared flags and dials the server. extra registers
// command-specific flags before parsing.
func connect(name string, args []string, nargs int, extra func(*flag.FlagSet)) (*server.Client, []string, bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Server address")
	if extra != nil {
		extra(fs)
	}
	fs.Parse(args)

	if nargs >= 0 && fs.NArg() != nargs {
		fmt.Fprintf(os.Stderr, "Error: %s takes %d argument(s)\n", name, nargs)
		printUsage()
		return nil, nil, false
	}

	client, err := server.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return nil, nil, false
	}
	return client, fs.Args(), true
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func getCmd(args []string) int {
	client, args, ok := connect("get", args, 1, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()

	value, found, err := client.Get(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get: %v\n", err)
		return 1
	}
	if !found {
		fmt.Println("Key not found")
		return 0
	}
	fmt.Println(value)
	return 0
}

func setCmd(args []string) int {
	client, args, ok := connect("set", args, 2, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()

	if err := client.Set(ctx, args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set: %v\n", err)
		return 1
	}
	return 0
}

func rmCmd(args []string) int {
	client, args, ok := connect("rm", args, 1, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()

	err := client.Remove(ctx, args[0])
	if errors.Is(err, storage.ErrKeyNotFound) {
		fmt.Fprintln(os.Stderr, "Key not found")
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to remove: %v\n", err)
		return 1
	}
	return 0
}

func compactCmd(args []string) int {
	client, _, ok := connect("compact", args, 0, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stats, err := client.Compact(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compact: %v\n", err)
		return 1
	}
	fmt.Printf("✓ Compacted %d key(s) into %d segment(s), %d bytes\n", stats.Keys, stats.Segments, stats.TotalBytes)
	return 0
}

func statsCmd(args []string) int {
	client, _, ok := connect("stats", args, 0, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	ctx, cancel := requestContext()
	defer cancel()

	stats, err := client.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch stats: %v\n", err)
		return 1
	}
	printStats(stats)
	return 0
}

func printStats(s server.StatsResponse) {
	fmt.Printf("keys:               %d\n", s.Keys)
	fmt.Printf("segments:           %d\n", s.Segments)
	fmt.Printf("current generation: %d\n", s.CurrentGeneration)
	fmt.Printf("total bytes:        %d\n", s.TotalBytes)
	fmt.Printf("live bytes:         %d\n", s.LiveBytes)
	fmt.Printf("garbage bytes:      %d\n", s.GarbageBytes)
	fmt.Printf("compactions:        %d (%d bytes reclaimed)\n", s.Compactions, s.ReclaimedBytes)
	fmt.Println(strings.Repeat("-", 40))
}
