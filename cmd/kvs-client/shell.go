package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/matteso1/kvs/internal/server"
	"github.com/matteso1/kvs/internal/storage"
)

var shellCommands = []string{"get", "set", "rm", "stats", "compact", "help", "exit"}

var errQuit = errors.New("quit")

func shellCmd(args []string) int {
	client, _, ok := connect("shell", args, 0, nil)
	if !ok {
		return 1
	}
	defer client.Close()

	rl, err := newReadline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start shell: %v\n", err)
		return 1
	}
	defer rl.Close()

	fmt.Println("kvs shell. Type \"help\" for commands, Ctrl+D to exit.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			return 1
		}

		out, err := execute(context.Background(), client, line)
		if errors.Is(err, errQuit) {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
}

func newReadline() (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCommands))
	for _, cmd := range shellCommands {
		items = append(items, readline.PcItem(cmd))
	}

	config := &readline.Config{
		Prompt:          "kvs> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold: true,
	}
	if home, err := os.UserHomeDir(); err == nil {
		config.HistoryFile = filepath.Join(home, ".kvs_history")
	}
	return readline.NewEx(config)
}

// execute runs one shell line and returns what to print. Values may contain
// spaces: everything after the key is the value.
func execute(ctx context.Context, client *server.Client, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "get":
		if rest == "" {
			return "", errors.New("usage: get <key>")
		}
		value, found, err := client.Get(ctx, rest)
		if err != nil {
			return "", err
		}
		if !found {
			return "Key not found", nil
		}
		return value, nil

	case "set":
		key, value, ok := strings.Cut(rest, " ")
		if !ok || key == "" {
			return "", errors.New("usage: set <key> <value>")
		}
		if err := client.Set(ctx, key, value); err != nil {
			return "", err
		}
		return "OK", nil

	case "rm":
		if rest == "" {
			return "", errors.New("usage: rm <key>")
		}
		err := client.Remove(ctx, rest)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return "Key not found", nil
		}
		if err != nil {
			return "", err
		}
		return "OK", nil

	case "stats":
		s, err := client.Stats(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("keys=%d segments=%d total=%d live=%d garbage=%d",
			s.Keys, s.Segments, s.TotalBytes, s.LiveBytes, s.GarbageBytes), nil

	case "compact":
		s, err := client.Compact(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("compacted: keys=%d segments=%d total=%d", s.Keys, s.Segments, s.TotalBytes), nil

	case "help":
		return strings.Join([]string{
			"get <key>",
			"set <key> <value>",
			"rm <key>",
			"stats",
			"compact",
			"exit",
		}, "\n"), nil

	case "exit", "quit":
		return "", errQuit

	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}
