package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matteso1/kvs/internal/server"
)

type benchResult struct {
	sets, gets, misses int64
	elapsed            time.Duration
}

func benchCmd(args []string) int {
	var (
		workers   int
		ops       int
		valueSize int
		keys      int
	)
	client, _, ok := connect("bench", args, 0, func(fs *flag.FlagSet) {
		fs.IntVar(&workers, "workers", 4, "Concurrent workers")
		fs.IntVar(&ops, "ops", 1000, "Operations per worker")
		fs.IntVar(&valueSize, "value-size", 100, "Value size in bytes")
		fs.IntVar(&keys, "keys", 1000, "Distinct keys")
	})
	if !ok {
		return 1
	}
	defer client.Close()

	if workers <= 0 || ops <= 0 || keys <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -workers, -ops and -keys must be positive")
		return 1
	}

	fmt.Printf("Running %d worker(s) x %d op(s), %d key(s), %d byte values...\n", workers, ops, keys, valueSize)
	res, err := runBench(context.Background(), client, workers, ops, keys, strings.Repeat("v", valueSize))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		return 1
	}

	total := res.sets + res.gets
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("sets:       %d\n", res.sets)
	fmt.Printf("gets:       %d (%d missed)\n", res.gets, res.misses)
	fmt.Printf("elapsed:    %s\n", res.elapsed.Round(time.Millisecond))
	fmt.Printf("throughput: %.0f ops/sec\n", float64(total)/res.elapsed.Seconds())
	return 0
}

// runBench has each worker alternate sets and gets over a shared key space.
// The first failing request cancels the others.
func runBench(ctx context.Context, client *server.Client, workers, ops, keys int, value string) (benchResult, error) {
	var sets, gets, misses atomic.Int64

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < ops; i++ {
				key := fmt.Sprintf("bench-%d", (w*ops+i)%keys)
				if i%2 == 0 {
					if err := client.Set(ctx, key, value); err != nil {
						return fmt.Errorf("set %s: %w", key, err)
					}
					sets.Add(1)
					continue
				}
				_, found, err := client.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("get %s: %w", key, err)
				}
				gets.Add(1)
				if !found {
					misses.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	return benchResult{
		sets:    sets.Load(),
		gets:    gets.Load(),
		misses:  misses.Load(),
		elapsed: time.Since(start),
	}, err
}
