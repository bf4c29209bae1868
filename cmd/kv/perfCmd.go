package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/respKV/cmd/util"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for respKV servers",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfOpsPerTest       = 10000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("How many operations to run per test"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfOpsPerTest = viper.GetInt("ops")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	fmt.Println("Performance testing tool for respKV servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Operations per test: %d\n", perfOpsPerTest)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()

	runTest(registry, "set", func(counter int) error {
		return store.Set(ctx, perfKey("set", counter), []byte("test"))
	})

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	runTest(registry, "set-large", func(counter int) error {
		return store.Set(ctx, perfKey("set-large", counter), largeValue)
	})

	seedKeys(ctx, "get")
	runTest(registry, "get", func(counter int) error {
		_, _, err := store.Get(ctx, perfKey("get", counter))
		return err
	})

	seedKeys(ctx, "has")
	runTest(registry, "has", func(counter int) error {
		_, err := store.Has(ctx, perfKey("has", counter))
		return err
	})

	runTest(registry, "incr", func(counter int) error {
		_, err := store.Incr(ctx, perfKey("incr", counter))
		return err
	})

	seedKeys(ctx, "delete")
	runTest(registry, "delete", func(counter int) error {
		_, err := store.Delete(ctx, perfKey("delete", counter))
		return err
	})

	// cleanup all keys the tests touched
	for _, test := range []string{"set", "set-large", "get", "has", "incr", "delete"} {
		for i := 0; i < perfKeySpread; i++ {
			if _, err := store.Delete(ctx, perfKey(test, i)); err != nil {
				log.Printf("(cleanup) - error deleting key: %v\n", err)
			}
		}
	}

	// Save results to CSV if requested
	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsCSV(registry, csvPath); err != nil {
			return err
		}
		fmt.Printf("results saved to %s\n", csvPath)
	}

	return nil
}

// runTest runs op perfOpsPerTest times across perfNumThreads goroutines and
// records each call's latency in a timer registered under name.
func runTest(registry metrics.Registry, name string, op func(counter int) error) {
	if shouldSkip(name) {
		return
	}

	timer := metrics.GetOrRegisterTimer(name, registry)

	var wg sync.WaitGroup
	opsPerThread := perfOpsPerTest / perfNumThreads
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			for i := 0; i < opsPerThread; i++ {
				counter := thread*opsPerThread + i
				start := time.Now()
				if err := op(counter); err != nil {
					log.Printf("(%s) - error: %v\n", name, err)
					continue
				}
				timer.UpdateSince(start)
			}
		}(t)
	}
	wg.Wait()

	printResult(name, timer)
}

// seedKeys pre-populates the key spread for read-style tests
func seedKeys(ctx context.Context, test string) {
	if shouldSkip(test) {
		return
	}
	for i := 0; i < perfKeySpread; i++ {
		if err := store.Set(ctx, perfKey(test, i), []byte("test")); err != nil {
			log.Printf("(%s) - error seeding key: %v\n", test, err)
		}
	}
}

// perfKey maps a counter onto the configured key spread
func perfKey(test string, counter int) string {
	return fmt.Sprintf("%s-%s-%d", perfKeyPrefix, test, counter%perfKeySpread)
}

func shouldSkip(name string) bool {
	for _, s := range perfSkip {
		if strings.TrimSpace(s) == name {
			fmt.Printf("skipping %s\n", name)
			return true
		}
	}
	return false
}

func printResult(name string, timer metrics.Timer) {
	fmt.Printf("%-10s %8d ops %10.0f ops/s  mean=%-10v p50=%-10v p99=%-10v\n",
		name,
		timer.Count(),
		timer.RateMean(),
		time.Duration(timer.Mean()),
		time.Duration(timer.Percentile(0.5)),
		time.Duration(timer.Percentile(0.99)),
	)
}

func writeResultsCSV(registry metrics.Registry, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"test", "ops", "ops_per_sec", "mean_ns", "p50_ns", "p99_ns"}); err != nil {
		return err
	}

	var writeErr error
	registry.Each(func(name string, i interface{}) {
		timer, ok := i.(metrics.Timer)
		if !ok || writeErr != nil {
			return
		}
		writeErr = w.Write([]string{
			name,
			strconv.FormatInt(timer.Count(), 10),
			strconv.FormatFloat(timer.RateMean(), 'f', 2, 64),
			strconv.FormatFloat(timer.Mean(), 'f', 0, 64),
			strconv.FormatFloat(timer.Percentile(0.5), 'f', 0, 64),
			strconv.FormatFloat(timer.Percentile(0.99), 'f', 0, 64),
		})
	})
	return writeErr
}
