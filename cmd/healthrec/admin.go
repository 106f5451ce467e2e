package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevoDB/healthrec/pkg/engine"
	"github.com/KevoDB/healthrec/pkg/memory"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the layout of a local store as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(eng.Info())
	},
}

var backupCodec string

var backupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Write a snapshot of a local store to FILE (- for stdout)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codec, err := memory.ParseCodec(backupCodec)
		if err != nil {
			return err
		}

		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if args[0] == "-" {
			return eng.Backup(cmd.Context(), cmd.OutOrStdout(), codec)
		}
		return writeFileAtomic(args[0], func(w io.Writer) error {
			return eng.Backup(cmd.Context(), w, codec)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Rebuild an empty data directory from a snapshot (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDataDir()
		if err != nil {
			return err
		}

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		if err := engine.Restore(cmd.Context(), dir, r); err != nil {
			return err
		}
		green.Fprintf(cmd.OutOrStdout(), "restored store into %s\n", dir)
		return nil
	},
}

var (
	benchOps      int
	benchInMemory bool
	benchSeed     int64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure store throughput on a scratch store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			eng *engine.Engine
			err error
		)
		if benchInMemory {
			eng, err = engine.OpenMemory()
		} else {
			eng, err = openEngine()
		}
		if err != nil {
			return err
		}
		defer eng.Close()

		results, err := runBench(cmd.Context(), eng.Store(), benchOps, rand.New(rand.NewSource(benchSeed)))
		if err != nil {
			return err
		}
		printBench(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupCodec, "codec", "zstd", "page compression (none, snappy, zstd)")

	benchCmd.Flags().IntVar(&benchOps, "ops", 10000, "operations per phase")
	benchCmd.Flags().BoolVar(&benchInMemory, "memory", true, "benchmark an in-process store instead of the data directory")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "random seed for record contents")
}

// writeFileAtomic writes path through a temporary file in the same directory
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// benchResult is one phase of a benchmark run
type benchResult struct {
	Phase    string
	Ops      int
	Duration time.Duration
}

func (r benchResult) opsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Duration.Seconds()
}

var benchWords = []string{"allergy", "fracture", "asthma", "diabetes", "migraine", "checkup", "flu", "sprain"}

func benchPayload(rng *rand.Rand, i int) record.Payload {
	var history strings.Builder
	for j := 0; j < 1+rng.Intn(8); j++ {
		if j > 0 {
			history.WriteByte(' ')
		}
		history.WriteString(benchWords[rng.Intn(len(benchWords))])
	}
	return record.Payload{
		Name:      fmt.Sprintf("patient-%06d", rng.Intn(1_000_000)),
		History:   history.String(),
		StaffName: fmt.Sprintf("Dr. %c", 'A'+rune(i%26)),
		InClinic:  i%3 == 0,
	}
}

// runBench creates ops records and then reads, updates, scans and deletes them
func runBench(ctx context.Context, st *store.Store, ops int, rng *rand.Rand) ([]benchResult, error) {
	if ops <= 0 {
		return nil, fmt.Errorf("ops must be positive, got %d", ops)
	}

	ids := make([]uint64, 0, ops)
	var results []benchResult
	phase := func(name string, n int, fn func(i int) error) error {
		start := time.Now()
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		results = append(results, benchResult{Phase: name, Ops: n, Duration: time.Since(start)})
		return nil
	}

	err := phase("create", ops, func(i int) error {
		rec, err := st.Create(ctx, benchPayload(rng, i))
		if err != nil {
			return err
		}
		ids = append(ids, rec.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		n    int
		fn   func(i int) error
	}{
		{"get", ops, func(i int) error {
			_, err := st.Get(ctx, ids[rng.Intn(len(ids))])
			return err
		}},
		{"update", ops, func(i int) error {
			_, err := st.Update(ctx, ids[rng.Intn(len(ids))], benchPayload(rng, i))
			return err
		}},
		{"search", 10, func(i int) error {
			_, err := st.Search(ctx, benchWords[i%len(benchWords)])
			return err
		}},
		{"sort", 10, func(i int) error {
			_, err := st.SortByName(ctx)
			return err
		}},
		{"delete", ops, func(i int) error {
			_, err := st.Delete(ctx, ids[i])
			return err
		}},
	}
	for _, s := range steps {
		if err := phase(s.name, s.n, s.fn); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func printBench(w io.Writer, results []benchResult) {
	fmt.Fprintf(w, "Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "%-10s %10s %14s %14s\n", "phase", "ops", "duration", "ops/sec")
	for _, r := range results {
		fmt.Fprintf(w, "%-10s %10d %14s %14.0f\n", r.Phase, r.Ops, r.Duration.Round(time.Microsecond), r.opsPerSecond())
	}
}
