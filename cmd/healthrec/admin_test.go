package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/healthrec/pkg/engine"
	"github.com/KevoDB/healthrec/pkg/record"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		dataDir, configPath = "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func seedStore(t *testing.T, dir string, names ...string) {
	t.Helper()
	e, err := engine.Open(dir)
	require.NoError(t, err)
	for _, name := range names {
		_, err := e.Store().Create(context.Background(), record.Payload{Name: name})
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())
}

func TestInfoCommand(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, dir, "Alice", "Bob")

	out, err := execute(t, "info", "--data-dir", dir)
	require.NoError(t, err)

	var info engine.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, 2, info.Records)
	assert.Equal(t, uint64(2), info.LastID)
	assert.NotEmpty(t, info.StoreID)
}

func TestBackupRestoreCommands(t *testing.T) {
	src, dst := t.TempDir(), filepath.Join(t.TempDir(), "restored")
	seedStore(t, src, "Alice", "Bob")
	snapshot := filepath.Join(t.TempDir(), "store.snap")

	for _, codec := range []string{"none", "snappy", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			target := filepath.Join(dst, codec)
			_, err := execute(t, "backup", "--data-dir", src, "--codec", codec, snapshot)
			require.NoError(t, err)
			_, err = os.Stat(snapshot + ".tmp")
			assert.True(t, os.IsNotExist(err))

			out, err := execute(t, "restore", "--data-dir", target, snapshot)
			require.NoError(t, err)
			assert.Contains(t, out, "restored store")

			e, err := engine.Open(target)
			require.NoError(t, err)
			defer e.Close()
			recs, err := e.Store().List(context.Background())
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "Alice", recs[0].Name)
			assert.Equal(t, "Bob", recs[1].Name)
		})
	}

	_, err := execute(t, "backup", "--data-dir", src, "--codec", "lz4", snapshot)
	assert.Error(t, err)

	_, err = execute(t, "restore", "--data-dir", src, snapshot)
	assert.ErrorIs(t, err, engine.ErrRestoreTarget)
}

func TestWriteFileAtomicCleansUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	boom := errors.New("boom")

	err := writeFileAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRunBench(t *testing.T) {
	e, err := engine.OpenMemory()
	require.NoError(t, err)
	defer e.Close()

	results, err := runBench(context.Background(), e.Store(), 50, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	var phases []string
	for _, r := range results {
		phases = append(phases, r.Phase)
		assert.Positive(t, r.Ops)
	}
	assert.Equal(t, []string{"create", "get", "update", "search", "sort", "delete"}, phases)
	assert.Equal(t, 0, e.Store().Len())

	out := &bytes.Buffer{}
	printBench(out, results)
	assert.Contains(t, out.String(), "ops/sec")

	_, err = runBench(context.Background(), e.Store(), 0, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}
