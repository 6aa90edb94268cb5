package main

import (
	"bytes"
	"context"
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serisow/docstore/config"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		DatabaseDriver:          "sqlite",
		DatabaseURL:             filepath.Join(dir, "docstore.db"),
		EmbeddingProvider:       "hash",
		EmbeddingDimensions:     256,
		EmbeddingMaxConcurrency: 1,
		LogDir:                  filepath.Join(dir, "logs"),
	}
}

func run(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIIngestQueryFiles(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "account", "create", "--owner", "5")
	require.NoError(t, err)
	assert.Equal(t, "Created account 1 for user 5\n", out)

	path := filepath.Join(t.TempDir(), "minutes.txt")
	require.NoError(t, os.WriteFile(path, []byte("The board approved the new warehouse budget."), 0o644))

	out, err = run(t, cfg, "ingest", "--account", "1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Files processed successfully")
	assert.Contains(t, out, "minutes.txt")

	out, err = run(t, cfg, "query", "--account", "1", "The board approved the new warehouse budget.")
	require.NoError(t, err)
	assert.Contains(t, out, "minutes.txt")

	out, err = run(t, cfg, "files", "--account", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "minutes.txt")
	assert.Contains(t, out, "1 files, 44 B used")

	_, err = run(t, cfg, "ingest", "--account", "1", path)
	assert.ErrorContains(t, err, "already exists")
}

func TestCLIRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbeddingProvider = "nope"

	_, err := run(t, cfg, "query", "--account", "1", "text")
	assert.ErrorContains(t, err, "unknown embedding provider: nope")
}

func TestCLIDimensionMismatch(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "account", "create", "--owner", "1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("some text"), 0o644))
	_, err = run(t, cfg, "ingest", "--account", "1", path)
	require.NoError(t, err)

	cfg.EmbeddingDimensions = 128
	_, err = run(t, cfg, "query", "--account", "1", "some text")
	assert.ErrorContains(t, err, "store holds 256")
}

func TestCLIReindexNeedsPostgres(t *testing.T) {
	_, err := run(t, testConfig(t), "reindex")
	assert.ErrorContains(t, err, "requires the postgres driver")
}

func TestSourcesAreGofmtClean(t *testing.T) {
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		formatted, err := format.Source(src)
		if err != nil {
			return err
		}
		assert.Equal(t, string(formatted), string(src), "%s is not gofmt-clean", path)
		return nil
	})
	require.NoError(t, err)
}
