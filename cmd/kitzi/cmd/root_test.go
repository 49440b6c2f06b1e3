package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, extra ...string) (configFile, root string) {
	t.Helper()

	dir := t.TempDir()
	root = filepath.Join(dir, "storage")
	configFile = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
storage:
  root: %s
cache:
  max_mb: 300
logging:
  file: %s
  level: debug
%s`, root, filepath.Join(dir, "kitzi.log"), strings.Join(extra, "\n"))), 0o600))
	return configFile, root
}

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommands(t *testing.T) {
	configFile, root := writeTestConfig(t)

	itemDir := filepath.Join(root, "streamcache", "li_1")
	require.NoError(t, os.MkdirAll(itemDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(itemDir, "frag"), make([]byte, 2048), 0o600))

	out := execute(t, "--config", configFile, "usage")
	require.Contains(t, out, "2.0 KiB")
	require.Contains(t, out, "300 MiB")
	require.Contains(t, out, "li_1")

	out = execute(t, "--config", configFile, "metrics")
	require.Contains(t, out, "kitzi_stream_cache_bytes 2048")
	require.Contains(t, out, "kitzi_tracked_items 1")

	out = execute(t, "--config", configFile, "evict", "li_1")
	require.Contains(t, out, "2.0 KiB freed")

	out = execute(t, "--config", configFile, "config", "set-max", "10")
	require.Contains(t, out, "200 MiB")

	out = execute(t, "--config", configFile, "metrics")
	require.Contains(t, out, "kitzi_tracked_items 0")
	require.Contains(t, out, "kitzi_stream_cache_max_bytes 2.097152e+08")
}

func TestCleanupCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			fmt.Fprint(w, `{"isInit":true,"serverVersion":"2.17.0"}`)
		case "/api/items/li_keep":
			fmt.Fprint(w, `{"id":"li_keep","media":{"metadata":{"title":"Kept Book"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	configFile, root := writeTestConfig(t, "server:", "  url: "+srv.URL, "  token: secret")
	for _, id := range []string{"li_gone", "li_keep"} {
		dir := filepath.Join(root, "downloads", id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "book.m4b"), make([]byte, 512), 0o600))
	}

	out := execute(t, "--config", configFile, "cleanup")
	require.Contains(t, out, "[2/2]")
	require.Contains(t, out, "checked 2, removed 1, skipped 0")
	require.NoDirExists(t, filepath.Join(root, "downloads", "li_gone"))
	require.DirExists(t, filepath.Join(root, "downloads", "li_keep"))
}

func TestCleanupRefusesWhenServerIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	configFile, root := writeTestConfig(t, "server:", "  url: "+srv.URL, "  token: secret")
	dir := filepath.Join(root, "downloads", "li_1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--config", configFile, "cleanup"})
	err := rootCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "nothing was deleted")
	require.DirExists(t, dir)
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0 B", formatBytes(-5))
	require.Equal(t, "512 B", formatBytes(512))
	require.Equal(t, "1.5 MiB", formatBytes(3<<19))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Dune", truncate("Dune", 10))
	require.Equal(t, "The Fell…", truncate("The Fellowship", 9))
}
