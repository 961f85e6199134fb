package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectftp/internal/config"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	db := filepath.Join(t.TempDir(), "objectftp.db")
	return &cli{t: t, base: []string{
		"--backend", "sqlite",
		"--sqlite-path", db,
		"--user", "alice",
		"--key", "s3cret",
		"--log-level", "ERROR",
	}}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(append([]string{}, args...), c.base...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) must(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, "objectftp %s", strings.Join(args, " "))
	return out
}

func TestCommands(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out := c.must("", "useradd", "alice", "s3cret")
	assert.Equal(t, "user alice saved\n", out)

	c.must("", "mkdir", "/photos")
	c.must("hello world", "put", "-", "/photos/2024/hello.txt")

	assert.Equal(t, "photos\n", c.must("", "ls"))
	assert.Equal(t, "2024\n", c.must("", "ls", "/photos"))

	long := c.must("", "ls", "-l", "/photos/2024")
	assert.Contains(t, long, "hello.txt")
	assert.Contains(t, long, " 11 ")

	stat := c.must("", "stat", "/photos/2024/hello.txt")
	assert.Contains(t, stat, "size:     11")
	assert.Contains(t, stat, "md5:      5eb63bbbe01eeed093cb22bb8f5acdc3")

	assert.Equal(t, "hello world", c.must("", "get", "/photos/2024/hello.txt"))
	assert.Equal(t, "world", c.must("", "get", "--offset", "6", "/photos/2024/hello.txt"))

	local := filepath.Join(t.TempDir(), "copy.txt")
	c.must("", "get", "/photos/2024/hello.txt", local)
	c.must("", "put", local, "/photos/2024/copy.txt")

	assert.Equal(t,
		"5eb63bbbe01eeed093cb22bb8f5acdc3  /photos/2024/copy.txt\n",
		c.must("", "md5", "/photos/2024/copy.txt"))

	c.must("", "mv", "/photos/2024/copy.txt", "/photos/2024/renamed.txt")
	assert.Equal(t, "hello.txt\nrenamed.txt\n", c.must("", "ls", "/photos/2024"))

	_, err := c.run("", "rmdir", "/photos")
	assert.Error(t, err, "container still holds objects")

	c.must("", "rm", "/photos/2024/hello.txt", "/photos/2024/renamed.txt")
	c.must("", "rmdir", "/photos")
	assert.Equal(t, "", c.must("", "ls"))
}

func TestHealthCommand(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out := c.must("", "health")
	assert.Contains(t, out, `"status": "healthy"`)
	assert.Contains(t, out, `"name": "backend"`)
}

func TestLoginFailure(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	c.must("", "useradd", "alice", "other")

	_, err := c.run("", "ls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
}

func TestUserAddUnsupported(t *testing.T) {
	t.Parallel()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"useradd", "bob", "pw", "--backend", "memory", "--log-level", "ERROR"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not manage users")
}

func TestLoadConfigFlags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg *config.Configuration)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg *config.Configuration) {
				assert.Equal(t, "memory", cfg.Storage.Backend)
			},
		},
		{
			name: "split",
			args: []string{"--split-mb", "5"},
			check: func(t *testing.T, cfg *config.Configuration) {
				assert.Equal(t, int64(5_000_000), cfg.Global.SplitSize())
			},
		},
		{
			name: "memcache",
			args: []string{"--memcache", "10.0.0.5:11211,10.0.0.6:11211"},
			check: func(t *testing.T, cfg *config.Configuration) {
				assert.Equal(t, config.SharedMemcache, cfg.Cache.Shared)
				assert.Equal(t, []string{"10.0.0.5:11211", "10.0.0.6:11211"}, cfg.Cache.MemcacheServers)
			},
		},
		{
			name: "sqlite",
			args: []string{"--backend", "sqlite", "--sqlite-path", "/tmp/x.db", "--log-level", "debug"},
			check: func(t *testing.T, cfg *config.Configuration) {
				assert.Equal(t, "sqlite", cfg.Storage.Backend)
				assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLite.Path)
				assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
			},
		},
		{name: "unknown backend", args: []string{"--backend", "ftp"}, wantErr: true},
		{name: "missing config file", args: []string{"--config", "/nonexistent/objectftp.yaml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			flags := &globalFlags{}
			cmd := &cobra.Command{Use: "test"}
			bindFlags(cmd.Flags(), flags)
			require.NoError(t, cmd.Flags().Parse(tt.args))

			cfg, err := loadConfig(cmd, flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
