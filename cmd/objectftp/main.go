// Command objectftp operates on an object store through the same filesystem
// view an FTP session gets: containers at the root, synthetic directories below.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gnitoahc/go-dotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/objectfs/objectftp/internal/adapter"
	"github.com/objectfs/objectftp/internal/config"
	"github.com/objectfs/objectftp/internal/session"
	"github.com/objectfs/objectftp/pkg/utils"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
	user       string
	key        string
	backend    string
	authURL    string
	memcache   []string
	splitMB    int
	logLevel   string
	sqlitePath string
}

func main() {
	dotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "objectftp",
		Short: "Browse and transfer files in object storage.",
		Long: `objectftp presents an object store the way its FTP gateway does. Containers
are top-level directories and slash-separated object names form directories
below them.`,
		SilenceUsage: true,
	}

	bindFlags(root.PersistentFlags(), flags)

	root.AddCommand(
		newLsCmd(flags),
		newStatCmd(flags),
		newMkdirCmd(flags),
		newRmdirCmd(flags),
		newRmCmd(flags),
		newMvCmd(flags),
		newPutCmd(flags),
		newGetCmd(flags),
		newMD5Cmd(flags),
		newMetricsCmd(flags),
		newHealthCmd(flags),
		newUserAddCmd(flags),
	)
	return root
}

func bindFlags(pf *pflag.FlagSet, flags *globalFlags) {
	pf.StringVar(&flags.configFile, "config", "", "YAML configuration file")
	pf.StringVarP(&flags.user, "user", "u", dotenv.Get("OBJECTFTP_USER", ""), "login name (tenant.user for keystone)")
	pf.StringVarP(&flags.key, "key", "k", dotenv.Get("OBJECTFTP_KEY", ""), "password or API key")
	pf.StringVar(&flags.backend, "backend", "", "storage backend: memory, sqlite, swift or s3")
	pf.StringVar(&flags.authURL, "auth-url", "", "authentication URL of the object store")
	pf.StringSliceVar(&flags.memcache, "memcache", nil, "memcache servers (host:port), enables the shared cache")
	pf.IntVar(&flags.splitMB, "split-mb", 0, "split uploads into parts of this many MB (0 disables)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "database file of the sqlite backend")
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if flags.configFile != "" {
		if err := cfg.LoadFromFile(flags.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Storage.Backend = flags.backend
	}
	if changed("auth-url") {
		cfg.Storage.AuthURL = flags.authURL
	}
	if changed("memcache") {
		cfg.Cache.MemcacheServers = flags.memcache
		cfg.Cache.Shared = config.SharedMemcache
	}
	if changed("split-mb") {
		cfg.Global.SplitLargeFilesMB = flags.splitMB
	}
	if changed("log-level") {
		cfg.Global.LogLevel = strings.ToUpper(flags.logLevel)
	}
	if changed("sqlite-path") {
		cfg.Storage.SQLite.Path = flags.sqlitePath
	}
	return cfg, cfg.Validate()
}

// env is a running adapter plus the logger's closer.
type env struct {
	adapter *adapter.Adapter
	cfg     *config.Configuration
	logs    io.Closer
}

func (e *env) close(ctx context.Context) {
	_ = e.adapter.Stop(ctx)
	_ = e.logs.Close()
}

func setup(cmd *cobra.Command, flags *globalFlags) (*env, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	logger, logs, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile, cfg.Global.LogFormat)
	if err != nil {
		return nil, err
	}
	a, err := adapter.New(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	return &env{adapter: a, cfg: cfg, logs: logs}, nil
}

// withSession runs fn with a logged-in session.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, sess *session.Session) error) error {
	e, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer e.close(ctx)

	sess, ticket, err := e.adapter.Connect(ctx, "127.0.0.1", flags.user, flags.key)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer ticket.Release()
	return fn(ctx, sess)
}
