// Command rednext manages schema-driven record collections stored in SQLite
// files, in memory or behind a remote rednext service.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver "sqlite3"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	_ "modernc.org/sqlite" // SQLite driver "sqlite"

	"github.com/stevemurr/rednext/config"
	"github.com/stevemurr/rednext/store"
)

// app carries the state shared by every command: the resolved config and
// the flag values that override it.
type app struct {
	configPath string
	backend    string
	dataDir    string
	driver     string
	url        string

	cfg    config.Config
	logger *slog.Logger
}

func (a *app) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&a.configPath, "config", config.DefaultPath(), "path to the YAML config file")
	fs.StringVar(&a.backend, "backend", "", "store backend: sqlite, http or memory")
	fs.StringVar(&a.dataDir, "data-dir", "", "directory holding the SQLite collections")
	fs.StringVar(&a.driver, "driver", "", "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	fs.StringVar(&a.url, "url", "", "base URL of a remote rednext service")
}

// load resolves the config file, the environment and the flags, in that
// order of increasing precedence.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	return nil
}

// applyFlags copies the explicitly set persistent flags into cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	override("backend", &cfg.Backend, a.backend)
	override("data-dir", &cfg.DataDir, a.dataDir)
	override("driver", &cfg.Driver, a.driver)
	override("url", &cfg.URL, a.url)
}

func (a *app) catalog() (store.Catalog, error) {
	return store.New(a.cfg.Backend, a.cfg.Location(),
		store.WithDriver(a.cfg.Driver),
		store.WithHTTPClient(&http.Client{Timeout: a.cfg.Timeout}),
		store.WithLogger(a.logger),
	)
}

// collection opens name in the configured catalog.
func (a *app) collection(name string) (store.Collection, error) {
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	return cat.Open(name)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "rednext",
		Short:         "Manage schema-driven record collections",
		Long:          `A command-line interface for creating collections of typed records and tracking which of them are done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	a.bindFlags(root.PersistentFlags())

	root.AddCommand(
		a.listCmd(),
		a.newCmd(),
		a.dropCmd(),
		a.itemsCmd(),
		a.addCmd(),
		a.getCmd(),
		a.randomCmd(),
		a.doneCmd(),
		a.undoneCmd(),
		a.rmCmd(),
		a.findCmd(),
		a.serveCmd(),
		a.configCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
