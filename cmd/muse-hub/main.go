// Command muse-hub is the minimal server side of spec §6's hub surface:
// commit/object/ref lookups and a push endpoint over a store.Backend (MySQL
// when a DSN is given, in-memory otherwise) and a local filesystem object
// store, wired the way the
// teacher's cmd/zeta-serve wires pkg/serve/httpserver.Server — flags for
// listen address, DSN, and object storage root, no config file layer on
// top (spec §6 scopes the hub to a single deployment, not a fleet).
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/museup/muse/internal/hub"
	"github.com/museup/muse/internal/store"
	"github.com/museup/muse/internal/store/sqlstore"
	"github.com/museup/muse/internal/telemetry"
	"github.com/museup/muse/modules/objstore"
)

type cli struct {
	Listen     string `name:"listen" default:":8088" help:"Address to listen on"`
	MySQLDSN   string `name:"mysql-dsn" help:"MySQL DSN for commit/snapshot storage" placeholder:"<dsn>"`
	ObjectsDir string `name:"objects-dir" default:"./muse-hub-objects" help:"Root directory for the object store"`
	Verbose    bool   `name:"verbose" short:"v" help:"Enable debug logging"`
}

func (c *cli) backend() (store.Backend, error) {
	if c.MySQLDSN == "" {
		return store.NewMemory(), nil
	}
	cfg, err := gomysql.ParseDSN(c.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("muse-hub: parse mysql dsn: %w", err)
	}
	backend, err := sqlstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("muse-hub: open mysql: %w", err)
	}
	cached, err := store.NewCached(backend, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("muse-hub: wrap cache: %w", err)
	}
	return cached, nil
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("muse-hub"), kong.Description("Muse hub server"))

	level := "info"
	if c.Verbose {
		level = "debug"
	}
	log := telemetry.New(telemetry.Options{JSON: true, Level: level})

	backend, err := c.backend()
	if err != nil {
		log.Fatal(err)
	}
	objStore := objstore.NewLocalStore(c.ObjectsDir, true)

	srv := hub.NewServer(backend, objStore, log)
	log.WithField("listen", c.Listen).Info("muse-hub starting")
	if err := http.ListenAndServe(c.Listen, srv); err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}
