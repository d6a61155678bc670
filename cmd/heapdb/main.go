// Command heapdb inspects heap files and drives concurrent workloads against
// the storage engine.
package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/config"
	"simple-db-2pl/src/db"
	"simple-db-2pl/src/table"
	"simple-db-2pl/src/tuple"
)

type Globals struct {
	Config   string `name:"config" short:"c" help:"Path to an ini config file." type:"path"`
	LogLevel string `name:"log-level" help:"Overrides the configured log level."`
}

var CLI struct {
	Globals

	Info     InfoCmd     `cmd:"" help:"Print page occupancy of a heap file."`
	Dump     DumpCmd     `cmd:"" help:"Print every tuple of a heap file."`
	Workload WorkloadCmd `cmd:"" help:"Run concurrent insert transactions against a table."`
}

func (g *Globals) open() (*db.Database, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		level, err := log.ParseLevel(g.LogLevel)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", g.LogLevel)
		}
		cfg.LogLevel = level
	}
	return db.Open(cfg)
}

type TableArgs struct {
	Table  string `arg:"" help:"Heap file, relative to the data directory."`
	Schema string `name:"schema" short:"s" default:"int" help:"Field types, e.g. id:int,name:string."`
}

func (a *TableArgs) open(d *db.Database) (*table.HeapFile, error) {
	desc, err := tuple.ParseDesc(a.Schema)
	if err != nil {
		return nil, err
	}
	return d.OpenTable(a.Table, desc)
}

type InfoCmd struct {
	TableArgs
}

func (c *InfoCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer d.Close()
	hf, err := c.open(d)
	if err != nil {
		return err
	}
	numPages, err := hf.NumPages()
	if err != nil {
		return err
	}

	rowSize := hf.Desc().Size()
	fmt.Printf("file:       %s\n", hf.FileName())
	fmt.Printf("table id:   %d\n", hf.ID())
	fmt.Printf("schema:     %s\n", hf.Desc())
	fmt.Printf("page size:  %d\n", common.PageSize())
	fmt.Printf("slots/page: %d (header %d bytes)\n", table.NumSlots(rowSize), table.HeaderSize(rowSize))
	fmt.Printf("pages:      %d\n", numPages)

	tx := d.Begin()
	defer tx.Commit()
	bp := d.BufferPool()
	total := 0
	for i := 0; i < numPages; i++ {
		page, err := bp.FetchPage(tx.ID(), common.NewPageId(hf.ID(), i), common.ReadOnly)
		if err != nil {
			return err
		}
		used := len(table.NewHeapPage(page, hf.Desc()).Tuples())
		total += used
		fmt.Printf("  page %d: %d used\n", i, used)
	}
	fmt.Printf("tuples:     %d\n", total)
	return nil
}

type DumpCmd struct {
	TableArgs
	Limit int `name:"limit" short:"n" help:"Stop after this many tuples (0 for all)."`
}

func (c *DumpCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer d.Close()
	hf, err := c.open(d)
	if err != nil {
		return err
	}

	tx := d.Begin()
	defer tx.Commit()
	n := 0
	return tx.Scan(hf, func(t *tuple.Tuple) bool {
		fmt.Printf("%s\t%s\n", t.RecordId(), t.Format())
		n++
		return c.Limit == 0 || n < c.Limit
	})
}

type WorkloadCmd struct {
	Table   string `arg:"" help:"Heap file of one int field, relative to the data directory."`
	Workers int    `name:"workers" short:"w" default:"4" help:"Concurrent transactions."`
	Txns    int    `name:"txns" default:"50" help:"Transactions per worker."`
	Rows    int    `name:"rows" default:"5" help:"Inserts per transaction."`
	Retries int    `name:"retries" default:"10" help:"Attempts per transaction before giving up."`
}

func (c *WorkloadCmd) Run(g *Globals) error {
	d, err := g.open()
	if err != nil {
		return err
	}
	defer d.Close()
	desc := tuple.IntDesc(1)
	hf, err := d.OpenTable(c.Table, desc)
	if err != nil {
		return err
	}

	var committed, aborted, failed int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < c.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < c.Txns; i++ {
				ok := false
				for attempt := 0; attempt < c.Retries && !ok; attempt++ {
					err := c.runTxn(d, hf, desc, int32(w*c.Txns+i))
					switch {
					case err == nil:
						ok = true
						atomic.AddInt64(&committed, 1)
					case errors.Is(err, common.ErrTransactionAborted):
						atomic.AddInt64(&aborted, 1)
					default:
						log.WithError(err).Errorf("Worker %d failed.", w)
						atomic.AddInt64(&failed, 1)
						return
					}
				}
				if !ok {
					atomic.AddInt64(&failed, 1)
				}
			}
		}(w)
	}
	wg.Wait()

	log.WithFields(log.Fields{
		"committed": committed,
		"aborted":   aborted,
		"failed":    failed,
		"elapsed":   time.Since(start),
	}).Info("Workload finished.")
	if failed > 0 {
		return errors.Errorf("%d transactions failed", failed)
	}
	return nil
}

func (c *WorkloadCmd) runTxn(d *db.Database, hf *table.HeapFile, desc *tuple.Desc, v int32) error {
	tx := d.Begin()
	for r := 0; r < c.Rows; r++ {
		t := tuple.NewTuple(desc)
		t.SetInt(0, v)
		if err := tx.Insert(hf, t); err != nil {
			if !errors.Is(err, common.ErrTransactionAborted) {
				tx.Abort()
			}
			return err
		}
	}
	return tx.Commit()
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("heapdb"),
		kong.Description("Heap file storage engine tools."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
