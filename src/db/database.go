package db

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/config"
	"simple-db-2pl/src/disk"
	"simple-db-2pl/src/table"
	"simple-db-2pl/src/tuple"
)

// Database ties one buffer pool to the heap files opened through it.
type Database struct {
	cfg *config.Config
	bp  *disk.BufferPool
	// tables is keyed by canonical file path.
	tables map[string]*table.HeapFile
	mu     sync.Mutex
}

// Open applies cfg process-wide (page size, log level) and builds the
// buffer pool.
func Open(cfg *config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}
	common.SetPageSize(cfg.PageSize)
	log.SetLevel(cfg.LogLevel)

	bp := disk.NewBufferPool(cfg.PoolPages, cfg.NewReplacer())
	bp.SetLockTimeout(cfg.LockTimeout)
	bp.SetBackoff(disk.RandomBackoff(cfg.BackoffMin, cfg.BackoffMax))
	log.WithFields(log.Fields{
		"page_size": cfg.PageSize,
		"pages":     cfg.PoolPages,
		"eviction":  cfg.Eviction,
	}).Info("Database opened.")
	return &Database{
		cfg:    cfg,
		bp:     bp,
		tables: make(map[string]*table.HeapFile),
	}, nil
}

func (d *Database) BufferPool() *disk.BufferPool { return d.bp }

// OpenTable opens the heap file name under the data directory. Names that
// resolve to the same file return the same table; the schema must then match.
func (d *Database) OpenTable(name string, desc *tuple.Desc) (*table.HeapFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.cfg.DataDir, name)
	}
	canonical, err := table.CanonicalPath(path)
	if err != nil {
		return nil, err
	}
	if hf, ok := d.tables[canonical]; ok {
		if !hf.Desc().Equals(desc) {
			return nil, errors.Wrapf(common.ErrSchemaMismatch, "table %s is (%s)", name, hf.Desc())
		}
		return hf, nil
	}
	hf, err := table.NewHeapFile(path, desc, d.bp, d.cfg.DirectIO)
	if err != nil {
		return nil, err
	}
	d.tables[hf.FileName()] = hf
	return hf, nil
}

// Begin starts a transaction. Transactions hold no state of their own beyond
// locks and dirty pages, which live in the buffer pool.
func (d *Database) Begin() *Transaction {
	return &Transaction{id: common.NewTransactionId(), bp: d.bp}
}

// Close writes every dirty page and closes all tables. Running transactions
// must have finished.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.bp.FlushAllPages()
	for name, hf := range d.tables {
		if cerr := hf.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close table %s", name)
		}
	}
	d.tables = make(map[string]*table.HeapFile)
	return err
}
