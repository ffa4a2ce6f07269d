package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// DefaultKey is the key documents are stored under when none is given.
const DefaultKey = "nodetree/document"

// BadgerConfig configures a Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps the database off disk. Useful for tests.
	InMemory bool
	// Key is the document key, DefaultKey when empty.
	Key string
	// Logger receives badger's internal logging. Nil disables it.
	Logger *zap.Logger
}

// Badger stores the document under a single key of an embedded badger
// database. Several documents can share one database by using distinct
// keys.
type Badger struct {
	db  *badger.DB
	key []byte
}

// OpenBadger opens (creating if needed) the database described by cfg.
// The caller must Close it.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("storage: badger path is required")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("storage: creating %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: opening badger: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}
	return &Badger{db: db, key: []byte(key)}, nil
}

func (b *Badger) Save(doc string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, []byte(doc))
	})
	if err != nil {
		return fmt.Errorf("storage: saving %s: %w", b.key, err)
	}
	return nil
}

func (b *Badger) Load() (string, error) {
	var doc []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: loading %s: %w", b.key, err)
	}
	return string(doc), nil
}

// Close closes the underlying database.
func (b *Badger) Close() error { return b.db.Close() }

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
