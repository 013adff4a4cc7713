package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var (
	stateKey  = []byte("state")
	digestKey = []byte("state:digest")
)

// BadgerStore keeps the encoded state and its digest under two keys of a
// BadgerDB database. Both keys are written in one transaction.
type BadgerStore struct {
	db     *badger.DB
	dir    string
	logger *slog.Logger
}

// OpenBadgerStore opens the database in dir. An empty dir opens an in-memory
// database, which is lost on Close.
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, dir: dir, logger: logger}, nil
}

func (s *BadgerStore) Save(state State) (Receipt, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Receipt{}, err
	}
	digest, err := Digest(raw)
	if err != nil {
		return Receipt{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(stateKey, raw); err != nil {
			return err
		}
		return txn.Set(digestKey, []byte(digest))
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to save state: %w", err)
	}
	s.logger.Debug("state saved", "store", "badger", "dir", s.dir, "digest", digest)
	return Receipt{Location: "badger:" + s.dir, Digest: digest}, nil
}

func (s *BadgerStore) Load() (Loaded, error) {
	var raw []byte
	var stored string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(digestKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stored = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Loaded{IntegrityOK: true}, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("failed to load state: %w", err)
	}
	return decodeState(raw, stored)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes BadgerDB's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trimf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trimf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(trimf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(trimf(format, args...), "component", "badger")
}

func trimf(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
