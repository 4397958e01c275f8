// Package persistence stores experiment definitions on disk so they
// survive a restart. Executions are deliberately not persisted; they are
// in-memory history.
package persistence

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/palantir/stacktrace"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
	"github.com/breakpoint-labs/havoc/pkg/types"
)

const experimentPrefix = "experiment/"

// Store is the optional durable store for experiment definitions
type Store interface {
	LoadExperiments() ([]types.Experiment, error)
	SaveExperiment(exp types.Experiment) error
	DeleteExperiment(id string) error
	Close() error
}

// BadgerStore keeps definitions in an embedded badger database
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at path
func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, stacktrace.Propagate(err, "could not open experiment store at %s", path)
	}
	return &BadgerStore{db: db}, nil
}

// LoadExperiments returns every persisted definition; called once at
// startup
func (s *BadgerStore) LoadExperiments() ([]types.Experiment, error) {
	var out []types.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(experimentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var exp types.Experiment
				if err := json.Unmarshal(val, &exp); err != nil {
					return err
				}
				out = append(out, exp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, stacktrace.Propagate(cerrors.Error{
			ErrorCode: cerrors.ErrorTypePersistence,
			Reason:    err.Error(),
		}, "experiment load failed")
	}
	return out, nil
}

// SaveExperiment upserts one definition
func (s *BadgerStore) SaveExperiment(exp types.Experiment) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return stacktrace.Propagate(err, "experiment marshal failed")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(experimentPrefix+exp.ID), payload)
	})
	if err != nil {
		return stacktrace.Propagate(err, "experiment save failed")
	}
	return nil
}

// DeleteExperiment drops one definition; unknown ids are a no-op
func (s *BadgerStore) DeleteExperiment(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(experimentPrefix + id))
	})
	if err != nil {
		return stacktrace.Propagate(err, "experiment delete failed")
	}
	return nil
}

// Close flushes and closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
