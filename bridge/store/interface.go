package store

import (
	"context"
	"errors"
)

var (
	ErrDBClosed    = errors.New("database is closed")
	ErrKeyNotFound = errors.New("key not found")
)

// DB defines the durable backend operations. Writes only happen in batches,
// one batch per committed call.
type DB interface {
	Read(ctx context.Context, key []byte) ([]byte, error)
	Batch(ctx context.Context, ops []BatchOperation) error
	// Iterator walks keys in [start, end) in ascending order. A nil bound is open.
	Iterator(ctx context.Context, start, end []byte) (Iterator, error)
	Close() error
}

// Iterator allows traversing over database entries
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// BatchOperation represents a single operation in a batch
type BatchOperation struct {
	Type  BatchOpType
	Key   []byte
	Value []byte
}

type BatchOpType int

const (
	BatchPut BatchOpType = iota
	BatchDelete
)

// KV is the transactional view handlers read and write through.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterator(start, end []byte) (Iterator, error)
}

// batchWriter is implemented by views that can apply a flush atomically.
type batchWriter interface {
	ApplyBatch(ops []BatchOperation) error
}

// Wrap exposes a DB as a KV bound to ctx.
func Wrap(ctx context.Context, db DB) KV {
	return &dbView{ctx: ctx, db: db}
}

type dbView struct {
	ctx context.Context
	db  DB
}

func (v *dbView) Get(key []byte) ([]byte, error) {
	return v.db.Read(v.ctx, key)
}

func (v *dbView) Has(key []byte) (bool, error) {
	_, err := v.db.Read(v.ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (v *dbView) Set(key, value []byte) error {
	return v.db.Batch(v.ctx, []BatchOperation{{Type: BatchPut, Key: key, Value: value}})
}

func (v *dbView) Delete(key []byte) error {
	return v.db.Batch(v.ctx, []BatchOperation{{Type: BatchDelete, Key: key}})
}

func (v *dbView) Iterator(start, end []byte) (Iterator, error) {
	return v.db.Iterator(v.ctx, start, end)
}

func (v *dbView) ApplyBatch(ops []BatchOperation) error {
	return v.db.Batch(v.ctx, ops)
}

// Open creates a DB for the configured backend.
func Open(backend, path string) (DB, error) {
	switch backend {
	case "", "pebble":
		return OpenPebble(path)
	case "goleveldb", "leveldb":
		return OpenLevelDB(path)
	case "memdb", "memory":
		return NewMemDB(), nil
	default:
		return nil, errors.New("unknown db backend: " + backend)
	}
}

// PrefixEnd returns the smallest key greater than every key with the given prefix.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
