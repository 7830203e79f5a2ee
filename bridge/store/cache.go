package store

import (
	"bytes"
	"errors"
	"sort"
)

type cacheEntry struct {
	value   []byte
	deleted bool
}

// CacheKV buffers writes on top of a parent KV. Nothing reaches the parent
// until Write is called, so a CacheKV is both a call-level transaction and,
// when stacked, a savepoint inside one.
type CacheKV struct {
	parent KV
	dirty  map[string]cacheEntry
}

func NewCacheKV(parent KV) *CacheKV {
	return &CacheKV{parent: parent, dirty: make(map[string]cacheEntry)}
}

func (c *CacheKV) Get(key []byte) ([]byte, error) {
	if e, ok := c.dirty[string(key)]; ok {
		if e.deleted {
			return nil, ErrKeyNotFound
		}
		return bytes.Clone(e.value), nil
	}
	return c.parent.Get(key)
}

func (c *CacheKV) Has(key []byte) (bool, error) {
	if e, ok := c.dirty[string(key)]; ok {
		return !e.deleted, nil
	}
	return c.parent.Has(key)
}

func (c *CacheKV) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	c.dirty[string(key)] = cacheEntry{value: bytes.Clone(value)}
	return nil
}

func (c *CacheKV) Delete(key []byte) error {
	c.dirty[string(key)] = cacheEntry{deleted: true}
	return nil
}

// Iterator merges buffered writes over the parent's range.
func (c *CacheKV) Iterator(start, end []byte) (Iterator, error) {
	merged := make(map[string][]byte)

	it, err := c.parent.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	for it.Next() {
		merged[string(it.Key())] = it.Value()
	}
	iterErr := it.Error()
	closeErr := it.Close()
	if err := errors.Join(iterErr, closeErr); err != nil {
		return nil, err
	}

	for k, e := range c.dirty {
		if !inRange([]byte(k), start, end) {
			continue
		}
		if e.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = bytes.Clone(e.value)
	}

	entries := make([]kvPair, 0, len(merged))
	for k, v := range merged {
		entries = append(entries, kvPair{key: []byte(k), value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	return newSliceIterator(entries), nil
}

// Write flushes buffered operations into the parent in key order and resets the buffer.
func (c *CacheKV) Write() error {
	if len(c.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]BatchOperation, 0, len(keys))
	for _, k := range keys {
		e := c.dirty[k]
		if e.deleted {
			ops = append(ops, BatchOperation{Type: BatchDelete, Key: []byte(k)})
		} else {
			ops = append(ops, BatchOperation{Type: BatchPut, Key: []byte(k), Value: e.value})
		}
	}

	if bw, ok := c.parent.(batchWriter); ok {
		if err := bw.ApplyBatch(ops); err != nil {
			return err
		}
	} else {
		for _, op := range ops {
			var err error
			if op.Type == BatchDelete {
				err = c.parent.Delete(op.Key)
			} else {
				err = c.parent.Set(op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
	}
	c.Discard()
	return nil
}

// Discard drops every buffered write.
func (c *CacheKV) Discard() {
	c.dirty = make(map[string]cacheEntry)
}

// Dirty reports how many keys are buffered.
func (c *CacheKV) Dirty() int {
	return len(c.dirty)
}
