package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidKey = errors.New("invalid composite key")

// encodePart length-prefixes a key component so composite keys stay unambiguous.
func encodePart(buf []byte, part string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(part)))
	buf = append(buf, l[:]...)
	return append(buf, part...)
}

func decodeParts(raw []byte, n int) ([]string, error) {
	parts := make([]string, 0, n)
	for i := 0; i < n-1; i++ {
		if len(raw) < 2 {
			return nil, ErrInvalidKey
		}
		l := int(binary.BigEndian.Uint16(raw[:2]))
		if len(raw) < 2+l {
			return nil, ErrInvalidKey
		}
		parts = append(parts, string(raw[2:2+l]))
		raw = raw[2+l:]
	}
	return append(parts, string(raw)), nil
}

func load[T any](kv KV, key []byte) (T, bool, error) {
	var out T
	raw, err := kv.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("failed to decode %x: %w", key, err)
	}
	return out, true, nil
}

func save[T any](kv KV, key []byte, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %x: %w", key, err)
	}
	return kv.Set(key, raw)
}

// Item is a singleton record stored under a fixed key.
type Item[T any] struct {
	key []byte
}

func NewItem[T any](namespace string) Item[T] {
	return Item[T]{key: []byte(namespace)}
}

func (i Item[T]) Load(kv KV) (T, bool, error) {
	return load[T](kv, i.key)
}

// MustExist loads the item and fails if it was never saved.
func (i Item[T]) MustExist(kv KV) (T, error) {
	v, ok, err := i.Load(kv)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrKeyNotFound, i.key)
	}
	return v, nil
}

func (i Item[T]) Save(kv KV, value T) error {
	return save(kv, i.key, value)
}

func (i Item[T]) Remove(kv KV) error {
	return kv.Delete(i.key)
}

// Entry is a decoded map record.
type Entry[T any] struct {
	Key   []string
	Value T
}

// Map stores records under composite string keys of fixed arity. All but the
// last component are length-prefixed, so iteration order over the last
// component is plain lexicographic.
type Map[T any] struct {
	namespace []byte
	arity     int
}

func NewMap[T any](namespace string, arity int) Map[T] {
	if arity < 1 {
		arity = 1
	}
	return Map[T]{namespace: encodePart(nil, namespace), arity: arity}
}

func (m Map[T]) key(parts []string) ([]byte, error) {
	if len(parts) != m.arity {
		return nil, fmt.Errorf("%w: want %d parts, got %d", ErrInvalidKey, m.arity, len(parts))
	}
	k := m.prefix(parts[:len(parts)-1])
	return append(k, parts[len(parts)-1]...), nil
}

func (m Map[T]) prefix(parts []string) []byte {
	k := append([]byte(nil), m.namespace...)
	for _, p := range parts {
		k = encodePart(k, p)
	}
	return k
}

func (m Map[T]) Load(kv KV, parts ...string) (T, bool, error) {
	k, err := m.key(parts)
	if err != nil {
		var zero T
		return zero, false, err
	}
	return load[T](kv, k)
}

func (m Map[T]) Has(kv KV, parts ...string) (bool, error) {
	k, err := m.key(parts)
	if err != nil {
		return false, err
	}
	return kv.Has(k)
}

func (m Map[T]) Save(kv KV, value T, parts ...string) error {
	k, err := m.key(parts)
	if err != nil {
		return err
	}
	return save(kv, k, value)
}

func (m Map[T]) Remove(kv KV, parts ...string) error {
	k, err := m.key(parts)
	if err != nil {
		return err
	}
	return kv.Delete(k)
}

// Range lists records whose leading components equal prefix. When page is
// non-nil it applies start_after, limit and order to the last component;
// page is only meaningful when prefix fixes every other component.
func (m Map[T]) Range(kv KV, prefix []string, page *Page) ([]Entry[T], error) {
	if len(prefix) >= m.arity {
		return nil, fmt.Errorf("%w: prefix of %d parts on arity %d", ErrInvalidKey, len(prefix), m.arity)
	}
	base := m.prefix(prefix)
	start, end := base, PrefixEnd(base)

	if page != nil && page.StartAfter != "" {
		bound := append(append([]byte(nil), base...), page.StartAfter...)
		if page.Descending {
			end = bound
		} else {
			start = append(bound, 0)
		}
	}

	it, err := kv.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = it.Close()
	}()

	var out []Entry[T]
	for it.Next() {
		parts, err := decodeParts(it.Key()[len(base):], m.arity-len(prefix))
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("failed to decode %x: %w", it.Key(), err)
		}
		out = append(out, Entry[T]{Key: append(append([]string(nil), prefix...), parts...), Value: v})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if page != nil {
		out = applyPage(page, out)
	}
	return out, nil
}

// IndexedMap is a single-component Map with a multi-index maintained in the
// same transaction as the primary records.
type IndexedMap[T any] struct {
	primary Map[T]
	index   Map[struct{}]
	indexFn func(T) string
}

func NewIndexedMap[T any](namespace, indexName string, indexFn func(T) string) IndexedMap[T] {
	return IndexedMap[T]{
		primary: NewMap[T](namespace, 1),
		index:   NewMap[struct{}](namespace+"__"+indexName, 2),
		indexFn: indexFn,
	}
}

func (m IndexedMap[T]) Load(kv KV, pk string) (T, bool, error) {
	return m.primary.Load(kv, pk)
}

func (m IndexedMap[T]) Has(kv KV, pk string) (bool, error) {
	return m.primary.Has(kv, pk)
}

// Save writes the record and moves its index entry if the indexed value changed.
func (m IndexedMap[T]) Save(kv KV, pk string, value T) error {
	old, ok, err := m.primary.Load(kv, pk)
	if err != nil {
		return err
	}
	if ok {
		if err := m.index.Remove(kv, m.indexFn(old), pk); err != nil {
			return err
		}
	}
	if err := m.primary.Save(kv, value, pk); err != nil {
		return err
	}
	return m.index.Save(kv, struct{}{}, m.indexFn(value), pk)
}

// Remove deletes the record and its index entry. Removing a missing key is a no-op.
func (m IndexedMap[T]) Remove(kv KV, pk string) error {
	old, ok, err := m.primary.Load(kv, pk)
	if err != nil || !ok {
		return err
	}
	if err := m.index.Remove(kv, m.indexFn(old), pk); err != nil {
		return err
	}
	return m.primary.Remove(kv, pk)
}

func (m IndexedMap[T]) Range(kv KV, page *Page) ([]Entry[T], error) {
	return m.primary.Range(kv, nil, page)
}

// ByIndex returns every record whose indexed value equals idx, ordered by primary key.
func (m IndexedMap[T]) ByIndex(kv KV, idx string) ([]Entry[T], error) {
	refs, err := m.index.Range(kv, []string{idx}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Entry[T], 0, len(refs))
	for _, ref := range refs {
		pk := ref.Key[1]
		v, ok, err := m.primary.Load(kv, pk)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("index %s points to missing record %s", idx, pk)
		}
		out = append(out, Entry[T]{Key: []string{pk}, Value: v})
	}
	return out, nil
}
