package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Key is a multi-part string tuple. Unused trailing parts stay empty.
// Hash-addressed dicts use all four parts: (descriptor, shard,
// subshard, tail).
type Key [4]string

// Key1 builds a single-part key.
func Key1(k string) Key { return Key{k} }

// String renders the key for error messages.
func (k Key) String() string {
	parts := make([]string, 0, 4)
	for _, p := range k {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return "(" + strings.Join(parts, "/") + ")"
}

// DictOptions parameterize a derived sub-mapping.
type DictOptions struct {
	// Immutable makes entries first-write-wins: a second Put under an
	// existing key is a no-op, subject to verification sampling.
	Immutable bool

	// PConsistencyChecks is the probability, in [0,1], that a redundant
	// Put on an immutable dict is verified against the stored content.
	// At 0 no verification occurs; at 1 every redundant write is
	// verified and a mismatch raises ImmutableOverwriteError.
	PConsistencyChecks float64
}

// Dict is a named sub-mapping of a Store. Deriving a Dict is cheap;
// the params travel with the handle, not with the database.
type Dict struct {
	store *Store
	name  string
	opts  DictOptions
}

// Dict derives a named sub-mapping with the given parameters.
func (s *Store) Dict(name string, opts DictOptions) *Dict {
	return &Dict{store: s, name: name, opts: opts}
}

// Name returns the dict's name.
func (d *Dict) Name() string { return d.name }

// Put writes content under key, stamped with the current wall-clock
// time.
//
// On an immutable dict the insert is first-write-wins: duplicate writes
// are silently ignored. With probability PConsistencyChecks a duplicate
// write is verified against the existing content and a mismatch returns
// ImmutableOverwriteError. On a mutable dict Put upserts.
func (d *Dict) Put(ctx context.Context, key Key, content []byte) error {
	return d.PutAt(ctx, key, content, unixNow())
}

// PutAt is Put with an explicit modification timestamp, in Unix
// seconds. Callers that measure time themselves use it so recency
// queries read back the clock they wrote with.
func (d *Dict) PutAt(ctx context.Context, key Key, content []byte, at float64) error {
	now := at

	if !d.opts.Immutable {
		_, err := d.store.db.ExecContext(ctx, `
			INSERT INTO entries (dict, k1, k2, k3, k4, content, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dict, k1, k2, k3, k4)
			DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		`, d.name, key[0], key[1], key[2], key[3], content, now)
		if err != nil {
			return fmt.Errorf("put %s in %q: %w", key, d.name, err)
		}
		return nil
	}

	res, err := d.store.db.ExecContext(ctx, `
		INSERT INTO entries (dict, k1, k2, k3, k4, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dict, k1, k2, k3, k4) DO NOTHING
	`, d.name, key[0], key[1], key[2], key[3], content, now)
	if err != nil {
		return fmt.Errorf("put %s in %q: %w", key, d.name, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s in %q: rows affected: %w", key, d.name, err)
	}
	if rows > 0 {
		return nil
	}

	// Redundant write. Verify content only when sampled: checking every
	// write trades throughput for corruption detection.
	if !d.sampleConsistencyCheck() {
		return nil
	}
	existing, err := d.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("put %s in %q: verify: %w", key, d.name, err)
	}
	if !bytes.Equal(existing, content) {
		return &ImmutableOverwriteError{Dict: d.name, Key: key}
	}
	return nil
}

// Get returns the content stored under key, or NotFoundError.
func (d *Dict) Get(ctx context.Context, key Key) ([]byte, error) {
	var content []byte
	err := d.store.db.QueryRowContext(ctx, `
		SELECT content FROM entries
		WHERE dict = ? AND k1 = ? AND k2 = ? AND k3 = ? AND k4 = ?
	`, d.name, key[0], key[1], key[2], key[3]).Scan(&content)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Dict: d.name, Key: key}
		}
		return nil, fmt.Errorf("get %s from %q: %w", key, d.name, err)
	}
	return content, nil
}

// Contains reports whether key is present.
func (d *Dict) Contains(ctx context.Context, key Key) (bool, error) {
	var one int
	err := d.store.db.QueryRowContext(ctx, `
		SELECT 1 FROM entries
		WHERE dict = ? AND k1 = ? AND k2 = ? AND k3 = ? AND k4 = ?
	`, d.name, key[0], key[1], key[2], key[3]).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("contains %s in %q: %w", key, d.name, err)
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (d *Dict) Delete(ctx context.Context, key Key) error {
	_, err := d.store.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE dict = ? AND k1 = ? AND k2 = ? AND k3 = ? AND k4 = ?
	`, d.name, key[0], key[1], key[2], key[3])
	if err != nil {
		return fmt.Errorf("delete %s from %q: %w", key, d.name, err)
	}
	return nil
}

// Len returns the number of entries in the dict.
func (d *Dict) Len(ctx context.Context) (int, error) {
	var n int
	err := d.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE dict = ?`, d.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("len of %q: %w", d.name, err)
	}
	return n, nil
}

// Keys returns every key in the dict, in unspecified order.
func (d *Dict) Keys(ctx context.Context) ([]Key, error) {
	rows, err := d.store.db.QueryContext(ctx, `
		SELECT k1, k2, k3, k4 FROM entries WHERE dict = ?
	`, d.name)
	if err != nil {
		return nil, fmt.Errorf("keys of %q: %w", d.name, err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k[0], &k[1], &k[2], &k[3]); err != nil {
			return nil, fmt.Errorf("keys of %q: scan: %w", d.name, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys of %q: %w", d.name, err)
	}
	return keys, nil
}

// RandomKey returns one key chosen uniformly at random, or ok=false if
// the dict is empty. Workers use this to spread claim attempts.
func (d *Dict) RandomKey(ctx context.Context) (Key, bool, error) {
	var k Key
	err := d.store.db.QueryRowContext(ctx, `
		SELECT k1, k2, k3, k4 FROM entries
		WHERE dict = ? ORDER BY RANDOM() LIMIT 1
	`, d.name).Scan(&k[0], &k[1], &k[2], &k[3])
	if err != nil {
		if isNoRows(err) {
			return Key{}, false, nil
		}
		return Key{}, false, fmt.Errorf("random key of %q: %w", d.name, err)
	}
	return k, true, nil
}

// CountAndLatest returns how many entries share the (k1, k2) key
// prefix and the most recent stored modification time among them, as
// Unix seconds. Used for attempt accounting: attempts are keyed by an
// address prefix plus a random id, and recency drives cool-downs.
func (d *Dict) CountAndLatest(ctx context.Context, k1, k2 string) (int, float64, error) {
	var n int
	var latest float64
	err := d.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), 0) FROM entries
		WHERE dict = ? AND k1 = ? AND k2 = ?
	`, d.name, k1, k2).Scan(&n, &latest)
	if err != nil {
		return 0, 0, fmt.Errorf("prefix stats of %q: %w", d.name, err)
	}
	return n, latest, nil
}

// Timestamp returns the stored modification time of key as Unix
// seconds, or NotFoundError.
func (d *Dict) Timestamp(ctx context.Context, key Key) (float64, error) {
	var ts float64
	err := d.store.db.QueryRowContext(ctx, `
		SELECT updated_at FROM entries
		WHERE dict = ? AND k1 = ? AND k2 = ? AND k3 = ? AND k4 = ?
	`, d.name, key[0], key[1], key[2], key[3]).Scan(&ts)
	if err != nil {
		if isNoRows(err) {
			return 0, &NotFoundError{Dict: d.name, Key: key}
		}
		return 0, fmt.Errorf("timestamp %s in %q: %w", key, d.name, err)
	}
	return ts, nil
}

func (d *Dict) sampleConsistencyCheck() bool {
	p := d.opts.PConsistencyChecks
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rand.Float64() < p
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
