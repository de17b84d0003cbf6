// Package journal persists one record per completed diff/patch operation in
// a Pebble store, so runs of the CLI leave an inspectable trail of what was
// computed, from which inputs, and how it went.
package journal

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/multiformats/go-multihash"
)

const prefixOp = "op:"

// Record describes one completed operation.
type Record struct {
	Seq          uint64 `json:"seq"`
	Timestamp    int64  `json:"ts"`
	Op           string `json:"op"` // diff | patch
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
	CurrentCID   string `json:"current_cid,omitempty"`
	ReferenceCID string `json:"reference_cid,omitempty"`
	InputBytes   int    `json:"input_bytes"`
	OutputBytes  int    `json:"output_bytes"`
	DurationMs   int64  `json:"duration_ms"`
}

// Journal is a Pebble-backed operation log.
type Journal struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// Open opens (or creates) a journal at dir.
func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}

	j := &Journal{db: db}
	j.seq.Store(j.lastSeq())
	return j, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append assigns the record a sequence number and persists it.
func (j *Journal) Append(rec Record) error {
	rec.Seq = j.seq.Add(1)
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixNano()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}

	key := []byte(fmt.Sprintf("%s%020d", prefixOp, rec.Seq))
	if err := j.db.Set(key, payload, pebble.Sync); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	iter, err := j.newOpIter()
	if err != nil {
		return nil, fmt.Errorf("journal iterator init: %w", err)
	}
	defer iter.Close()

	var records []Record
	for ok := iter.Last(); ok && len(records) < limit; ok = iter.Prev() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode journal record %s: %w", string(iter.Key()), err)
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("journal iterator: %w", err)
	}

	return records, nil
}

// lastSeq scans for the highest sequence number already present.
func (j *Journal) lastSeq() uint64 {
	iter, err := j.newOpIter()
	if err != nil {
		return 0
	}
	defer iter.Close()

	if !iter.Last() {
		return 0
	}
	var rec Record
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return 0
	}
	return rec.Seq
}

func (j *Journal) newOpIter() (*pebble.Iterator, error) {
	upper := append([]byte(prefixOp), 0xff)
	return j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixOp),
		UpperBound: upper,
	})
}

// CID computes a base58 SHA2-256 multihash content identifier for a buffer,
// the digest form journal records use to name inputs and outputs.
func CID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to compute multihash: %w", err)
	}
	return mh.B58String(), nil
}
