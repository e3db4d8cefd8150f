package mv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	viewBucket   = []byte("views")
	indexBucket  = []byte("identities")
	rowBucket    = []byte("rows")
	detailBucket = []byte("detail")
)

// BoltRegistry keeps views in a bbolt file. Rows are stored as JSON together
// with their schema, cells are folded back to their column type on read.
type BoltRegistry struct {
	db *bolt.DB
	// MaxAge makes older views stale, 0 never expires
	MaxAge time.Duration
	now    func() time.Time
}

func OpenBolt(path string, maxAge time.Duration) (*BoltRegistry, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open view registry %s", path)
	}
	r := &BoltRegistry{db: db, MaxAge: maxAge, now: time.Now}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (self *BoltRegistry) initialize() error {
	return self.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{viewBucket, indexBucket, rowBucket, detailBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *BoltRegistry) Close() error {
	return self.db.Close()
}

func indexKey(identity, principal string) []byte {
	return []byte(fmt.Sprintf("%016x/%s", xxhash.Sum64String(identity), principal))
}

type storedRows struct {
	Schema table.Schema
	Rows   [][]interface{}
}

func encodeRows(m *table.Memory) ([]byte, error) {
	s := storedRows{Schema: m.Schema()}
	for _, r := range m.Rows() {
		s.Rows = append(s.Rows, r)
	}
	return json.Marshal(&s)
}

func decodeRows(b []byte) (*table.Memory, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	s := storedRows{}
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	rows := make([]table.Row, 0, len(s.Rows))
	for _, r := range s.Rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			row[i] = decodeCell(v, s.Schema, i)
		}
		rows = append(rows, row)
	}
	return table.NewMemory(s.Schema, rows), nil
}

func decodeCell(v interface{}, schema table.Schema, i int) interface{} {
	if n, ok := v.(json.Number); ok {
		if x, err := n.Int64(); err == nil {
			v = x
		} else if f, err := n.Float64(); err == nil {
			v = f
		} else {
			v = n.String()
		}
	}
	if i >= len(schema) || schema[i].Type == table.TypeUnknown {
		return v
	}
	if x, err := table.Coerce(v, schema[i].Type); err == nil {
		return x
	}
	return v
}

// Put stores or replaces a view
func (self *BoltRegistry) Put(v *View) error {
	if v.Name == "" {
		return fmt.Errorf("view name cannot be empty")
	}
	if v.Rows == nil {
		return fmt.Errorf("view %q has no rows", v.Name)
	}
	meta, err := json.Marshal(&v.Ref)
	if err != nil {
		return err
	}
	rows, err := encodeRows(v.Rows)
	if err != nil {
		return errors.Wrapf(err, "view %q", v.Name)
	}
	var detail []byte
	if v.Detail != nil {
		if detail, err = encodeRows(v.Detail); err != nil {
			return errors.Wrapf(err, "view %q", v.Name)
		}
	}

	return self.db.Update(func(tx *bolt.Tx) error {
		name := []byte(v.Name)
		if err := tx.Bucket(viewBucket).Put(name, meta); err != nil {
			return err
		}
		if err := tx.Bucket(indexBucket).Put(indexKey(v.Identity, v.Principal), name); err != nil {
			return err
		}
		if err := tx.Bucket(rowBucket).Put(name, rows); err != nil {
			return err
		}
		if detail == nil {
			return tx.Bucket(detailBucket).Delete(name)
		}
		return tx.Bucket(detailBucket).Put(name, detail)
	})
}

func (self *BoltRegistry) Find(identity, principal string) (*Ref, error) {
	var ref *Ref
	err := self.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(indexBucket)
		name := idx.Get(indexKey(identity, principal))
		if name == nil && principal != "" {
			name = idx.Get(indexKey(identity, ""))
		}
		if name == nil {
			return nil
		}
		meta := tx.Bucket(viewBucket).Get(name)
		if meta == nil {
			return nil
		}
		ref = &Ref{}
		return json.Unmarshal(meta, ref)
	})
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, &query.MVUnavailableError{View: identity, Reason: "no view is registered"}
	}
	if self.MaxAge > 0 {
		if age := self.now().Sub(ref.Built); age > self.MaxAge {
			return nil, &query.MVUnavailableError{View: ref.Name, Reason: fmt.Sprintf("built %s ago", age.Round(time.Second))}
		}
	}
	return ref, nil
}

func (self *BoltRegistry) IsCombinable(ref *Ref) bool {
	return ref != nil && ref.Combinable
}

func (self *BoltRegistry) load(ctx context.Context, bucket []byte, ref *Ref) (table.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var m *table.Memory
	err := self.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket).Get([]byte(ref.Name))
		if b == nil {
			return nil
		}
		var err error
		m, err = decodeRows(b)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "view %q", ref.Name)
	}
	if m == nil {
		return nil, &query.MVUnavailableError{View: ref.Name, Reason: fmt.Sprintf("no %s stored", bucket)}
	}
	return m.Reader(), nil
}

func (self *BoltRegistry) Rows(ctx context.Context, ref *Ref) (table.Stream, error) {
	return self.load(ctx, rowBucket, ref)
}

func (self *BoltRegistry) Detail(ctx context.Context, ref *Ref) (table.Stream, error) {
	return self.load(ctx, detailBucket, ref)
}
