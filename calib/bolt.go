// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("calib")

// BoltStore persists calibrations in a bbolt database, keyed by camera.
type BoltStore struct {
	db  *bbolt.DB
	key []byte
}

// OpenBolt opens (or creates) the database file at fname and returns a
// store for the named camera.
func OpenBolt(fname, camera string) (*BoltStore, error) {
	db, err := bbolt.Open(fname, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("calib: could not open calibration db %q: %w", fname, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calib: could not create calibration bucket: %w", err)
	}

	return &BoltStore{db: db, key: []byte(camera)}, nil
}

func (st *BoltStore) Close() error {
	return st.db.Close()
}

func (st *BoltStore) Load(ctx context.Context) (Table, error) {
	var tbl Table
	err := st.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get(st.key)
		if raw == nil {
			return ErrNotFound
		}
		// raw is only valid within the transaction.
		return tbl.UnmarshalBinary(append([]byte(nil), raw...))
	})
	return tbl, err
}

func (st *BoltStore) Save(ctx context.Context, tbl Table) error {
	raw, err := tbl.MarshalBinary()
	if err != nil {
		return err
	}
	err = st.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(st.key, raw)
	})
	if err != nil {
		return fmt.Errorf("calib: could not save calibration of %q: %w", st.key, err)
	}
	return nil
}

var (
	_ Store = (*BoltStore)(nil)
)
