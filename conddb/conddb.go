// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to archive ADC calibrations and pixel
// configuration matrices of ePix cameras into the condition database.
package conddb // import "github.com/go-lpc/epix/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/epix10ka"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to archive and retrieve calibrations
// and pixel matrices from the condition database.
type DB struct {
	db   *sql.DB
	name string // name of the condition database
}

// Open opens a connection to the condition database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Calibration is an archived ADC calibration.
type Calibration struct {
	Camera string
	Time   time.Time
	Table  calib.Table
}

// LastCalibration returns the most recent calibration archived for the
// named camera. It returns an error wrapping calib.ErrNotFound when no
// calibration was archived.
func (db *DB) LastCalibration(ctx context.Context, camera string) (Calibration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		cal   = Calibration{Camera: camera}
		raw   []byte
		found bool
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT datetime, payload FROM calibrations WHERE camera=? ORDER BY datetime DESC LIMIT 1",
		camera,
	)
	if err != nil {
		return cal, fmt.Errorf("conddb: could not query calibration: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&cal.Time, &raw)
		if err != nil {
			return cal, fmt.Errorf("conddb: could not get calibration value: %w", err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return cal, fmt.Errorf("conddb: could not scan db for calibration: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cal, fmt.Errorf("conddb: context error while retrieving calibration: %w", err)
	}

	if !found {
		return cal, fmt.Errorf("conddb: camera %q: %w", camera, calib.ErrNotFound)
	}

	err = cal.Table.UnmarshalBinary(raw)
	if err != nil {
		return cal, fmt.Errorf("conddb: could not decode calibration of camera %q: %w", camera, err)
	}

	return cal, nil
}

// InsertCalibration archives tbl for the named camera.
func (db *DB) InsertCalibration(ctx context.Context, camera string, tbl calib.Table) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := tbl.MarshalBinary()
	if err != nil {
		return fmt.Errorf("conddb: could not encode calibration: %w", err)
	}

	_, err = db.db.ExecContext(
		ctx,
		"INSERT INTO calibrations (camera, datetime, payload) VALUES (?, ?, ?)",
		camera, time.Now().UTC(), raw,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not insert calibration of camera %q: %w", camera, err)
	}

	return nil
}

// Matrix returns the most recent pixel matrix archived under name.
func (db *DB) Matrix(ctx context.Context, name string) (*epix10ka.Matrix, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		raw   []byte
		found bool
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT pixels FROM matrices WHERE name=? ORDER BY datetime DESC LIMIT 1",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query matrix: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&raw)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not get matrix value: %w", err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for matrix: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving matrix: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("conddb: no matrix %q", name)
	}

	m, err := unpackMatrix(raw)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not decode matrix %q: %w", name, err)
	}
	return m, nil
}

// InsertMatrix archives m under name.
func (db *DB) InsertMatrix(ctx context.Context, name string, m *epix10ka.Matrix) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO matrices (name, datetime, pixels) VALUES (?, ?, ?)",
		name, time.Now().UTC(), packMatrix(m),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not insert matrix %q: %w", name, err)
	}

	return nil
}

const packedSize = epix10ka.NumASICs * epix10ka.NumPixels / 2

// packMatrix packs two pixel codes per byte, low nibble first.
func packMatrix(m *epix10ka.Matrix) []byte {
	buf := make([]byte, 0, packedSize)
	for i := 0; i < epix10ka.NumASICs; i++ {
		px := m.ASIC(i)
		for j := 0; j < len(px); j += 2 {
			buf = append(buf, px[j]|px[j+1]<<4)
		}
	}
	return buf
}

func unpackMatrix(raw []byte) (*epix10ka.Matrix, error) {
	if len(raw) != packedSize {
		return nil, fmt.Errorf("invalid packed size (got=%d, want=%d)", len(raw), packedSize)
	}
	vs := make([]uint8, 0, 2*len(raw))
	for _, v := range raw {
		vs = append(vs, v&0xf, v>>4)
	}
	return epix10ka.Broadcast(
		[]int{epix10ka.NumASICs, epix10ka.Rows, epix10ka.Cols},
		vs,
	)
}

// CalibStore is a calib.Store archiving calibrations of one camera.
type CalibStore struct {
	DB     *DB
	Camera string
}

func (st *CalibStore) Load(ctx context.Context) (calib.Table, error) {
	cal, err := st.DB.LastCalibration(ctx, st.Camera)
	return cal.Table, err
}

func (st *CalibStore) Save(ctx context.Context, tbl calib.Table) error {
	return st.DB.InsertCalibration(ctx, st.Camera, tbl)
}

var (
	_ calib.Store = (*CalibStore)(nil)
)
