// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/epix/calib"
	"github.com/go-lpc/epix/epix10ka"
	"github.com/go-lpc/epix/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testTable() calib.Table {
	tbl := calib.New()
	tbl.Set(0, 0, 149)
	tbl.Set(0, 8, 151)
	tbl.Set(1, 3, 20)
	return tbl
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestLastCalibration(t *testing.T) {
	db := openTestDB(t)

	want := testTable()
	raw, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal table: %+v", err)
	}
	date := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime", "payload"},
		Values: [][]driver.Value{
			{date, raw},
		},
	}, func(ctx context.Context) error {
		cal, err := db.LastCalibration(ctx, "quad-0")
		if err != nil {
			t.Fatalf("could not retrieve last calibration: %+v", err)
		}

		if got, want := cal.Camera, "quad-0"; got != want {
			t.Fatalf("invalid camera: got=%q, want=%q", got, want)
		}
		if got, want := cal.Time, date; !got.Equal(want) {
			t.Fatalf("invalid date: got=%v, want=%v", got, want)
		}
		if got, want := cal.Table, want; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid table:\ngot= %+v\nwant=%+v", got, want)
		}
		return nil
	})
}

func TestLastCalibrationErrors(t *testing.T) {
	db := openTestDB(t)

	raw, err := testTable().MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal table: %+v", err)
	}
	raw[4] ^= 0xff

	for _, tc := range []struct {
		name string
		rows fakedb.Rows
		want error
	}{
		{
			name: "not-found",
			rows: fakedb.Rows{Names: []string{"datetime", "payload"}},
			want: calib.ErrNotFound,
		},
		{
			name: "corrupt",
			rows: fakedb.Rows{
				Names:  []string{"datetime", "payload"},
				Values: [][]driver.Value{{time.Now(), raw}},
			},
			want: calib.ErrCorrupt,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = fakedb.Run(context.Background(), tc.rows, func(ctx context.Context) error {
				_, err := db.LastCalibration(ctx, "quad-0")
				if !errors.Is(err, tc.want) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
				}
				return nil
			})
		})
	}
}

func TestInsertCalibration(t *testing.T) {
	db := openTestDB(t)

	tbl := testTable()
	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.InsertCalibration(ctx, "quad-1", tbl)
		if err != nil {
			t.Fatalf("could not insert calibration: %+v", err)
		}
		return nil
	})

	execs := fakedb.Execs()
	if got, want := len(execs), 1; got != want {
		t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
	}
	exec := execs[0]
	if !strings.HasPrefix(exec.Query, "INSERT INTO calibrations") {
		t.Fatalf("invalid statement: %q", exec.Query)
	}
	if got, want := len(exec.Args), 3; got != want {
		t.Fatalf("invalid number of arguments: got=%d, want=%d", got, want)
	}
	if got, want := exec.Args[0], driver.Value("quad-1"); got != want {
		t.Fatalf("invalid camera: got=%v, want=%v", got, want)
	}
	want, _ := tbl.MarshalBinary()
	if got := exec.Args[2].([]byte); !bytes.Equal(got, want) {
		t.Fatalf("invalid payload:\ngot= %x\nwant=%x", got, want)
	}
}

func TestMatrix(t *testing.T) {
	db := openTestDB(t)

	want := epix10ka.GainMatrix(epix10ka.AutoHighLow)
	want.Set(0, 0, 0, 0x1)
	want.Set(3, 177, 191, 0x2)
	want.Set(15, 100, 7, 0xf)

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.InsertMatrix(ctx, "run-42", want)
		if err != nil {
			t.Fatalf("could not insert matrix: %+v", err)
		}
		return nil
	})

	execs := fakedb.Execs()
	if got, want := len(execs), 1; got != want {
		t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
	}
	raw := execs[0].Args[2].([]byte)
	if got, want := len(raw), packedSize; got != want {
		t.Fatalf("invalid packed size: got=%d, want=%d", got, want)
	}

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"pixels"},
		Values: [][]driver.Value{{raw}},
	}, func(ctx context.Context) error {
		got, err := db.Matrix(ctx, "run-42")
		if err != nil {
			t.Fatalf("could not retrieve matrix: %+v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("matrices differ")
		}
		return nil
	})

	for _, tc := range []struct {
		name string
		rows fakedb.Rows
		want string
	}{
		{
			name: "not-found",
			rows: fakedb.Rows{Names: []string{"pixels"}},
			want: `conddb: no matrix "run-42"`,
		},
		{
			name: "short",
			rows: fakedb.Rows{
				Names:  []string{"pixels"},
				Values: [][]driver.Value{{raw[:10]}},
			},
			want: `conddb: could not decode matrix "run-42": invalid packed size (got=10, want=273408)`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = fakedb.Run(context.Background(), tc.rows, func(ctx context.Context) error {
				_, err := db.Matrix(ctx, "run-42")
				if err == nil {
					t.Fatalf("expected an error")
				}
				if got, want := err.Error(), tc.want; got != want {
					t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
				}
				return nil
			})
		})
	}
}

func TestCalibStore(t *testing.T) {
	db := openTestDB(t)
	st := &CalibStore{DB: db, Camera: "quad-2"}

	tbl := testTable()
	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		return st.Save(ctx, tbl)
	})
	raw := fakedb.Execs()[0].Args[2].([]byte)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"datetime", "payload"},
		Values: [][]driver.Value{{time.Now(), raw}},
	}, func(ctx context.Context) error {
		got, err := st.Load(ctx)
		if err != nil {
			t.Fatalf("could not load calibration: %+v", err)
		}
		if !reflect.DeepEqual(got, tbl) {
			t.Fatalf("invalid table:\ngot= %+v\nwant=%+v", got, tbl)
		}
		return nil
	})
}
