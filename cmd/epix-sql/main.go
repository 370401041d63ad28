// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command epix-sql inspects the calibrations and pixel matrices archived
// in the condition database.
package main // import "github.com/go-lpc/epix/cmd/epix-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/epix/conddb"
)

func main() {
	log.SetPrefix("epix-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "epixdb", "name of the condition database")
		camera = flag.String("camera", "epix-quad", "camera to inspect")
		matrix = flag.String("matrix", "", "name of the pixel matrix to export")
		oname  = flag.String("o", "matrix.csv", "path to the exported pixel matrix")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open condition db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, os.Stdout, *camera, *matrix, *oname)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(db *conddb.DB, w io.Writer, camera, matrix, oname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cal, err := db.LastCalibration(ctx, camera)
	if err != nil {
		return fmt.Errorf("could not get last calibration of %q: %w", camera, err)
	}
	fmt.Fprintf(w, "camera:  %s\n", cal.Camera)
	fmt.Fprintf(w, "date:    %s\n", cal.Time.Format(time.RFC3339))
	fmt.Fprintf(w, "version: %d\n", cal.Table.Version)
	for _, e := range cal.Table.Entries {
		fmt.Fprintf(w, "adc=%d lane=%d tap=%3d\n", e.ADC, e.Lane, e.Tap)
	}

	if matrix == "" {
		return nil
	}

	m, err := db.Matrix(ctx, matrix)
	if err != nil {
		return fmt.Errorf("could not get pixel matrix %q: %w", matrix, err)
	}

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create matrix file: %w", err)
	}
	defer f.Close()

	err = m.WriteCSV(f)
	if err != nil {
		return fmt.Errorf("could not write pixel matrix %q: %w", matrix, err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close matrix file: %w", err)
	}
	fmt.Fprintf(w, "matrix:  %s -> %s\n", matrix, oname)
	return nil
}
