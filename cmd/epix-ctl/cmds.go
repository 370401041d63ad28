// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-lpc/epix/adc"
	"github.com/go-lpc/epix/epix10ka"
	"github.com/go-lpc/epix/prom"
	"github.com/spf13/cobra"
)

func (a *app) newStartupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "startup",
		Short: "Run the camera startup sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			rep, err := env.Camera.Startup(cmd.Context())
			if rep != nil {
				fmt.Fprint(a.stdout, rep)
			}
			if err != nil {
				a.alert(cfg, "startup", err)
				return err
			}
			return nil
		},
	}
}

func (a *app) newTrainADCCmd() *cobra.Command {
	var (
		adcs    []int
		lanes   []int
		scans   string
		archive bool
	)
	cmd := &cobra.Command{
		Use:   "train-adc",
		Short: "Train the ADC lane delays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if len(adcs) == 0 {
				adcs = adc.AllADCs()
				if len(cfg.ADCs) > 0 {
					adcs = cfg.ADCs
				}
			}
			if len(lanes) == 0 {
				lanes = adc.AllLanes()
			}

			res, err := env.Camera.TrainADC(cmd.Context(), adcs, lanes)
			if res != nil {
				for _, lr := range res.Lanes {
					if lr.Err != nil {
						fmt.Fprintf(a.stdout, "adc=%d lane=%d %v (attempts=%d)\n",
							lr.ADC, lr.Lane, lr.Err.Kind, lr.Attempts,
						)
						continue
					}
					fmt.Fprintf(a.stdout, "adc=%d lane=%d tap=%3d window=[%d, %d] (attempts=%d)\n",
						lr.ADC, lr.Lane, lr.Tap, lr.Window.Start, lr.Window.End, lr.Attempts,
					)
				}
				if scans != "" {
					if e := writeScans(scans, res); e != nil && err == nil {
						err = e
					}
				}
			}
			if err != nil {
				a.alert(cfg, "train-adc", err)
				return err
			}

			if archive {
				if env.DB == nil {
					return fmt.Errorf("no condition database configured")
				}
				err = env.DB.InsertCalibration(cmd.Context(), cfg.Name, res.Table())
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&adcs, "adcs", nil, "ADCs to train (default: all)")
	cmd.Flags().IntSliceVar(&lanes, "lanes", nil, "lanes to train (default: all)")
	cmd.Flags().StringVar(&scans, "scans", "", "path to YODA file to store lane sweeps")
	cmd.Flags().BoolVar(&archive, "archive", false, "archive the calibration into the condition database")
	return cmd
}

func writeScans(fname string, res *adc.Result) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create scans file: %w", err)
	}
	defer f.Close()

	err = adc.WriteScans(f, res)
	if err != nil {
		return fmt.Errorf("could not write scans: %w", err)
	}
	return f.Close()
}

func (a *app) newApplyMatrixCmd() *cobra.Command {
	var (
		mask    uint16
		verify  bool
		archive string
	)
	cmd := &cobra.Command{
		Use:   "apply-matrix <csv>",
		Short: "Configure the pixel matrices from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readMatrix(args[0])
			if err != nil {
				return err
			}

			cfg, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			res, err := env.Camera.ApplyMatrix(ctx, m, mask)
			fmt.Fprintf(a.stdout, "selected=0x%04x done=0x%04x failed=0x%04x\n",
				res.Selected, res.Done, res.Failed,
			)
			if err != nil {
				a.alert(cfg, "apply-matrix", err)
				return err
			}

			if verify {
				err = env.Camera.VerifyMatrix(ctx, m, mask)
				if err != nil {
					a.alert(cfg, "apply-matrix", err)
					return err
				}
				fmt.Fprintf(a.stdout, "verify: ok\n")
			}

			if archive != "" {
				if env.DB == nil {
					return fmt.Errorf("no condition database configured")
				}
				err = env.DB.InsertMatrix(ctx, archive, m)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint16Var(&mask, "mask", 0xffff, "mask of the ASICs to configure")
	cmd.Flags().BoolVar(&verify, "verify", false, "read back and compare the pixel matrices")
	cmd.Flags().StringVar(&archive, "archive", "", "archive the matrix under this name into the condition database")
	return cmd
}

func readMatrix(fname string) (*epix10ka.Matrix, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, &inputError{fmt.Errorf("could not open matrix file: %w", err)}
	}
	defer f.Close()

	m, err := epix10ka.ReadCSV(f)
	if err != nil {
		return nil, &inputError{fmt.Errorf("could not read matrix file %q: %w", fname, err)}
	}
	return m, nil
}

func (a *app) newReloadFirmwareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-firmware <mcs>",
		Short: "Program the firmware PROM and reload the FPGA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(args[0])
			if err != nil {
				return err
			}

			cfg, env, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			a.msg.Printf("programming %d bytes at 0x%08x...", len(img.Data), img.Start)
			err = env.Camera.ReloadFirmware(cmd.Context(), img)
			if err != nil {
				a.alert(cfg, "reload-firmware", err)
				return err
			}
			a.msg.Printf("programming %d bytes at 0x%08x... [done]", len(img.Data), img.Start)
			return nil
		},
	}
}

func readImage(fname string) (*prom.Image, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, &inputError{fmt.Errorf("could not open firmware file: %w", err)}
	}
	defer f.Close()

	img, err := prom.ParseMCS(f)
	if err != nil {
		return nil, &inputError{fmt.Errorf("could not read firmware file %q: %w", fname, err)}
	}
	return img, nil
}
