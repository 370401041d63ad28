// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pgp

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ioctlSetMaskBytes = 0x1008 // DMA_Set_MaskBytes
	maskSize          = 512    // destination mask, one bit per destination

	pollTimeout = 100 // milliseconds
)

var errNoFrame = errors.New("pgp: no frame ready")

// dmaWriteData is the write descriptor of the datadev driver.
type dmaWriteData struct {
	data  uint64
	dest  uint32
	flags uint32
	index uint32
	size  uint32
	is32  uint32
	pad   uint32
}

// dmaReadData is the read descriptor of the datadev driver.
type dmaReadData struct {
	data  uint64
	dest  uint32
	flags uint32
	index uint32
	errs  uint32
	size  uint32
	is32  uint32
	ret   int32
	_     uint32
}

// datadev is a PCIe data card device node.
type datadev struct {
	fd int
}

func openDatadev(path string) (*datadev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("pgp: could not open %q: %w", path, err)
	}
	return &datadev{fd: fd}, nil
}

// setMask subscribes to the provided destinations.
func (dev *datadev) setMask(dests ...uint32) error {
	var mask [maskSize]byte
	for _, dest := range dests {
		mask[dest/8] |= 1 << (dest % 8)
	}
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, uintptr(dev.fd), ioctlSetMaskBytes,
		uintptr(unsafe.Pointer(&mask[0])),
	)
	if errno != 0 {
		return fmt.Errorf("pgp: could not set destination mask: %w", errno)
	}
	return nil
}

func (dev *datadev) writeFrame(dest uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("pgp: empty frame")
	}
	wr := dmaWriteData{
		data: uint64(uintptr(unsafe.Pointer(&data[0]))),
		dest: dest,
		size: uint32(len(data)),
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&wr)), unsafe.Sizeof(wr))
	n, err := unix.Write(dev.fd, raw)
	runtime.KeepAlive(data)
	switch {
	case err != nil:
		return fmt.Errorf("pgp: could not write frame to 0x%x: %w", dest, err)
	case n < 0:
		return fmt.Errorf("pgp: could not write frame to 0x%x: ret=%d", dest, n)
	}
	return nil
}

func (dev *datadev) readFrame(buf []byte) (frame, error) {
	fds := []unix.PollFd{{Fd: int32(dev.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeout)
	switch {
	case errors.Is(err, unix.EINTR):
		return frame{}, errNoFrame
	case err != nil:
		return frame{}, fmt.Errorf("pgp: could not poll device: %w", err)
	case n == 0 || fds[0].Revents&unix.POLLIN == 0:
		return frame{}, errNoFrame
	}

	rd := dmaReadData{
		data: uint64(uintptr(unsafe.Pointer(&buf[0]))),
		size: uint32(len(buf)),
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&rd)), unsafe.Sizeof(rd))
	_, err = unix.Read(dev.fd, raw)
	runtime.KeepAlive(buf)
	if err != nil {
		return frame{}, fmt.Errorf("pgp: could not read frame: %w", err)
	}
	if rd.ret < 0 {
		return frame{}, fmt.Errorf("pgp: could not read frame: ret=%d", rd.ret)
	}
	return frame{
		dest:  rd.dest,
		flags: rd.flags,
		errs:  rd.errs,
		data:  buf[:rd.ret],
	}, nil
}

func (dev *datadev) close() error {
	return unix.Close(dev.fd)
}
