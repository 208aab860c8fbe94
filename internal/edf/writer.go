// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Writer appends data records to an EDF file and patches the record count
// into the header on Close.
type Writer struct {
	w       io.WriteSeeker
	hdr     Header
	records int
	buf     []byte
}

// Create writes a provisional header and returns a writer positioned at the
// first data record.
func Create(w io.WriteSeeker, hdr Header) (*Writer, error) {
	if len(hdr.Signals) == 0 {
		return nil, errors.New("edf: no signals")
	}
	if hdr.RecordDuration <= 0 {
		return nil, fmt.Errorf("edf: record duration must be positive, got %g", hdr.RecordDuration)
	}
	if hdr.Version == "" {
		hdr.Version = Version0
	}
	hdr.Signals = append([]Signal(nil), hdr.Signals...)
	for i := range hdr.Signals {
		s := &hdr.Signals[i]
		if s.SamplesPerRecord <= 0 {
			return nil, fmt.Errorf("edf: signal %q: samples per record must be positive", s.Label)
		}
		if s.DigitalMin == 0 && s.DigitalMax == 0 {
			s.DigitalMin, s.DigitalMax = DigitalMin, DigitalMax
		}
		// Calibrate against what a reader will parse back from the header.
		s.PhysicalMin = roundTrip(s.PhysicalMin)
		s.PhysicalMax = roundTrip(s.PhysicalMax)
		if s.PhysicalMax <= s.PhysicalMin {
			return nil, fmt.Errorf("edf: signal %q: physical range [%g, %g] is empty", s.Label, s.PhysicalMin, s.PhysicalMax)
		}
	}
	if n := hdr.recordBytes(); n > MaxRecordBytes {
		return nil, fmt.Errorf("edf: data record too large: %d bytes, max is %d", n, MaxRecordBytes)
	}
	hdr.HeaderBytes = fixedHeaderBytes + len(hdr.Signals)*signalHeaderBytes
	hdr.Records = -1

	ew := &Writer{w: w, hdr: hdr, buf: make([]byte, hdr.recordBytes())}
	if err := ew.writeHeader(); err != nil {
		return nil, fmt.Errorf("edf: write header: %w", err)
	}
	return ew, nil
}

// Header returns the header as it will be finalized.
func (ew *Writer) Header() Header {
	h := ew.hdr
	h.Records = ew.records
	return h
}

// WriteRecord writes one sample slice per signal. Each slice must hold
// exactly SamplesPerRecord values; NaN is stored as the digital minimum.
func (ew *Writer) WriteRecord(samples [][]float64) error {
	if len(samples) != len(ew.hdr.Signals) {
		return fmt.Errorf("edf: expected %d signals, got %d", len(ew.hdr.Signals), len(samples))
	}
	off := 0
	for i, s := range ew.hdr.Signals {
		if len(samples[i]) != s.SamplesPerRecord {
			return fmt.Errorf("edf: signal %q: expected %d samples, got %d", s.Label, s.SamplesPerRecord, len(samples[i]))
		}
		for _, v := range samples[i] {
			binary.LittleEndian.PutUint16(ew.buf[off:], uint16(toDigital(v, s)))
			off += 2
		}
	}
	if _, err := ew.w.Write(ew.buf); err != nil {
		return err
	}
	ew.records++
	return nil
}

// Close rewrites the header with the final record count. It does not close
// the underlying writer.
func (ew *Writer) Close() error {
	ew.hdr.Records = ew.records
	if err := ew.writeHeader(); err != nil {
		return fmt.Errorf("edf: write header: %w", err)
	}
	_, err := ew.w.Seek(0, io.SeekEnd)
	return err
}

func (ew *Writer) writeHeader() error {
	if _, err := ew.w.Seek(0, io.SeekStart); err != nil {
		return err
	}

	h := ew.hdr
	fw := &fieldWriter{w: bufio.NewWriter(ew.w)}
	fw.put(8, h.Version)
	fw.put(80, h.PatientID)
	fw.put(80, h.RecordingID)
	fw.put(8, h.StartTime.Format("02.01.06"))
	fw.put(8, h.StartTime.Format("15.04.05"))
	fw.put(8, strconv.Itoa(h.HeaderBytes))
	fw.put(44, h.Reserved)
	fw.put(8, strconv.Itoa(h.Records))
	fw.put(8, formatNumber(h.RecordDuration))
	fw.put(4, strconv.Itoa(len(h.Signals)))

	// Signal fields are stored column by column.
	each := func(width int, value func(Signal) string) {
		for _, s := range h.Signals {
			fw.put(width, value(s))
		}
	}
	each(16, func(s Signal) string { return s.Label })
	each(80, func(s Signal) string { return s.TransducerType })
	each(8, func(s Signal) string { return s.PhysicalDimension })
	each(8, func(s Signal) string { return formatNumber(s.PhysicalMin) })
	each(8, func(s Signal) string { return formatNumber(s.PhysicalMax) })
	each(8, func(s Signal) string { return strconv.Itoa(s.DigitalMin) })
	each(8, func(s Signal) string { return strconv.Itoa(s.DigitalMax) })
	each(80, func(s Signal) string { return s.Prefiltering })
	each(8, func(s Signal) string { return strconv.Itoa(s.SamplesPerRecord) })
	each(32, func(s Signal) string { return s.Reserved })

	if fw.err != nil {
		return fw.err
	}
	return fw.w.Flush()
}

type fieldWriter struct {
	w   *bufio.Writer
	err error
}

// put writes s left-aligned in a space padded field, truncating as needed.
// Header fields are printable ASCII only.
func (fw *fieldWriter) put(width int, s string) {
	if fw.err != nil {
		return
	}
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	n := 0
	for i := 0; i < len(s) && n < width; i++ {
		c := s[i]
		if c < 0x20 || c > 0x7e {
			c = '_'
		}
		b[n] = c
		n++
	}
	_, fw.err = fw.w.Write(b)
}

// formatNumber renders v in at most eight characters, dropping precision
// until it fits.
func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for prec := 6; len(s) > 8 && prec >= 0; prec-- {
		s = strconv.FormatFloat(v, 'f', prec, 64)
	}
	if len(s) > 8 {
		s = strconv.FormatFloat(v, 'g', 3, 64)
	}
	return s
}

func roundTrip(v float64) float64 {
	f, err := strconv.ParseFloat(formatNumber(v), 64)
	if err != nil {
		return v
	}
	return f
}

func toDigital(v float64, s Signal) int16 {
	if math.IsNaN(v) {
		return int16(s.DigitalMin)
	}
	d := (v-s.PhysicalMin)*float64(s.DigitalMax-s.DigitalMin)/(s.PhysicalMax-s.PhysicalMin) + float64(s.DigitalMin)
	d = math.Round(d)
	if d < float64(s.DigitalMin) {
		d = float64(s.DigitalMin)
	}
	if d > float64(s.DigitalMax) {
		d = float64(s.DigitalMax)
	}
	return int16(d)
}
