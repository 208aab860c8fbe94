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
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reader gives random access to the data records of an EDF file.
type Reader struct {
	r   io.ReadSeeker
	hdr Header
}

// Open parses the header of r.
func Open(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	fixed := make([]byte, fixedHeaderBytes)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("edf: read header: %w", err)
	}

	fr := &fieldReader{b: fixed}
	var hdr Header
	hdr.Version = fr.text(8)
	hdr.PatientID = fr.text(80)
	hdr.RecordingID = fr.text(80)
	date, clock := fr.text(8), fr.text(8)
	hdr.HeaderBytes = fr.int("header bytes", 8)
	hdr.Reserved = fr.text(44)
	hdr.Records = fr.int("data records", 8)
	hdr.RecordDuration = fr.float("record duration", 8)
	count := fr.int("signal count", 4)
	if fr.err != nil {
		return nil, fr.err
	}

	start, err := time.Parse("02.01.06 15.04.05", date+" "+clock)
	if err != nil {
		return nil, fmt.Errorf("edf: parse start time: %w", err)
	}
	hdr.StartTime = start
	if count <= 0 || hdr.HeaderBytes != fixedHeaderBytes+count*signalHeaderBytes {
		return nil, fmt.Errorf("edf: header declares %d bytes for %d signals", hdr.HeaderBytes, count)
	}

	rest := make([]byte, count*signalHeaderBytes)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("edf: read signal headers: %w", err)
	}
	fr = &fieldReader{b: rest}
	hdr.Signals = make([]Signal, count)
	each := func(set func(*Signal)) {
		for i := range hdr.Signals {
			set(&hdr.Signals[i])
		}
	}
	each(func(s *Signal) { s.Label = fr.text(16) })
	each(func(s *Signal) { s.TransducerType = fr.text(80) })
	each(func(s *Signal) { s.PhysicalDimension = fr.text(8) })
	each(func(s *Signal) { s.PhysicalMin = fr.float("physical minimum", 8) })
	each(func(s *Signal) { s.PhysicalMax = fr.float("physical maximum", 8) })
	each(func(s *Signal) { s.DigitalMin = fr.int("digital minimum", 8) })
	each(func(s *Signal) { s.DigitalMax = fr.int("digital maximum", 8) })
	each(func(s *Signal) { s.Prefiltering = fr.text(80) })
	each(func(s *Signal) { s.SamplesPerRecord = fr.int("samples per record", 8) })
	each(func(s *Signal) { s.Reserved = fr.text(32) })
	if fr.err != nil {
		return nil, fr.err
	}

	return &Reader{r: r, hdr: hdr}, nil
}

func (er *Reader) Header() Header {
	return er.hdr
}

// ReadRecord decodes record i into one physical-value slice per signal.
func (er *Reader) ReadRecord(i int) ([][]float64, error) {
	if i < 0 || (er.hdr.Records >= 0 && i >= er.hdr.Records) {
		return nil, fmt.Errorf("edf: record %d out of range", i)
	}
	size := er.hdr.recordBytes()
	pos := int64(er.hdr.HeaderBytes) + int64(i)*int64(size)
	if _, err := er.r.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(er.r, buf); err != nil {
		return nil, fmt.Errorf("edf: read record %d: %w", i, err)
	}

	out := make([][]float64, len(er.hdr.Signals))
	off := 0
	for j, s := range er.hdr.Signals {
		out[j] = make([]float64, s.SamplesPerRecord)
		for k := range out[j] {
			out[j][k] = toPhysical(int16(binary.LittleEndian.Uint16(buf[off:])), s)
			off += 2
		}
	}
	return out, nil
}

// Samples returns every sample of one signal, records concatenated.
func (er *Reader) Samples(signal int) ([]float64, error) {
	if signal < 0 || signal >= len(er.hdr.Signals) {
		return nil, fmt.Errorf("edf: signal %d out of range", signal)
	}
	out := make([]float64, 0, er.hdr.Records*er.hdr.Signals[signal].SamplesPerRecord)
	for i := 0; i < er.hdr.Records; i++ {
		rec, err := er.ReadRecord(i)
		if err != nil {
			return nil, err
		}
		out = append(out, rec[signal]...)
	}
	return out, nil
}

type fieldReader struct {
	b   []byte
	off int
	err error
}

func (fr *fieldReader) text(width int) string {
	if fr.off+width > len(fr.b) {
		if fr.err == nil {
			fr.err = io.ErrUnexpectedEOF
		}
		return ""
	}
	s := strings.TrimSpace(string(fr.b[fr.off : fr.off+width]))
	fr.off += width
	return s
}

func (fr *fieldReader) int(name string, width int) int {
	s := fr.text(width)
	if fr.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		fr.err = fmt.Errorf("edf: parse %s: %w", name, err)
	}
	return v
}

func (fr *fieldReader) float(name string, width int) float64 {
	s := fr.text(width)
	if fr.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fr.err = fmt.Errorf("edf: parse %s: %w", name, err)
	}
	return v
}

func toPhysical(d int16, s Signal) float64 {
	if s.DigitalMax == s.DigitalMin {
		return 0
	}
	return s.PhysicalMin + (float64(d)-float64(s.DigitalMin))*(s.PhysicalMax-s.PhysicalMin)/float64(s.DigitalMax-s.DigitalMin)
}
