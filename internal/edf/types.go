// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import "time"

const (
	// Version0 is the only version defined by EDF and EDF+.
	Version0 = "0"

	// MaxRecordBytes is the recommended upper bound for one data record.
	MaxRecordBytes = 61440

	DigitalMin = -32768
	DigitalMax = 32767

	fixedHeaderBytes  = 256
	signalHeaderBytes = 256
)

// Header is the fixed part of an EDF file followed by one Signal per channel.
type Header struct {
	Version     string
	PatientID   string
	RecordingID string
	StartTime   time.Time
	HeaderBytes int
	Reserved    string
	// Records is -1 until the writer is closed.
	Records int
	// RecordDuration is in seconds and may be fractional.
	RecordDuration float64
	Signals        []Signal
}

// Signal describes one channel; samples are stored as 16-bit integers and
// mapped linearly onto [PhysicalMin, PhysicalMax].
type Signal struct {
	Label             string
	TransducerType    string
	PhysicalDimension string
	PhysicalMin       float64
	PhysicalMax       float64
	DigitalMin        int
	DigitalMax        int
	Prefiltering      string
	SamplesPerRecord  int
	Reserved          string
}

func (h Header) recordBytes() int {
	n := 0
	for _, s := range h.Signals {
		n += s.SamplesPerRecord * 2
	}
	return n
}
