// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtumaster

import "time"

// defaultResponseTimeout is the §4.1 default when the caller leaves
// ResponseTimeout unset.
const defaultResponseTimeout = 1000 * time.Millisecond

// interFrameGap returns the minimum silence required between the end of
// one RTU transaction and the start of the next: 3.5 character times at
// the configured baud rate (§4.1). Above 19200 baud (or for an unset baud
// rate) the Modbus specification's fixed 1.75 ms figure is used instead of
// the formula; characterTime likewise uses a fixed 750 µs there.
func interFrameGap(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 1750 * time.Microsecond
	}
	// 11 bits per character (start + 8 data + parity + stop, worst case)
	// scaled by 3.5.
	return time.Duration(38500000000/int64(baudRate)) * time.Nanosecond
}

// characterTime returns the duration of a single character at baudRate,
// used to size the pre-read pause so the master doesn't poll the port
// before the slave could plausibly have started replying.
func characterTime(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 750 * time.Microsecond
	}
	return time.Duration(11000000000/int64(baudRate)) * time.Nanosecond
}
