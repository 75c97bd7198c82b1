// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"fmt"
	"strings"
)

// Rate is a per-lane link symbol rate. The value is the code written to the
// sink's LINK_BW_SET register.
type Rate uint8

const (
	RateRBR  Rate = 0x06
	RateHBR  Rate = 0x0a
	RateHBR2 Rate = 0x14
	RateHBR3 Rate = 0x1e

	// 128b/132b tiers, only advertised through the extended capability field.
	RateUHBR10   Rate = 0x01
	RateUHBR20   Rate = 0x02
	RateUHBR13_5 Rate = 0x04
)

var rateNames = map[Rate]string{
	RateRBR:      "RBR",
	RateHBR:      "HBR",
	RateHBR2:     "HBR2",
	RateHBR3:     "HBR3",
	RateUHBR10:   "UHBR10",
	RateUHBR13_5: "UHBR13.5",
	RateUHBR20:   "UHBR20",
}

var rateMbps = map[Rate]uint64{
	RateRBR:      1620,
	RateHBR:      2700,
	RateHBR2:     5400,
	RateHBR3:     8100,
	RateUHBR10:   10000,
	RateUHBR13_5: 13500,
	RateUHBR20:   20000,
}

// LegacyRates are the 8b/10b rates in ascending order.
var LegacyRates = []Rate{RateRBR, RateHBR, RateHBR2, RateHBR3}

// ExtendedRates are the 128b/132b rates in ascending order.
var ExtendedRates = []Rate{RateUHBR10, RateUHBR13_5, RateUHBR20}

func (r Rate) Known() bool {
	_, ok := rateMbps[r]
	return ok
}

// Mbps returns the raw per-lane symbol rate, 0 for unknown codes.
func (r Rate) Mbps() uint64 {
	return rateMbps[r]
}

// Extended reports whether r uses 128b/132b channel coding.
func (r Rate) Extended() bool {
	return r == RateUHBR10 || r == RateUHBR13_5 || r == RateUHBR20
}

// PayloadKbps is the per-lane payload bandwidth after channel coding.
func (r Rate) PayloadKbps() uint64 {
	if r.Extended() {
		return r.Mbps() * 1000 * 128 / 132
	}
	return r.Mbps() * 1000 * 8 / 10
}

func (r Rate) String() string {
	if n, ok := rateNames[r]; ok {
		return n
	}
	return fmt.Sprintf("rate(%#02x)", uint8(r))
}

// MarshalText writes the rate name. The zero Rate, meaning "not set", is
// written as an empty string.
func (r Rate) MarshalText() ([]byte, error) {
	if r == 0 {
		return []byte{}, nil
	}
	if !r.Known() {
		return nil, fmt.Errorf("unknown link rate %#02x", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Rate) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*r = 0
		return nil
	}
	p, err := ParseRate(string(b))
	if err != nil {
		return err
	}
	*r = p
	return nil
}

// ParseRate accepts the names printed by Rate.String, case insensitive.
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	for r, n := range rateNames {
		if strings.EqualFold(n, s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown link rate %q", s)
}

// ValidLanes reports whether n is a lane count the link can be trained with.
func ValidLanes(n int) bool {
	return n == 1 || n == 2 || n == 4
}
