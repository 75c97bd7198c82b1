// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tx

import (
	"fmt"

	"github.com/u-root/u-bridge/pkg/link"
)

// DPCD addresses used by the controller.
const (
	DPCDRevision         = 0x0000
	DPCDMaxLinkRate      = 0x0001
	DPCDMaxLaneCount     = 0x0002
	DPCDMaxDownspread    = 0x0003
	DPCDTrainingAuxRd    = 0x000e
	DPCDLinkBWSet        = 0x0100
	DPCDLaneCountSet     = 0x0101
	DPCDTrainingPattern  = 0x0102
	DPCDDownspreadCtrl   = 0x0107
	DPCDChannelCoding    = 0x0108
	DPCDLaneStatus01     = 0x0202
	DPCDLaneStatus23     = 0x0203
	DPCDLaneAlignStatus  = 0x0204
	DPCDSetPower         = 0x0600
	DPCDExtendedCaps     = 0x2200
	DPCD128b132bRates    = 0x2215
	receiverCapsSize     = 16
	laneStatusSize       = 3
	setPowerD0           = 0x01
	trainingPatternOff   = 0x00
	codingANSI8b10b      = 0x01
	coding128b132b       = 0x02
	downspreadAmp        = 0x10
	extendedCapsPresent  = 0x80
	enhancedFramingCap   = 0x80
	tps3Cap              = 0x40
	tps4Cap              = 0x80
	downspreadCap        = 0x01
	laneCountMask        = 0x1f
	laneCRDone           = 0x1
	laneChannelEQDone    = 0x2
	laneSymbolLocked     = 0x4
	laneOK               = laneCRDone | laneChannelEQDone | laneSymbolLocked
	interlaneAlignDone   = 0x01
	uhbr10Supported      = 0x01
	uhbr20Supported      = 0x02
	uhbr13_5Supported    = 0x04
	enhancedFramingEnBit = 0x80
)

// Capabilities is what the sink advertises in its receiver capability
// field.
type Capabilities struct {
	Revision uint8
	Max      link.Config
	TPS3     bool
	TPS4     bool
	// Extended lists the 128b/132b rates the sink supports.
	Extended []link.Rate
}

func (c Capabilities) String() string {
	return fmt.Sprintf("DPCD %d.%d max %v ext %v", c.Revision>>4, c.Revision&0xf, c.Max, c.Extended)
}

// parseCaps decodes the first 16 bytes of a receiver capability field.
func parseCaps(b []byte) (Capabilities, error) {
	if len(b) < receiverCapsSize {
		return Capabilities{}, fmt.Errorf("short receiver capability field: %d bytes", len(b))
	}
	rate := link.Rate(b[DPCDMaxLinkRate])
	if !rate.Known() || rate.Extended() {
		return Capabilities{}, fmt.Errorf("%w: sink max link rate %#02x", ErrUnsupported, b[DPCDMaxLinkRate])
	}
	lanes := int(b[DPCDMaxLaneCount] & laneCountMask)
	if !link.ValidLanes(lanes) {
		return Capabilities{}, fmt.Errorf("%w: sink max lane count %d", ErrUnsupported, lanes)
	}
	return Capabilities{
		Revision: b[DPCDRevision],
		Max: link.Config{
			Rate:  rate,
			Lanes: lanes,
			Params: link.Params{
				EnhancedFraming: b[DPCDMaxLaneCount]&enhancedFramingCap != 0,
				SpreadSpectrum:  b[DPCDMaxDownspread]&downspreadCap != 0,
			},
		},
		TPS3: b[DPCDMaxLaneCount]&tps3Cap != 0,
		TPS4: b[DPCDMaxDownspread]&tps4Cap != 0,
	}, nil
}

// extendedRates decodes the 128b/132b supported link rates byte.
func extendedRates(b byte) []link.Rate {
	var r []link.Rate
	if b&uhbr10Supported != 0 {
		r = append(r, link.RateUHBR10)
	}
	if b&uhbr13_5Supported != 0 {
		r = append(r, link.RateUHBR13_5)
	}
	if b&uhbr20Supported != 0 {
		r = append(r, link.RateUHBR20)
	}
	return r
}

// laneStatus decodes lane status registers 0x0202..0x0204 for the first
// lanes lanes. It returns the first failing lane, or -1.
func laneStatus(b []byte, lanes int) (lane int, status byte, aligned bool) {
	aligned = b[2]&interlaneAlignDone != 0
	for i := 0; i < lanes; i++ {
		s := (b[i/2] >> (4 * uint(i%2))) & 0xf
		if s&laneOK != laneOK {
			return i, s, aligned
		}
	}
	return -1, 0, aligned
}
