// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"context"
	"time"

	"github.com/u-root/u-bridge/pkg/link"
)

var (
	demoLink  = link.Config{Rate: link.RateHBR3, Lanes: 4, Params: link.Params{EnhancedFraming: true}}
	demoSink  = Sink{Max: demoLink, Product: 0x0001, Serial: 1, Width: 3840, Height: 2160}
	demoModes = []link.StreamAttributes{
		{HActive: 3840, VActive: 2160, FrameRate: 60, BPC: 10, Encoding: link.EncodingRGB,
			Blanking: link.Blanking{HFrontPorch: 176, HSync: 88, HBackPorch: 296, VFrontPorch: 8, VSync: 10, VBackPorch: 72}},
		{HActive: 7680, VActive: 4320, FrameRate: 30, BPC: 10, Encoding: link.EncodingRGB,
			Blanking: link.Blanking{HFrontPorch: 352, HSync: 176, HBackPorch: 592, VFrontPorch: 16, VSync: 20, VBackPorch: 144}},
		{HActive: 1920, VActive: 1080, FrameRate: 60, BPC: 8, Encoding: link.EncodingYCbCr422,
			Blanking: link.Blanking{HFrontPorch: 88, HSync: 44, HBackPorch: 148, VFrontPorch: 4, VSync: 5, VBackPorch: 36}},
	}
)

// Demo plays a plug, stream, mode change and unplug sequence every step
// until ctx is done.
func (s *Sim) Demo(ctx context.Context, step time.Duration) {
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.clk.After(step):
			return true
		}
	}
	for {
		log.Infof("sim: connecting sink and source")
		s.ConnectSink(demoSink)
		s.ConnectSource(demoLink)
		for _, m := range demoModes {
			if !wait() {
				return
			}
			log.Infof("sim: sending %v", m)
			s.SendVideo(m, 2)
		}
		if !wait() {
			return
		}
		log.Infof("sim: sink asks for a status check")
		s.PulseHPD()
		if !wait() {
			return
		}
		log.Infof("sim: unplugging source")
		s.UnplugSource()
		if !wait() {
			return
		}
	}
}
