// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/link"
)

type fakeReceiver struct {
	videoDetect bool
	infoDetect  bool
	masked      bool
	crcResets   int
	cfg         link.Config
	reads       []link.StreamAttributes
	readCount   int
	readErr     error
}

func (r *fakeReceiver) EnableVideoDetect(on bool) error      { r.videoDetect = on; return nil }
func (r *fakeReceiver) EnableInfoPacketDetect(on bool) error { r.infoDetect = on; return nil }
func (r *fakeReceiver) ResetCRC() error                      { r.crcResets++; return nil }
func (r *fakeReceiver) MaskNotifications(mask bool) error    { r.masked = mask; return nil }
func (r *fakeReceiver) LinkConfig() (link.Config, error)     { return r.cfg, nil }

func (r *fakeReceiver) ReadStreamAttributes() (link.StreamAttributes, error) {
	r.readCount++
	if r.readErr != nil {
		return link.StreamAttributes{}, r.readErr
	}
	if len(r.reads) == 0 {
		return link.StreamAttributes{}, nil
	}
	s := r.reads[0]
	if len(r.reads) > 1 {
		r.reads = r.reads[1:]
	}
	return s, nil
}

type phyCall struct {
	dir   link.Direction
	rate  link.Rate
	lanes int
}

type fakePhy struct {
	calls []phyCall
}

func (p *fakePhy) ConfigurePhy(dir link.Direction, rate link.Rate, lanes int) error {
	p.calls = append(p.calls, phyCall{dir, rate, lanes})
	return nil
}

var fhd = link.StreamAttributes{
	HActive: 1920, VActive: 1080, FrameRate: 60, BPC: 8, Encoding: link.EncodingRGB,
	Blanking: link.Blanking{HFrontPorch: 88, HSync: 44, HBackPorch: 148, VFrontPorch: 4, VSync: 5, VBackPorch: 36},
}

func newMonitor() (*Monitor, *fakeReceiver, *fakePhy) {
	hw := &fakeReceiver{cfg: link.Config{Rate: link.RateHBR2, Lanes: 4}}
	phy := &fakePhy{}
	return NewMonitor(hw, phy, nil), hw, phy
}

func trained(t *testing.T) (*Monitor, *fakeReceiver) {
	m, hw, _ := newMonitor()
	m.OnTrainingStart()
	m.OnTrainingDone()
	if m.State() != link.Trained {
		t.Fatalf("Expected trained, got %v", m.State())
	}
	return m, hw
}

type hwState struct {
	videoDetect, infoDetect, masked bool
}

type snapshot struct {
	status  link.SideStatus
	pending bool
	masked  bool
	hw      hwState
}

func snap(m *Monitor, hw *fakeReceiver) snapshot {
	return snapshot{m.Status(), m.videoPending, m.masked, hwState{hw.videoDetect, hw.infoDetect, hw.masked}}
}

func TestHandlersAreIdempotent(t *testing.T) {
	handlers := map[string]func(*Monitor){
		"TrainingStart": (*Monitor).OnTrainingStart,
		"TrainingDone":  (*Monitor).OnTrainingDone,
		"TrainingLost":  (*Monitor).OnTrainingLost,
		"NoVideo":       (*Monitor).OnNoVideo,
		"VideoValid":    (*Monitor).OnVideoValid,
		"Unplug":        (*Monitor).OnUnplug,
		"Plug":          (*Monitor).OnPlug,
	}
	setups := map[string]func(*Monitor){
		"idle":      func(*Monitor) {},
		"trained":   func(m *Monitor) { m.OnTrainingDone() },
		"video":     func(m *Monitor) { m.OnTrainingDone(); m.OnVideoValid(); _ = m.Promote(fhd) },
		"unplugged": func(m *Monitor) { m.OnUnplug() },
	}
	for sn, setup := range setups {
		for hn, h := range handlers {
			m, hw, _ := newMonitor()
			setup(m)
			h(m)
			once := snap(m, hw)
			h(m)
			twice := snap(m, hw)
			if once != twice {
				t.Errorf("%s after %s is not idempotent:\nonce  %+v\ntwice %+v", hn, sn, once, twice)
			}
		}
	}
}

func TestTrainingDoneArmsDetection(t *testing.T) {
	m, hw := trained(t)
	if !hw.videoDetect {
		t.Errorf("Video detection not enabled after training")
	}
	if got := m.Status().Config; !got.Same(hw.cfg) {
		t.Errorf("Expected observed config %v, got %v", hw.cfg, got)
	}
	m.vblanks.Store(5)
	hw.videoDetect = false
	m.OnTrainingDone()
	if !hw.videoDetect {
		t.Errorf("Repeated training done did not re-arm detection")
	}
	if !m.Settled(5) {
		t.Errorf("Repeated training done reset the vblank counter")
	}
}

func TestTrainingStartConfiguresPhy(t *testing.T) {
	m, _, phy := newMonitor()
	m.OnTrainingStart()
	if len(phy.calls) != 1 || phy.calls[0] != (phyCall{link.Receive, link.RateHBR2, 4}) {
		t.Errorf("Unexpected PHY calls %+v", phy.calls)
	}
}

func TestTrainingLost(t *testing.T) {
	m, hw := trained(t)
	m.OnVideoValid()
	m.OnTrainingLost()
	if m.State() != link.Idle {
		t.Errorf("Expected idle, got %v", m.State())
	}
	if !hw.masked || hw.crcResets != 1 {
		t.Errorf("Expected masked notifications and one CRC reset, got masked=%v resets=%d", hw.masked, hw.crcResets)
	}
	if m.VideoPending() {
		t.Errorf("Pending video survived training loss")
	}
	if r := m.Service(); !r.Has(RequestLinkDown) {
		t.Errorf("Expected link down request, got %b", r)
	}
	m.OnTrainingDone()
	if hw.masked {
		t.Errorf("Notifications still masked after retraining")
	}
}

func TestNoVideo(t *testing.T) {
	m, hw := trained(t)
	m.OnVideoValid()
	if err := m.Promote(fhd); err != nil {
		t.Fatal(err)
	}
	m.Service()
	m.OnNoVideo()
	if m.State() != link.NoVideo {
		t.Errorf("Expected no-video, got %v", m.State())
	}
	if hw.videoDetect || !hw.infoDetect {
		t.Errorf("Expected video detect off and info packets on, got %v/%v", hw.videoDetect, hw.infoDetect)
	}
	if r := m.Service(); !r.Has(RequestStreamLost) {
		t.Errorf("Expected stream lost request, got %b", r)
	}
}

func TestUnplugWinsOverTraining(t *testing.T) {
	m, hw := trained(t)
	m.Interrupt(EventTrainingLost | EventUnplug)
	r := m.Service()
	if m.State() != link.Unplugged {
		t.Errorf("Expected unplugged, got %v", m.State())
	}
	if !r.Has(RequestUnplugged) || !r.Has(RequestMaskTxHPD) {
		t.Errorf("Expected unplug and mask requests, got %b", r)
	}
	if hw.crcResets != 0 {
		t.Errorf("Training lost handler ran on an unplugged link")
	}
	m.Interrupt(EventPlug)
	m.Service()
	if m.State() != link.Idle {
		t.Errorf("Expected idle after plug, got %v", m.State())
	}
}

func TestVideoDoesNotOutliveUnplug(t *testing.T) {
	m, _ := trained(t)
	m.Interrupt(EventUnplug | EventVideo)
	if r := m.Service(); r.Has(RequestVideoPending) {
		t.Errorf("Video request raised on an unplugged link, got %b", r)
	}
	if m.VideoPending() {
		t.Errorf("Pending video survived the unplug")
	}

	m.Interrupt(EventPlug | EventTrainingStart | EventTrainingDone)
	m.Service()
	if m.State() != link.Trained {
		t.Fatalf("Expected trained, got %v", m.State())
	}
	if m.VideoPending() {
		t.Errorf("Video from before the unplug is pending after retraining")
	}
	if err := m.Promote(fhd); !errors.Is(err, ErrNoVideo) {
		t.Errorf("Expected ErrNoVideo, got %v", err)
	}
}

func TestFreshTrainingClearsPendingVideo(t *testing.T) {
	m, _ := trained(t)
	m.OnVideoValid()
	m.OnTrainingStart()
	m.OnTrainingDone()
	if m.VideoPending() {
		t.Errorf("Pending video survived a fresh training")
	}
	// Same batch: training completes, then video arrives.
	m.OnTrainingLost()
	m.Interrupt(EventTrainingStart | EventTrainingDone | EventVideo)
	if r := m.Service(); !r.Has(RequestVideoPending) || !m.VideoPending() {
		t.Errorf("Expected video pending after training, got %b", r)
	}
}

func TestMask(t *testing.T) {
	m, hw := trained(t)
	m.Mask()
	if !hw.masked || !m.Masked() {
		t.Errorf("Expected notifications masked")
	}
	m.Unmask()
	if hw.masked || m.Masked() {
		t.Errorf("Expected notifications unmasked")
	}
	m.Mask()
	m.OnTrainingDone()
	if hw.masked {
		t.Errorf("Training done left notifications masked")
	}
}

func TestReset(t *testing.T) {
	m, _ := trained(t)
	m.OnVideoValid()
	m.OnTrainingLost()
	m.Interrupt(EventVBlank)
	m.Reset()
	if m.State() != link.Idle || m.VideoPending() || m.Settled(1) {
		t.Errorf("Reset left state %v pending=%v vblanks=%d", m.State(), m.VideoPending(), m.vblanks.Load())
	}
	m.OnUnplug()
	m.Reset()
	if m.State() != link.Unplugged {
		t.Errorf("Reset plugged an unplugged link, got %v", m.State())
	}
}

func TestPromoteRequiresTraining(t *testing.T) {
	m, _, _ := newMonitor()
	m.OnVideoValid()
	if err := m.Promote(fhd); !errors.Is(err, ErrNotTrained) {
		t.Errorf("Expected ErrNotTrained, got %v", err)
	}
	m.OnTrainingDone()
	m.ClearVideoPending()
	if err := m.Promote(fhd); !errors.Is(err, ErrNoVideo) {
		t.Errorf("Expected ErrNoVideo, got %v", err)
	}
}

func TestInterruptFromManyGoroutines(t *testing.T) {
	m, _, _ := newMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Interrupt(EventVBlank)
		}()
	}
	wg.Wait()
	if !m.Settled(16) {
		t.Errorf("Expected 16 vblanks, got %d", m.vblanks.Load())
	}
	if m.Pending(EventVBlank) {
		t.Errorf("VBlank must not be left as a pending flag")
	}
}

func TestDetectStreamWaitsForStableRead(t *testing.T) {
	m, hw := trained(t)
	changing := fhd
	changing.HActive = 1280
	hw.reads = []link.StreamAttributes{{}, changing, fhd, fhd}
	s, err := m.DetectStream(clock.NewFake(), 5, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("DetectStream: %v", err)
	}
	if s != fhd {
		t.Errorf("Expected %v, got %v", fhd, s)
	}
	if hw.readCount != 4 {
		t.Errorf("Expected 4 reads, got %d", hw.readCount)
	}
}

func TestDetectStreamGivesUp(t *testing.T) {
	m, hw := trained(t)
	hw.readErr = errors.New("msa not locked")
	_, err := m.DetectStream(clock.NewFake(), 3, time.Millisecond)
	if !errors.Is(err, ErrStreamUnstable) {
		t.Errorf("Expected ErrStreamUnstable, got %v", err)
	}
	if hw.readCount != 4 {
		t.Errorf("Expected 1 read plus 3 retries, got %d", hw.readCount)
	}
}
