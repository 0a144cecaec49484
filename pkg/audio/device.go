package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gen2brain/malgo"
)

// Output drives a Graph's clock by pulling rendered audio from it.
type Output interface {
	Start() error
	Close() error
}

// Device plays a Graph through the default system output.
type Device struct {
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	graph   *Graph
	scratch []float32
}

// OpenDevice initialises a 16-bit playback device matching the graph format.
func OpenDevice(graph *Graph) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	d := &Device{ctx: mctx, graph: graph}
	f := graph.Format()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.Alsa.NoMMap = 1 // Better compatibility on some systems

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to init playback device: %w", err)
	}
	d.device = device
	return d, nil
}

func (d *Device) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pOutput == nil {
		return
	}
	n := int(frameCount) * d.graph.Format().Channels
	if cap(d.scratch) < n {
		d.scratch = make([]float32, n)
	}
	block := d.scratch[:n]
	d.graph.Render(block)
	Float32ToPCM16(pOutput, block)
}

// Start begins playback.
func (d *Device) Start() error {
	return d.device.Start()
}

// Close stops the device and releases the audio context.
func (d *Device) Close() error {
	d.device.Uninit()
	err := d.ctx.Uninit()
	d.ctx.Free()
	return err
}

// Headless renders the graph in real time without a sound card, for hosts
// with no audio device. Rendered blocks still reach the graph taps.
type Headless struct {
	graph  *Graph
	clock  clock.Clock
	block  time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeadless paces Render on clk every block.
func NewHeadless(graph *Graph, clk clock.Clock, block time.Duration) *Headless {
	if clk == nil {
		clk = clock.New()
	}
	if block <= 0 {
		block = 20 * time.Millisecond
	}
	return &Headless{graph: graph, clock: clk, block: block}
}

// Start launches the render loop.
func (h *Headless) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	f := h.graph.Format()
	frames := f.Frames(h.block.Seconds())
	buf := make([]float32, int(frames)*f.Channels)
	ticker := h.clock.Ticker(h.block)

	go func() {
		defer close(h.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.graph.Render(buf)
			}
		}
	}()
	return nil
}

// Close stops the render loop.
func (h *Headless) Close() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return nil
}
