//go:build cgo

package audio

import (
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tablevox/vox-order/pkg/core"
)

// MicSource captures PCM16 from the system microphone via malgo. It
// implements CaptureSource with a condition-variable buffered Read so the
// device callback never blocks.
type MicSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

// OpenMic acquires the default capture device in the given format. The
// device is held until Close; per-turn recording control happens at the
// pipeline gate, not here.
func OpenMic(format Format) (*MicSource, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	allocated, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, core.NewAudioError("init audio context", micErrorCode(err), err)
	}

	m := &MicSource{
		ctx: allocated,
		buf: make([]byte, 0, format.BytesPerSecond()), // 1 second of headroom
	}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.mu.Lock()
			m.buf = append(m.buf, input...)
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(allocated.Context, deviceConfig, callbacks)
	if err != nil {
		_ = allocated.Uninit()
		return nil, core.NewAudioError("init capture device", micErrorCode(err), err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = allocated.Uninit()
		return nil, core.NewAudioError("start capture device", micErrorCode(err), err)
	}
	m.device = device
	return m, nil
}

// Read blocks until captured audio is available and copies it into p.
func (m *MicSource) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, core.NewAudioError("capture device closed", "", nil)
	}

	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

// Close stops the device and releases the audio context.
func (m *MicSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
	}
	return nil
}

// micErrorCode maps OS-level capture failures to the engine's audio codes.
// Permission denial is the one case that must not be retried.
func micErrorCode(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return core.CodeMicPermissionDenied
	}
	return ""
}
