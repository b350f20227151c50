// Package porttest provides an in-memory serial device for tests.
package porttest

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/albireox/lvm-spec-pressure/internal/protocol"
)

// Chunk is a piece of device output sent after Delay
type Chunk struct {
	Delay time.Duration
	Data  []byte
}

// Responder decides what the device emits for a request
type Responder func(request []byte) []Chunk

// Reply returns a responder that always answers with data
func Reply(data string) Responder {
	return func([]byte) []Chunk {
		return []Chunk{{Data: []byte(data)}}
	}
}

// Trickle returns a responder that emits data one byte every interval
func Trickle(data string, interval time.Duration) Responder {
	return func([]byte) []Chunk {
		chunks := make([]Chunk, 0, len(data))
		for i := 0; i < len(data); i++ {
			chunks = append(chunks, Chunk{Delay: interval, Data: []byte{data[i]}})
		}
		return chunks
	}
}

// Device simulates a serial instrument. It counts opens and tracks how
// many handles are open at once.
type Device struct {
	mutex    sync.Mutex
	respond  Responder
	openErr  error
	readErr  error
	opens    int
	openNow  int
	maxOpen  int
	requests [][]byte
	lastPath string
	lastMode *serial.Mode
}

// NewDevice creates a device answering with respond
func NewDevice(respond Responder) *Device {
	return &Device{respond: respond}
}

// SetResponder replaces the responder
func (d *Device) SetResponder(respond Responder) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.respond = respond
}

// FailOpen makes the next opens fail with err (nil clears it)
func (d *Device) FailOpen(err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.openErr = err
}

// FailRead makes reads fail with err (nil clears it)
func (d *Device) FailRead(err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.readErr = err
}

// Open satisfies protocol.OpenFunc
func (d *Device) Open(path string, mode *serial.Mode) (protocol.Port, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}

	d.opens++
	d.openNow++
	if d.openNow > d.maxOpen {
		d.maxOpen = d.openNow
	}
	d.lastPath = path
	d.lastMode = mode

	return &port{
		device:   d,
		incoming: make(chan byte, 4096),
		closed:   make(chan struct{}),
		timeout:  serial.NoTimeout,
	}, nil
}

// Opens returns how many times the device was opened
func (d *Device) Opens() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.opens
}

// OpenHandles returns how many handles are open right now
func (d *Device) OpenHandles() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.openNow
}

// MaxOpenHandles returns the largest number of handles ever open at once
func (d *Device) MaxOpenHandles() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.maxOpen
}

// Requests returns every payload written to the device
func (d *Device) Requests() [][]byte {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([][]byte, len(d.requests))
	copy(out, d.requests)
	return out
}

// LastMode returns the mode of the most recent open
func (d *Device) LastMode() (string, *serial.Mode) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.lastPath, d.lastMode
}

type port struct {
	device    *Device
	incoming  chan byte
	closed    chan struct{}
	closeOnce sync.Once

	mutex   sync.Mutex
	timeout time.Duration
}

func (p *port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	p.device.mutex.Lock()
	readErr := p.device.readErr
	p.device.mutex.Unlock()
	if readErr != nil {
		return 0, readErr
	}

	p.mutex.Lock()
	timeout := p.timeout
	p.mutex.Unlock()

	var expired <-chan time.Time
	if timeout != serial.NoTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case c := <-p.incoming:
		b[0] = c
		return 1, nil
	case <-expired:
		return 0, nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *port) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, errors.New("port closed")
	default:
	}

	request := append([]byte(nil), b...)

	p.device.mutex.Lock()
	p.device.requests = append(p.device.requests, request)
	respond := p.device.respond
	p.device.mutex.Unlock()

	if respond != nil {
		go p.emit(respond(request))
	}

	return len(b), nil
}

func (p *port) emit(chunks []Chunk) {
	for _, chunk := range chunks {
		if chunk.Delay > 0 {
			select {
			case <-time.After(chunk.Delay):
			case <-p.closed:
				return
			}
		}
		for _, c := range chunk.Data {
			select {
			case p.incoming <- c:
			case <-p.closed:
				return
			}
		}
	}
}

func (p *port) Drain() error {
	return nil
}

func (p *port) SetReadTimeout(t time.Duration) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.timeout = t
	return nil
}

func (p *port) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.device.mutex.Lock()
		p.device.openNow--
		p.device.mutex.Unlock()
	})
	return nil
}
