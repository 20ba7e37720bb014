// Package seriallink bridges a controller attached over a serial port. Frames
// are newline-delimited JSON in the {"type", "payload"} envelope used by the
// controller WebSocket.
package seriallink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/KongGithubDev/LightLink/internal/core"
)

const (
	// DefaultBaudRate matches the controller firmware.
	DefaultBaudRate = 115200
	// DefaultRetryInterval is the wait between attempts to (re)open the port.
	DefaultRetryInterval = 3 * time.Second

	maxFrameSize = 64 << 10
	sendBuffer   = 64
)

var (
	errSessionClosed = errors.New("serial session closed")
	errSlowDevice    = errors.New("serial device too slow")
)

// Opener opens the controller port.
type Opener func() (io.ReadWriteCloser, error)

// SerialOpener returns an Opener for a serial device.
func SerialOpener(portName string, baudRate int) Opener {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("serial link: open %s: %w", portName, err)
		}
		// USB CDC ACM: assert DTR/RTS so the board starts talking.
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)
		return port, nil
	}
}

// Option configures a Link.
type Option func(*Link)

// WithRetryInterval sets the wait between open attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.retry = d
		}
	}
}

// Link keeps a serial controller connected: it reopens the port when it
// goes away and counts as an attached controller while open.
type Link struct {
	open       Opener
	dispatcher *core.Dispatcher
	hub        *core.Hub
	logger     *slog.Logger
	retry      time.Duration

	mu   sync.Mutex
	conn io.ReadWriteCloser

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a link. Call Start to begin connecting.
func New(d *core.Dispatcher, open Opener, logger *slog.Logger, opts ...Option) *Link {
	l := &Link{
		open:       open,
		dispatcher: d,
		hub:        d.Hub(),
		logger:     logger.With("component", "serial"),
		retry:      DefaultRetryInterval,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the connect loop in the background.
func (l *Link) Start() {
	l.wg.Add(1)
	go l.run()
}

// Stop closes the port and waits for the connect loop to exit.
func (l *Link) Stop() {
	l.closeOnce.Do(func() { close(l.done) })
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Link) run() {
	defer l.wg.Done()
	attempt := 0
	for {
		select {
		case <-l.done:
			return
		default:
		}

		conn, err := l.open()
		if err != nil {
			attempt++
			if attempt == 1 {
				l.logger.Warn("serial controller unavailable, retrying", "err", err)
			} else {
				l.logger.Debug("waiting for serial controller", "attempt", attempt, "err", err)
			}
		} else {
			attempt = 0
			l.serve(conn)
		}

		select {
		case <-l.done:
			return
		case <-time.After(l.retry):
		}
	}
}

// serve runs one connection until the port fails or the link stops.
func (l *Link) serve(conn io.ReadWriteCloser) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		conn.Close()
		return
	default:
	}
	l.conn = conn
	l.mu.Unlock()

	s := &session{conn: conn, send: make(chan []byte, sendBuffer)}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	unsub := l.hub.Events().Subscribe(s)
	detach := l.hub.AttachController("serial")
	l.logger.Info("serial controller connected")

	if ev, err := l.hub.CatalogEvent(); err == nil {
		if err := s.Deliver(ev); err != nil {
			l.logger.Warn("serial catalog send", "err", err)
		}
	} else {
		l.logger.Error("serial catalog", "err", err)
	}

	l.readLoop(s)

	unsub()
	detach()
	s.close()
	conn.Close()
	<-writerDone

	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	l.logger.Info("serial controller disconnected")
}

func (l *Link) readLoop(s *session) {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		reply, err := l.dispatcher.HandleFrame(line)
		if err != nil {
			l.logger.Warn("serial frame rejected", "code", core.CodeOf(err), "err", err)
			reply = &core.Event{Type: "error", Payload: map[string]core.Code{"error": core.CodeOf(err)}}
		}
		if reply != nil {
			if err := s.Deliver(*reply); err != nil {
				l.logger.Warn("serial reply dropped", "err", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-l.done:
		default:
			l.logger.Warn("serial read failed", "err", err)
		}
	}
}

// session is one open port. It implements core.Subscriber; frames are
// written by writeLoop so Deliver never blocks on the device.
type session struct {
	conn io.ReadWriteCloser
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *session) Deliver(e core.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.send <- append(data, '\n'):
		return nil
	default:
		return errSlowDevice
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *session) writeLoop() {
	failed := false
	for data := range s.send {
		if failed {
			continue
		}
		if _, err := s.conn.Write(data); err != nil {
			failed = true
		}
	}
}
