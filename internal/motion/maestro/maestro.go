// Package maestro drives a servo gripper attached to a Pololu Maestro
// controller using the compact serial protocol.
package maestro

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/term"
	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/motion"
)

// Compact protocol commands.
const (
	cmdSetTarget     = 0x84
	cmdGetMoving     = 0x93
	cmdGetErrors     = 0xA1
	emptyReadRetries = 5
)

// Options configures a Gripper. Targets are in quarter microseconds.
type Options struct {
	Channel     byte
	OpenTarget  uint16
	CloseTarget uint16
	// Poll is the interval between moving-state queries.
	Poll time.Duration
}

// DefaultOptions matches the reference gripper on channel 0.
func DefaultOptions() Options {
	return Options{
		Channel:     0,
		OpenTarget:  1984,
		CloseTarget: 2880,
		Poll:        20 * time.Millisecond,
	}
}

// Gripper implements motion.Gripper.
type Gripper struct {
	port   io.ReadWriteCloser
	opts   Options
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens the Maestro command port at device (e.g. /dev/ttyACM0).
func Open(device string, opts Options, logger *zap.Logger) (*Gripper, error) {
	t, err := term.Open(device, term.Speed(9600), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	if err := t.SetReadTimeout(200 * time.Millisecond); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return New(t, opts, logger), nil
}

// New wraps an already open port.
func New(port io.ReadWriteCloser, opts Options, logger *zap.Logger) *Gripper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Poll <= 0 {
		opts.Poll = 20 * time.Millisecond
	}
	return &Gripper{port: port, opts: opts, logger: logger}
}

// Grip closes the jaws.
func (g *Gripper) Grip(ctx context.Context) error {
	return g.moveTo(ctx, "grip", g.opts.CloseTarget)
}

// Release opens the jaws.
func (g *Gripper) Release(ctx context.Context) error {
	return g.moveTo(ctx, "release", g.opts.OpenTarget)
}

// Close closes the serial port.
func (g *Gripper) Close() error {
	return g.port.Close()
}

func (g *Gripper) moveTo(ctx context.Context, op string, target uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.setTarget(g.opts.Channel, target); err != nil {
		return &motion.FaultError{Op: op, Detail: "set target failed", Err: err}
	}

	ticker := time.NewTicker(g.opts.Poll)
	defer ticker.Stop()

	for {
		moving, err := g.moving()
		if err != nil {
			return &motion.FaultError{Op: op, Detail: "moving state query failed", Err: err}
		}
		if !moving {
			break
		}
		select {
		case <-ctx.Done():
			return motion.TimeoutError(op, ctx.Err())
		case <-ticker.C:
		}
	}

	code, err := g.errors()
	if err != nil {
		return &motion.FaultError{Op: op, Detail: "error query failed", Err: err}
	}
	if code != 0 {
		return &motion.FaultError{Op: op, Detail: fmt.Sprintf("controller error 0x%04x", code)}
	}

	g.logger.Debug("Gripper moved", zap.String("op", op), zap.Uint16("target", target))
	return nil
}

func (g *Gripper) setTarget(ch byte, target uint16) error {
	_, err := g.port.Write([]byte{cmdSetTarget, ch, byte(target & 0x7F), byte((target >> 7) & 0x7F)})
	return err
}

func (g *Gripper) moving() (bool, error) {
	if _, err := g.port.Write([]byte{cmdGetMoving}); err != nil {
		return false, err
	}
	var b [1]byte
	if err := g.read(b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (g *Gripper) errors() (uint16, error) {
	if _, err := g.port.Write([]byte{cmdGetErrors}); err != nil {
		return 0, err
	}
	var b [2]byte
	if err := g.read(b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// read fills p. A port opened with a read timeout returns zero bytes when the
// controller stays silent, which counts as a failed attempt.
func (g *Gripper) read(p []byte) error {
	got, empty := 0, 0
	for got < len(p) {
		n, err := g.port.Read(p[got:])
		got += n
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			empty++
			if empty >= emptyReadRetries {
				return fmt.Errorf("no response from controller")
			}
		}
	}
	return nil
}
