package maestro

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thyrook/chessrig/internal/motion"
)

// port emulates the controller: it answers moving-state queries from a script
// and error queries with a fixed code.
type port struct {
	written bytes.Buffer
	pending bytes.Buffer
	moving  []byte
	errCode uint16
	silent  bool
}

func (p *port) Write(b []byte) (int, error) {
	p.written.Write(b)
	if p.silent {
		return len(b), nil
	}
	switch b[0] {
	case cmdGetMoving:
		state := byte(0)
		if len(p.moving) > 0 {
			state, p.moving = p.moving[0], p.moving[1:]
		}
		p.pending.WriteByte(state)
	case cmdGetErrors:
		p.pending.Write([]byte{byte(p.errCode), byte(p.errCode >> 8)})
	}
	return len(b), nil
}

func (p *port) Read(b []byte) (int, error) {
	if p.pending.Len() == 0 {
		return 0, nil
	}
	return p.pending.Read(b)
}

func (p *port) Close() error { return nil }

func TestGripSendsTarget(t *testing.T) {
	p := &port{moving: []byte{1, 1, 0}}
	g := New(p, Options{Channel: 0, OpenTarget: 1984, CloseTarget: 2880, Poll: time.Millisecond}, nil)

	if err := g.Grip(context.Background()); err != nil {
		t.Fatalf("Grip failed: %v", err)
	}

	// 2880 = 0b10110_1000000 -> low 0x40, high 0x16
	want := []byte{cmdSetTarget, 0, 0x40, 0x16}
	if !bytes.HasPrefix(p.written.Bytes(), want) {
		t.Errorf("Expected set-target %x, got %x", want, p.written.Bytes()[:4])
	}
	if n := bytes.Count(p.written.Bytes(), []byte{cmdGetMoving}); n != 3 {
		t.Errorf("Expected 3 moving queries, got %d", n)
	}
}

func TestGripperFaults(t *testing.T) {
	tests := []struct {
		name string
		port *port
		want error
	}{
		{"controller error", &port{errCode: 0x0010}, motion.ErrHardwareFault},
		{"silent controller", &port{silent: true}, motion.ErrHardwareFault},
		{"never settles", &port{moving: bytes.Repeat([]byte{1}, 1000)}, motion.ErrMotionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.port, Options{OpenTarget: 1984, CloseTarget: 2880, Poll: time.Millisecond}, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			err := g.Release(ctx)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
