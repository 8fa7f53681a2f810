package kawasaki

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/thyrook/chessrig/internal/motion"
)

const switchReady = "SWITCH\r\n CS        OFF  ERROR     OFF  POWER     ON\r\n REPEAT    ON   RUN       ON   TEACH_LOCK OFF\r\n CP        OFF  REP_ONCE  OFF  STP_ONCE  OFF\r\nPress SPACE key to continue"

// reply is sent back for commands starting with prefix. An empty prefix
// matches only an empty line.
type reply struct {
	prefix string
	text   string
}

// controller emulates the AS terminal on one end of a pipe. Commands without a
// matching reply get no answer.
type controller struct {
	conn    net.Conn
	replies []reply
	got     chan string
}

func newController(t *testing.T, replies ...reply) (*Client, *controller) {
	t.Helper()
	client, server := net.Pipe()
	ctrl := &controller{conn: server, replies: replies, got: make(chan string, 32)}
	go ctrl.serve()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewClient(client, nil), ctrl
}

func (c *controller) serve() {
	// Negotiate echo first, the way the controller opens a session. Pipes
	// are synchronous, so greet from a separate goroutine.
	go func() {
		if _, err := c.conn.Write([]byte{iac, will, optEcho}); err != nil {
			return
		}
		c.conn.Write([]byte("login: "))
	}()

	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		// Drop the telnet reply to WILL ECHO.
		line = strings.TrimPrefix(line, string([]byte{iac, do, optEcho}))
		c.got <- line

		if line == "as" {
			c.conn.Write([]byte("\r\n>"))
			continue
		}
		for _, rp := range c.replies {
			if (rp.prefix == "" && line == "") || (rp.prefix != "" && strings.HasPrefix(line, rp.prefix)) {
				c.conn.Write([]byte(rp.text))
				break
			}
		}
	}
}

func TestLoginAndMove(t *testing.T) {
	client, ctrl := newController(t, reply{"DO LMOVE", "\r\nDO motion completed.\r\n>"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.login(ctx, "as"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := <-ctrl.got; got != "as" {
		t.Errorf("Expected user 'as', got %q", got)
	}

	pose := motion.Pose{X: 93.395, Y: 547.541, Z: -210.056, O: 164.851, A: 179.143, T: -108.635}
	if err := client.MoveTo(ctx, pose); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}

	want := "DO LMOVE TRANS(93.395,547.541,-210.056,164.851,179.143,-108.635)"
	if got := <-ctrl.got; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestStatus(t *testing.T) {
	client, _ := newController(t,
		reply{"SWITCH", switchReady},
		reply{"", "\r\n>"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.login(ctx, "as"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Ready() || !st.Powered || st.Error || st.Busy {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestMoveFaults(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		timeout time.Duration
		want    error
	}{
		{
			name:    "out of range",
			reply:   "\r\n(P1013) Destination is out of motion range.\r\n>",
			timeout: time.Second,
			want:    motion.ErrHardwareFault,
		},
		{
			name:    "sudden change",
			reply:   "\r\n(E1234) Joint 3 speed suddenly changed.\r\n>",
			timeout: time.Second,
			want:    motion.ErrHardwareFault,
		},
		{
			name:    "no completion",
			timeout: 50 * time.Millisecond,
			want:    motion.ErrMotionTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var replies []reply
			if tt.reply != "" {
				replies = append(replies, reply{"DO LMOVE", tt.reply})
			}
			client, _ := newController(t, replies...)

			if err := client.login(context.Background(), "as"); err != nil {
				t.Fatalf("login failed: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			err := client.MoveTo(ctx, motion.Pose{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !motion.IsSafetyStop(err) {
				t.Error("Fault should be a safety stop")
			}
		})
	}
}

func TestTelnetReader(t *testing.T) {
	var replies strings.Builder
	tn := &telnetReader{w: &replies}

	raw := []byte{'o', 'k', iac, do, optTType, iac, sb, optTType, ttypeSend, iac, se, iac, iac, 0, '>'}
	if err := tn.feed(raw); err != nil {
		t.Fatalf("feed failed: %v", err)
	}

	out, ok := tn.take([]string{">"})
	if !ok {
		t.Fatal("Expected prompt")
	}
	if out != "ok\xff>" {
		t.Errorf("Expected cooked text without negotiation, got %q", out)
	}

	want := string([]byte{iac, will, optTType}) + string([]byte{iac, sb, optTType, ttypeIs}) + "VT100" + string([]byte{iac, se})
	if replies.String() != want {
		t.Errorf("Unexpected negotiation replies %q", replies.String())
	}
}
