// Package kawasaki drives a Kawasaki robot controller through its AS language
// terminal over TCP.
package kawasaki

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thyrook/chessrig/internal/motion"
)

// Controller messages.
const (
	msgMotionDone   = "DO motion completed."
	msgSuddenChange = "suddenly changed."
	msgOutOfRange   = "Destination is out of motion range."
	msgAborted      = "Program aborted."
	msgMore         = "Press SPACE key to continue"
	prompt          = ">"
)

// Status is the controller switch state reported by SWITCH.
type Status struct {
	Busy       bool
	Error      bool
	Powered    bool
	Repeat     bool
	TeachLock  bool
	Running    bool
	CP         bool
	RepeatOnce bool
	StepOnce   bool
}

// Ready reports whether the controller accepts remote motion commands.
func (s Status) Ready() bool {
	return s.Repeat && s.Running && !s.TeachLock
}

// Client is an AS terminal session. It implements motion.Arm.
type Client struct {
	conn   net.Conn
	tn     *telnetReader
	logger *zap.Logger
	mu     sync.Mutex
	buf    []byte
}

// Dial connects to addr, logs in as user and prepares the controller for
// remote motion: errors reset, continuous path and single-step off, motors on.
func Dial(ctx context.Context, addr, user string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := NewClient(conn, logger)
	if err := c.login(ctx, user); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.initialize(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	c.logger.Info("Robot controller connected", zap.String("addr", addr))
	return c, nil
}

// NewClient wraps an established connection without logging in.
func NewClient(conn net.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:   conn,
		tn:     &telnetReader{w: conn},
		logger: logger,
		buf:    make([]byte, 512),
	}
}

func (c *Client) login(ctx context.Context, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.readUntil(ctx, "login:"); err != nil {
		return fmt.Errorf("no login prompt: %w", err)
	}
	if err := c.write(user); err != nil {
		return err
	}
	if _, err := c.readUntil(ctx, prompt); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Ready() {
		return &motion.FaultError{Op: "initialize", Detail: "controller not in repeat/run mode or teach-locked"}
	}

	steps := []struct {
		needed bool
		cmd    string
	}{
		{st.Error, "ERESET"},
		{st.CP, "CP OFF"},
		{st.RepeatOnce, "REP_ONCE OFF"},
		{st.StepOnce, "STP_ONCE OFF"},
		{!st.Powered, "ZPOW ON"},
	}
	for _, s := range steps {
		if !s.needed {
			continue
		}
		if err := c.Command(ctx, s.cmd); err != nil {
			return err
		}
	}

	if !st.Powered {
		st, err = c.Status(ctx)
		if err != nil {
			return err
		}
		if !st.Powered {
			return &motion.FaultError{Op: "initialize", Detail: "motor power cannot be switched on"}
		}
	}
	return nil
}

var switchPattern = regexp.MustCompile(`([A-Z_]+)\s+(ON|OFF)`)

// Status queries the controller switches.
func (c *Client) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write("SWITCH"); err != nil {
		return Status{}, err
	}
	out, err := c.readUntil(ctx, msgMore)
	if err != nil {
		return Status{}, fmt.Errorf("SWITCH failed: %w", err)
	}
	if err := c.write(""); err != nil {
		return Status{}, err
	}
	if _, err := c.readUntil(ctx, prompt); err != nil {
		return Status{}, fmt.Errorf("SWITCH failed: %w", err)
	}

	sw := make(map[string]bool)
	for _, m := range switchPattern.FindAllStringSubmatch(out, -1) {
		sw[m[1]] = m[2] == "ON"
	}
	return Status{
		Busy:       sw["CS"],
		Error:      sw["ERROR"],
		Powered:    sw["POWER"],
		Repeat:     sw["REPEAT"],
		TeachLock:  sw["TEACH_LOCK"],
		Running:    sw["RUN"],
		CP:         sw["CP"],
		RepeatOnce: sw["REP_ONCE"],
		StepOnce:   sw["STP_ONCE"],
	}, nil
}

// Command sends a configuration command and waits for the prompt.
func (c *Client) Command(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(cmd); err != nil {
		return err
	}
	out, err := c.readUntil(ctx, prompt, msgAborted)
	if err != nil {
		return c.classify(cmd, err)
	}
	if strings.Contains(out, msgAborted) {
		return &motion.FaultError{Op: cmd, Detail: msgAborted}
	}
	c.logger.Debug("AS command", zap.String("cmd", cmd))
	return nil
}

// MoveTo performs a straight-line move to p and waits for completion.
func (c *Client) MoveTo(ctx context.Context, p motion.Pose) error {
	return c.move(ctx, fmt.Sprintf("DO LMOVE TRANS(%s)", p))
}

// Depart moves the tool along its approach axis by mm (negative lowers it).
func (c *Client) Depart(ctx context.Context, mm float64) error {
	return c.move(ctx, fmt.Sprintf("DO LDEPART %.1f", mm))
}

// Home runs the controller's home motion.
func (c *Client) Home(ctx context.Context) error {
	return c.move(ctx, "DO HOME")
}

// Reset clears a controller error after a fault.
func (c *Client) Reset(ctx context.Context) error {
	return c.Command(ctx, "ERESET")
}

func (c *Client) move(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(cmd); err != nil {
		return &motion.FaultError{Op: cmd, Detail: "write failed", Err: err}
	}
	out, err := c.readUntil(ctx, msgMotionDone, msgSuddenChange, msgOutOfRange)
	if err != nil {
		return c.classify(cmd, err)
	}
	if strings.Contains(out, msgSuddenChange) || strings.Contains(out, msgOutOfRange) {
		return &motion.FaultError{Op: cmd, Detail: lastLine(out)}
	}
	if _, err := c.readUntil(ctx, prompt); err != nil {
		return c.classify(cmd, err)
	}

	c.logger.Debug("Motion completed", zap.String("cmd", cmd))
	return nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.write("signal -2011")
	return c.conn.Close()
}

func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return motion.TimeoutError(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &motion.FaultError{Op: op, Detail: "connection lost", Err: err}
}

func (c *Client) write(s string) error {
	_, err := c.conn.Write([]byte(s + "\r\n"))
	return err
}

// readUntil reads until one of matches appears in the cooked stream, ctx ends
// or the connection fails.
func (c *Client) readUntil(ctx context.Context, matches ...string) (string, error) {
	if out, ok := c.tn.take(matches); ok {
		return out, nil
	}

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		stop()
		c.conn.SetReadDeadline(time.Time{})
	}()
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	}

	for {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			if ferr := c.tn.feed(c.buf[:n]); ferr != nil {
				return "", ferr
			}
			if out, ok := c.tn.take(matches); ok {
				return out, nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", err
		}
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
