package motion

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DryRun is a Driver that logs every primitive instead of moving hardware.
type DryRun struct {
	// Delay simulates the duration of each primitive.
	Delay  time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	pose     Pose
	gripping bool
	calls    int
}

// NewDryRun returns a DryRun driver.
func NewDryRun(delay time.Duration, logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{Delay: delay, logger: logger}
}

func (d *DryRun) wait(ctx context.Context, op string) error {
	if d.Delay <= 0 {
		if err := ctx.Err(); err != nil {
			return TimeoutError(op, err)
		}
		return nil
	}
	t := time.NewTimer(d.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return TimeoutError(op, ctx.Err())
	case <-t.C:
		return nil
	}
}

// MoveTo implements Driver.
func (d *DryRun) MoveTo(ctx context.Context, p Pose) error {
	if err := d.wait(ctx, "move"); err != nil {
		return err
	}
	d.mu.Lock()
	d.pose = p
	d.calls++
	d.mu.Unlock()
	d.logger.Info("Dry run move", zap.String("pose", p.String()))
	return nil
}

// Grip implements Driver.
func (d *DryRun) Grip(ctx context.Context) error {
	return d.setGrip(ctx, "grip", true)
}

// Release implements Driver.
func (d *DryRun) Release(ctx context.Context) error {
	return d.setGrip(ctx, "release", false)
}

func (d *DryRun) setGrip(ctx context.Context, op string, closed bool) error {
	if err := d.wait(ctx, op); err != nil {
		return err
	}
	d.mu.Lock()
	d.gripping = closed
	d.calls++
	d.mu.Unlock()
	d.logger.Info("Dry run gripper", zap.String("op", op))
	return nil
}

// State returns the last commanded pose, whether the gripper is closed and
// the number of completed primitives.
func (d *DryRun) State() (Pose, bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pose, d.gripping, d.calls
}
