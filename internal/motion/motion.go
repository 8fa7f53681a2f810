// Package motion defines the motor-driver contract and the rig geometry that
// converts board squares into arm poses.
package motion

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrHardwareFault is matched by every driver-reported fault.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrMotionTimeout means a primitive did not report completion in time.
	ErrMotionTimeout = errors.New("motion timeout")
)

// FaultError is a fault reported by a driver.
type FaultError struct {
	Op     string
	Detail string
	Err    error
}

func (e *FaultError) Error() string {
	msg := fmt.Sprintf("%s: hardware fault: %s", e.Op, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FaultError) Is(target error) bool { return target == ErrHardwareFault }

func (e *FaultError) Unwrap() error { return e.Err }

// IsSafetyStop reports whether err must stop all motion without retry.
func IsSafetyStop(err error) bool {
	return errors.Is(err, ErrHardwareFault) || errors.Is(err, ErrMotionTimeout)
}

// TimeoutError wraps a context deadline into ErrMotionTimeout for op.
func TimeoutError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrMotionTimeout, err)
}

// Pose is a Cartesian tool pose: position in millimetres and O/A/T Euler
// angles in degrees.
type Pose struct {
	X, Y, Z float64
	O, A, T float64
}

// Shift returns p moved by the given offsets.
func (p Pose) Shift(dx, dy, dz float64) Pose {
	p.X += dx
	p.Y += dy
	p.Z += dz
	return p
}

func (p Pose) String() string {
	return fmt.Sprintf("%.3f,%.3f,%.3f,%.3f,%.3f,%.3f", p.X, p.Y, p.Z, p.O, p.A, p.T)
}

// Driver is the motor-driver contract. Every call blocks until the hardware
// reports completion, a fault (ErrHardwareFault) or ctx expires
// (ErrMotionTimeout). Calls must not overlap.
type Driver interface {
	MoveTo(ctx context.Context, p Pose) error
	Grip(ctx context.Context) error
	Release(ctx context.Context) error
}

// Arm moves the tool.
type Arm interface {
	MoveTo(ctx context.Context, p Pose) error
}

// Gripper opens and closes the tool.
type Gripper interface {
	Grip(ctx context.Context) error
	Release(ctx context.Context) error
}

// Rig combines an arm and a gripper into one Driver.
type Rig struct {
	Arm     Arm
	Gripper Gripper
}

// MoveTo implements Driver.
func (r Rig) MoveTo(ctx context.Context, p Pose) error { return r.Arm.MoveTo(ctx, p) }

// Grip implements Driver.
func (r Rig) Grip(ctx context.Context) error { return r.Gripper.Grip(ctx) }

// Release implements Driver.
func (r Rig) Release(ctx context.Context) error { return r.Gripper.Release(ctx) }
