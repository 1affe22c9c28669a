//go:build linux

package vmm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/c35s/flatvm/kvm"
	"golang.org/x/sys/unix"
)

// State is the run state of a VM.
type State int32

const (
	Running State = iota
	ShutdownClean
	Fatal
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShutdownClean:
		return "shutdown"
	case Fatal:
		return "fatal"
	}

	return fmt.Sprintf("State(%d)", int32(s))
}

// Run runs the guest until it shuts down, it makes an exit Run can't handle,
// or ctx is done. It returns nil only on a clean shutdown. A VM can only be
// run once.
func (m *VM) Run(ctx context.Context) error {
	c := m.cpu
	if c == nil || c.run == nil {
		return fmt.Errorf("%w: vcpu isn't started", ErrConfiguration)
	}

	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: vm has already run", ErrConfiguration)
	}

	// KVM_RUN must always come from the thread that kick signals
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.tid.Store(int64(unix.Gettid()))
	defer c.tid.Store(0)

	c.run.SetImmediateExit(false)
	stop := context.AfterFunc(ctx, c.kick)
	defer stop()

	if err := m.loop(ctx); err != nil {
		m.state.Store(int32(Fatal))
		return err
	}

	m.state.Store(int32(ShutdownClean))
	return nil
}

func (m *VM) loop(ctx context.Context) error {
	c := m.cpu
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRun, err)
		}

		if err := m.resume(ctx); err != nil {
			return err
		}

		switch ev := DecodeExit(c.run).(type) {
		case Shutdown:
			slog.Info("guest shut down")
			return nil

		case PortIO:
			data, err := c.run.Data(ev.DataOffset, ev.Len())
			if err != nil {
				return fmt.Errorf("%w: %w", ErrRun, err)
			}

			ok, err := m.serial.HandleIO(ev, data)
			if err != nil {
				return fmt.Errorf("%w: serial: %w", ErrRun, err)
			}

			if !ok {
				return m.exitError(kvm.ExitIO, &ev)
			}

		case OtherExit:
			return m.exitError(ev.Reason, nil)
		}
	}
}

// resume enters the guest. An interrupted resume is retried once unless ctx
// is done.
func (m *VM) resume(ctx context.Context) error {
	for retried := false; ; retried = true {
		err := m.cpu.dev.Run()
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrRun, ctx.Err())
			}

			if !retried {
				slog.Debug("vcpu run interrupted, retrying")
				continue
			}
		}

		return fmt.Errorf("%w: %w", ErrRun, err)
	}
}

func (m *VM) exitError(reason kvm.Exit, io *PortIO) error {
	xerr := &ExitError{
		Reason: reason,
		IO:     io,
	}

	var regs kvm.Regs
	if err := m.cpu.dev.GetRegs(&regs); err != nil {
		slog.Debug("can't read registers after exit", "err", err)
		return xerr
	}

	xerr.RIP = regs.RIP
	xerr.Inst = describeInst(&m.regions, &regs)
	return xerr
}
