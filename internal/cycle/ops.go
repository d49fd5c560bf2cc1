package cycle

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/buckleypaul/cellcycle/internal/instrument"
)

// clearSequence aborts running cells and clears cell and sequence state.
var clearSequence = []string{"CELL:ABOR 0", "CELL:CLE 0", "SEQ:CLE 0"}

// Clear identifies the instrument and clears all cell and sequence state.
// The first failing command ends it with Error.
func (r *Runner) Clear(ctx context.Context) Result {
	x := r.begin(Clear, "")
	x.command(ctx, func(ctx context.Context) error {
		idn, err := r.link.Query(ctx, "*IDN?")
		if err != nil {
			return errors.Wrap(err, "identify")
		}
		x.log.Info("instrument identified", zap.String("idn", idn))
		for _, cmd := range clearSequence {
			if err := r.link.Command(ctx, cmd); err != nil {
				return errors.Wrapf(err, "%q", cmd)
			}
		}
		return nil
	})
	return r.end(x)
}

// Reset sends *RST.
func (r *Runner) Reset(ctx context.Context) Result {
	x := r.begin(Reset, "")
	x.command(ctx, func(ctx context.Context) error {
		return errors.Wrap(r.link.Command(ctx, "*RST"), "reset")
	})
	return r.end(x)
}

// command runs fn with the link claimed and maps its error to Error.
func (x *execution) command(ctx context.Context, fn func(context.Context) error) {
	x.phase(PhaseInit)
	release, err := instrument.Claim(x.link)
	if err != nil {
		x.conclude(Error, err)
		return
	}
	defer release()

	x.phase(PhaseRunning)
	if err := fn(ctx); err != nil {
		x.log.Error("instrument command failed", zap.Error(err))
		x.conclude(Error, err)
	}
}
