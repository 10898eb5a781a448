package rsync

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// OptimalBlockLengthForFileLength is a convenience wrapper around
// BlockLengthForFileLength for callers that already know a base's
// length and don't need BuildSignature's automatic selection wired
// through a Reader.
func OptimalBlockLengthForFileLength(fileLength int64, protocolVersion int) int64 {
	return BlockLengthForFileLength(fileLength, protocolVersion)
}

// OptimalBlockLengthForBase determines a base's length from its
// current Seek position and computes its optimal block length,
// restoring the base to its original position before returning.
func OptimalBlockLengthForBase(base io.Seeker, protocolVersion int) (int64, error) {
	length, err := seekableLength(base)
	if err != nil {
		return 0, errors.Wrap(err, "unable to determine base length")
	}
	return OptimalBlockLengthForFileLength(length, protocolVersion), nil
}

// Monitor receives a snapshot of match statistics as a delta is
// computed. A nil state signals that matching has finished.
type Monitor func(state *MatchStatistics) error

// MonitoringTransmitter wraps transmit so that monitor is invoked with
// a running snapshot of match statistics after every instruction is
// forwarded, and once more with a nil state once the caller is done
// producing instructions. It adapts the teacher's per-file
// monitoringReceiver to this module's per-instruction transmitter
// shape: there is no separate "done" message in this module's wire
// format, so callers signal completion by calling the returned
// finish function after their last ComputeDelta/Deltafy call returns.
func MonitoringTransmitter(transmit InstructionTransmitter, monitor Monitor) (wrapped InstructionTransmitter, finish func() error) {
	stats := MatchStatistics{}
	wrapped = func(instr *DeltaInstruction) error {
		if err := transmit(instr); err != nil {
			return err
		}
		switch instr.Kind {
		case Literal:
			stats.LiteralBytes += int64(len(instr.Data))
		case Match:
			stats.MatchedBlocks += instr.BlockCount
		}
		return monitor(&stats)
	}
	finish = func() error {
		return monitor(nil)
	}
	return wrapped, finish
}

// preemptableTokenSource wraps a tokenSource so that Next checks a
// context for cancellation before pulling the next token, matching
// the teacher's preemptableReceiver.
type preemptableTokenSource struct {
	ctx context.Context
	src tokenSource
}

// NewPreemptableReconstruct wraps src so that Reconstruct aborts as
// soon as ctx is cancelled, rather than running to completion or to
// the next I/O error. Use it to bound a long-running reconstruction:
//
//	src := tokenReaderAdapter{r: newTokenReader(r, compressionAlgo)}
//	_, err := reconstructor.Reconstruct(dst, NewPreemptableReconstruct(ctx, src), digestSource, digestLen)
func NewPreemptableReconstruct(ctx context.Context, src tokenSource) tokenSource {
	return &preemptableTokenSource{ctx: ctx, src: src}
}

func (p *preemptableTokenSource) Next() (tokenRecord, error) {
	select {
	case <-p.ctx.Done():
		return tokenRecord{}, errors.New("reconstruction cancelled")
	default:
	}
	return p.src.Next()
}
