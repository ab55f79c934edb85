package proc

// DefaultMaxFrames bounds the number of frames of a walk when Config does
// not set one.
const DefaultMaxFrames = 256

// StackCall is one resolved frame of a stack trace.
type StackCall struct {
	PC        uint64
	Return    uint64
	FrameBase uint64
	Stack     uint64
	Symbol    ResolvedSymbol
	// Instruction is the disassembled instruction at PC, only filled when
	// Config.ShowInstruction is set.
	Instruction string
}

// StackTrace is the result of a walk. Calls go from the innermost frame
// to the outermost one.
type StackTrace struct {
	WalkID string
	Pid    int
	Tid    int
	Arch   Arch
	Calls  []StackCall
	// Truncated is set when the walk stopped before reaching a frame with
	// a zero return address: the frame bound was hit, the stack repeated
	// itself or the unwinder failed midway.
	Truncated bool
	// Cyclic is set when the walk stopped because a frame was identical to
	// the previous one.
	Cyclic bool
}

// Complete returns true if the walk reached the outermost frame of the
// thread.
func (st *StackTrace) Complete() bool {
	return !st.Truncated && len(st.Calls) > 0 && st.Calls[len(st.Calls)-1].Return == 0
}

// StackIterator drives the unwinding primitive one frame at a time. It
// produces at most maxFrames frames and can not be restarted.
type StackIterator struct {
	stepper   Stepper
	maxFrames int
	count     int
	frame     Frame
	atend     bool
	truncated bool
	cyclic    bool
	err       error
}

func newStackIterator(stepper Stepper, maxFrames int) *StackIterator {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &StackIterator{stepper: stepper, maxFrames: maxFrames}
}

// Next advances the iterator to the next frame, returning false when the
// stack is over or an error occurred.
func (it *StackIterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}
	if it.count >= it.maxFrames {
		it.truncated = true
		it.atend = true
		return false
	}

	f, err := it.stepper.Step()
	if err != nil {
		if it.count == 0 {
			it.err = err
		} else if it.frame.Return != 0 {
			// The last frame still points at a caller.
			it.truncated = true
		}
		it.atend = true
		return false
	}

	if it.count > 0 && f.sameAs(it.frame) {
		it.cyclic = true
		it.truncated = true
		it.atend = true
		return false
	}

	it.frame = f
	it.count++
	if f.Return == 0 {
		it.atend = true
	}
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *StackIterator) Frame() Frame {
	if it.err != nil {
		panic(it.err)
	}
	return it.frame
}

// Err returns the error encountered during stack iteration.
func (it *StackIterator) Err() error {
	return it.err
}

// Truncated returns true if the iteration stopped before the outermost
// frame.
func (it *StackIterator) Truncated() bool {
	return it.truncated
}

// Cyclic returns true if the iteration stopped on a repeated frame.
func (it *StackIterator) Cyclic() bool {
	return it.cyclic
}
