package bf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
)

type flusher interface {
	Flush() error
}

type Engine struct {
	Program     Program
	config      Config
	program_ptr int
	mem         []int64
	mem_ptr     int
	input       io.ByteReader
	output      io.Writer
}

// NewEngine prepares a run of program on a fresh, zeroed tape. A nil input
// behaves as an empty stream and a nil output discards everything. Programs
// not built by the compiler are checked with Validate first.
func NewEngine(program Program, config Config, input io.Reader, output io.Writer) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := program.Validate(); err != nil {
		return nil, err
	}
	if input == nil {
		input = eofReader{}
	}
	br, ok := input.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(input)
	}
	if output == nil {
		output = io.Discard
	}
	return &Engine{
		Program: program,
		config:  config,
		mem:     make([]int64, config.Cells),
		input:   br,
		output:  output,
	}, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (e *Engine) Reset() {
	e.program_ptr = 0
	e.mem_ptr = 0
	for j := range e.mem {
		e.mem[j] = 0
	}
}

func (e *Engine) Cells() int {
	return len(e.mem)
}

func (e *Engine) Cursor() int {
	return e.mem_ptr
}

// At returns cell j, with j wrapped onto the tape so that -1 is the last cell.
func (e *Engine) At(j int) int64 {
	n := len(e.mem)
	return e.mem[((j%n)+n)%n]
}

func (e *Engine) Run() error {
	return e.RunContext(context.Background())
}

// RunContext executes the program until the instruction pointer runs off
// its end. ctx is checked between instructions only.
func (e *Engine) RunContext(ctx context.Context) error {
	for e.program_ptr < len(e.Program) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.step(e.Program[e.program_ptr]); err != nil {
			return fmt.Errorf("instruction %d: %w", e.program_ptr, err)
		}
		e.program_ptr++
	}
	return nil
}

func (e *Engine) step(in Instruction) error {
	var err error
	switch in.Command {
	case Increment:
		e.mem[e.mem_ptr], err = e.moveValue(e.mem[e.mem_ptr], int64(in.Count))
	case Decrement:
		e.mem[e.mem_ptr], err = e.moveValue(e.mem[e.mem_ptr], -int64(in.Count))
	case Right:
		e.mem_ptr, err = e.movePointer(int64(in.Count))
	case Left:
		e.mem_ptr, err = e.movePointer(-int64(in.Count))
	case Input:
		for range in.Count {
			if err = e.read(); err != nil {
				break
			}
		}
	case Output:
		for range in.Count {
			if err = e.write(); err != nil {
				break
			}
		}
	case LoopStart:
		// land on the matching LoopEnd; the increment in RunContext steps past it
		if e.mem[e.mem_ptr] == 0 {
			e.program_ptr = in.Jump
		}
	case LoopEnd:
		if e.mem[e.mem_ptr] != 0 {
			e.program_ptr = in.Jump
		}
	default:
		err = fmt.Errorf("%w: unknown command %q", ErrMalformedDump, byte(in.Command))
	}
	return err
}

func (e *Engine) moveValue(v, delta int64) (int64, error) {
	return bounded(v, delta, e.config.MinValue, e.config.MaxValue, e.config.ValuePolicy, ErrValueOverflow, ErrValueUnderflow)
}

func (e *Engine) movePointer(delta int64) (int, error) {
	p, err := bounded(int64(e.mem_ptr), delta, 0, int64(len(e.mem)-1), e.config.PointerPolicy, ErrPointerOverflow, ErrPointerUnderflow)
	return int(p), err
}

// bounded applies delta to v and enforces [lo, hi] according to policy.
func bounded(v, delta, lo, hi int64, policy Policy, overflow, underflow error) (int64, error) {
	sum := v + delta
	wrapped := (delta > 0 && sum < v) || (delta < 0 && sum > v)
	if !wrapped && sum >= lo && sum <= hi {
		return sum, nil
	}
	// a cell can start outside the domain (EOF substitution), so the side
	// is decided by where the result landed
	up := sum > hi
	if wrapped {
		up = delta > 0
	}
	switch policy {
	case PolicyError:
		if up {
			return v, overflow
		}
		return v, underflow
	case PolicyIgnore:
		if up {
			return hi, nil
		}
		return lo, nil
	case PolicyWrap:
		exact := new(big.Int).Add(big.NewInt(v), big.NewInt(delta))
		return wrapBig(exact, lo, hi), nil
	default:
		return v, fmt.Errorf("%w: unknown overflow behaviour %q", ErrInvalidConfiguration, byte(policy))
	}
}

func (e *Engine) read() error {
	if f, ok := e.output.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
	}
	b, err := e.input.ReadByte()
	if err == nil {
		e.mem[e.mem_ptr] = int64(b)
		return nil
	}
	if !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading input: %w", err)
	}
	switch e.config.EOF {
	case EOFZero:
		e.mem[e.mem_ptr] = 0
	case EOFMin:
		e.mem[e.mem_ptr] = e.config.MinValue
	case EOFMax:
		e.mem[e.mem_ptr] = e.config.MaxValue
	case EOFNegOne:
		e.mem[e.mem_ptr] = -1
	case EOFUnchanged:
	default:
		return fmt.Errorf("%w: unknown EOF behaviour %q", ErrInvalidConfiguration, byte(e.config.EOF))
	}
	return nil
}

func (e *Engine) write() error {
	b := byte(e.mem[e.mem_ptr])
	if bw, ok := e.output.(io.ByteWriter); ok {
		if err := bw.WriteByte(b); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		return nil
	}
	if _, err := e.output.Write([]byte{b}); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}
