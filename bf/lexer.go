package bf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

type Command byte

const (
	Increment Command = '+'
	Decrement Command = '-'
	Right     Command = '>'
	Left      Command = '<'
	Input     Command = ','
	Output    Command = '.'
	LoopStart Command = '['
	LoopEnd   Command = ']'
)

// parse maps a source byte to its command. Anything else is a comment.
func parse(c byte) (Command, bool) {
	switch cmd := Command(c); cmd {
	case Increment, Decrement, Right, Left, Input, Output, LoopStart, LoopEnd:
		return cmd, true
	default:
		return 0, false
	}
}

func (c Command) String() string {
	return string(rune(c))
}

// Foldable reports whether runs of c collapse into a single instruction.
// Loop brackets never fold, not even with themselves.
func (c Command) Foldable() bool {
	return c != LoopStart && c != LoopEnd
}

// Instruction is one compiled operation. Count is the folded run length
// (always 1 for loops). Jump is the index of the matching bracket for
// LoopStart and LoopEnd, and -1 for everything else.
type Instruction struct {
	Command Command
	Count   int
	Jump    int
}

func (in Instruction) String() string {
	return fmt.Sprintf("%c %d", in.Command, in.Count)
}

// Program is the compiled, jump-resolved instruction sequence. It is not
// modified after compilation.
type Program []Instruction

// Filter drops every byte which is not one of the eight commands.
func Filter(source []byte) []byte {
	var result []byte
	for _, c := range source {
		if _, ok := parse(c); ok {
			result = append(result, c)
		}
	}
	return result
}

type Compiler struct {
	r       io.ByteReader
	program Program
	loops   []int
}

func NewCompiler(r io.Reader) *Compiler {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Compiler{
		r: br,
	}
}

// Compile reads the whole source and returns the folded program with every
// loop resolved.
func (c *Compiler) Compile() (Program, error) {
	c.program = Program{}
	c.loops = c.loops[:0]
	for {
		b, err := c.r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading source: %w", err)
		}
		cmd, ok := parse(b)
		if !ok {
			continue
		}
		if err := c.emit(cmd, 1); err != nil {
			return nil, err
		}
	}
	return c.finish()
}

// emit appends count repetitions of cmd, folding into the previous
// instruction where allowed.
func (c *Compiler) emit(cmd Command, count int) error {
	n := len(c.program)
	if cmd.Foldable() && n > 0 && c.program[n-1].Command == cmd {
		c.program[n-1].Count += count
		return nil
	}

	in := Instruction{Command: cmd, Count: count, Jump: -1}
	switch cmd {
	case LoopStart:
		in.Count = 1
		c.loops = append(c.loops, n)
	case LoopEnd:
		in.Count = 1
		if len(c.loops) == 0 {
			return fmt.Errorf("%w: unmatched '%c' at instruction %d", ErrUnbalancedLoop, LoopEnd, n)
		}
		start := c.loops[len(c.loops)-1]
		c.loops = c.loops[:len(c.loops)-1]
		c.program[start].Jump = n
		in.Jump = start
	}
	c.program = append(c.program, in)
	return nil
}

func (c *Compiler) finish() (Program, error) {
	if len(c.loops) > 0 {
		return nil, fmt.Errorf("%w: %d unmatched '%c', first at instruction %d",
			ErrUnbalancedLoop, len(c.loops), LoopStart, c.loops[0])
	}
	program := c.program
	c.program = nil
	return program, nil
}

func Compile(r io.Reader) (Program, error) {
	return NewCompiler(r).Compile()
}

func CompileString(source string) (Program, error) {
	return Compile(bytes.NewReader([]byte(source)))
}

// Validate checks that every bracket points at its partner and that the
// brackets nest properly.
func (p Program) Validate() error {
	var stack []int
	for i, in := range p {
		if in.Count < 1 {
			return fmt.Errorf("%w: instruction %d has count %d", ErrMalformedDump, i, in.Count)
		}
		switch in.Command {
		case LoopStart:
			stack = append(stack, i)
		case LoopEnd:
			if len(stack) == 0 {
				return fmt.Errorf("%w: unmatched '%c' at instruction %d", ErrUnbalancedLoop, LoopEnd, i)
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if p[start].Jump != i || in.Jump != start {
				return fmt.Errorf("%w: brackets %d and %d are not partnered", ErrUnbalancedLoop, start, i)
			}
		default:
			if _, ok := parse(byte(in.Command)); !ok {
				return fmt.Errorf("%w: unknown command %q at instruction %d", ErrMalformedDump, byte(in.Command), i)
			}
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("%w: unmatched '%c' at instruction %d", ErrUnbalancedLoop, LoopStart, stack[0])
	}
	return nil
}
