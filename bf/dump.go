package bf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// pairs per line in a dump
const dumpWidth = 8

// Dump writes the program as "<command> <count>" pairs, eight to a line.
func (p Program) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, in := range p {
		sep := byte('\t')
		if (i+1)%dumpWidth == 0 {
			sep = '\n'
		}
		if _, err := fmt.Fprintf(bw, "%s%c", in, sep); err != nil {
			return err
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// ParseDump reads the output of Dump back into a program. Adjacent pairs of
// the same foldable command merge and loops are resolved again, so a dump
// of a compiled program parses back to the same program.
func ParseDump(r io.Reader) (Program, error) {
	c := &Compiler{program: Program{}}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		for _, field := range strings.Split(scanner.Text(), "\t") {
			if strings.TrimSpace(field) == "" {
				continue
			}
			cmd, count, err := parsePair(field)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if err := c.emit(cmd, count); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}
	program, err := c.finish()
	if err != nil {
		return nil, err
	}
	if err := program.Validate(); err != nil {
		return nil, err
	}
	return program, nil
}

func parsePair(field string) (Command, int, error) {
	op, num, ok := strings.Cut(field, " ")
	if !ok || len(op) != 1 {
		return 0, 0, fmt.Errorf("%w: bad pair %q", ErrMalformedDump, field)
	}
	cmd, ok := parse(op[0])
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown command %q", ErrMalformedDump, op)
	}
	count, err := strconv.Atoi(num)
	if err != nil || count < 1 {
		return 0, 0, fmt.Errorf("%w: bad count %q", ErrMalformedDump, num)
	}
	if !cmd.Foldable() && count != 1 {
		return 0, 0, fmt.Errorf("%w: '%c' with count %d", ErrMalformedDump, cmd, count)
	}
	return cmd, count, nil
}
