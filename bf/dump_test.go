package bf_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/brief/bf"
	"github.com/MarcinKonowalczyk/brief/utils"
)

func TestDump(t *testing.T) {
	program, err := bf.CompileString("+++[>++<-]>.")
	utils.AssertNoError(t, err)

	var buf bytes.Buffer
	utils.AssertNoError(t, program.Dump(&buf))
	expected := "+ 3\t[ 1\t> 1\t+ 2\t< 1\t- 1\t] 1\t> 1\n. 1\t\n"
	utils.AssertEqual(t, buf.String(), expected)
}

func TestDump_Empty(t *testing.T) {
	var buf bytes.Buffer
	utils.AssertNoError(t, bf.Program{}.Dump(&buf))
	utils.AssertEqual(t, buf.String(), "\n")
}

func TestDump_ExactLine(t *testing.T) {
	program, err := bf.CompileString("+-+-+-+-")
	utils.AssertNoError(t, err)

	var buf bytes.Buffer
	utils.AssertNoError(t, program.Dump(&buf))
	utils.AssertEqual(t, buf.String(), "+ 1\t- 1\t+ 1\t- 1\t+ 1\t- 1\t+ 1\t- 1\n\n")
}

func TestParseDump_RoundTrip(t *testing.T) {
	sources := []string{
		"",
		"+++.",
		"++[>++<-]>.",
		",[.,]",
		"+-+-+-+-+-+-+-+-+-[[]]>>>><<<<...,,,",
		"++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.",
	}
	for _, source := range sources {
		program, err := bf.CompileString(source)
		utils.AssertNoError(t, err)

		var buf bytes.Buffer
		utils.AssertNoError(t, program.Dump(&buf))

		again, err := bf.ParseDump(&buf)
		utils.AssertNoError(t, err)
		utils.AssertDeepEqual(t, program, again)
		utils.AssertNoError(t, again.Validate())
	}
}

func TestParseDump_MergesAdjacentPairs(t *testing.T) {
	program, err := bf.ParseDump(strings.NewReader("+ 3\t+ 2\t[ 1\t] 1\n"))
	utils.AssertNoError(t, err)
	expected := bf.Program{
		{Command: bf.Increment, Count: 5, Jump: -1},
		{Command: bf.LoopStart, Count: 1, Jump: 2},
		{Command: bf.LoopEnd, Count: 1, Jump: 1},
	}
	utils.AssertDeepEqual(t, expected, program)
}

func TestParseDump_Malformed(t *testing.T) {
	for _, dump := range []string{"q 1\n", "+ 0\n", "+ x\n", "+3\n", "[ 2\t] 1\n"} {
		_, err := bf.ParseDump(strings.NewReader(dump))
		utils.AssertErrorIs(t, err, bf.ErrMalformedDump)
	}
}

func TestParseDump_Unbalanced(t *testing.T) {
	_, err := bf.ParseDump(strings.NewReader("] 1\n"))
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)

	_, err = bf.ParseDump(strings.NewReader("[ 1\t+ 1\n"))
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)
}
