package bf_test

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/MarcinKonowalczyk/brief/bf"
	"github.com/MarcinKonowalczyk/brief/utils"
	"github.com/containerd/errdefs"
)

func TestFilter(t *testing.T) {
	input := "++\n\n--<    >.,[hello sailor]"
	expected := "++--<>.,[]"
	result := bf.Filter([]byte(input))
	utils.AssertEqual(t, string(result), expected)
}

func TestCompile_AllCommands(t *testing.T) {
	program, err := bf.CompileString("+-<>.,[]")
	utils.AssertNoError(t, err)
	expected := bf.Program{
		{Command: bf.Increment, Count: 1, Jump: -1},
		{Command: bf.Decrement, Count: 1, Jump: -1},
		{Command: bf.Left, Count: 1, Jump: -1},
		{Command: bf.Right, Count: 1, Jump: -1},
		{Command: bf.Output, Count: 1, Jump: -1},
		{Command: bf.Input, Count: 1, Jump: -1},
		{Command: bf.LoopStart, Count: 1, Jump: 7},
		{Command: bf.LoopEnd, Count: 1, Jump: 6},
	}
	utils.AssertDeepEqual(t, expected, program)
}

func TestCompile_Folding(t *testing.T) {
	program, err := bf.CompileString("+++--->>,,..<<<<")
	utils.AssertNoError(t, err)
	expected := bf.Program{
		{Command: bf.Increment, Count: 3, Jump: -1},
		{Command: bf.Decrement, Count: 3, Jump: -1},
		{Command: bf.Right, Count: 2, Jump: -1},
		{Command: bf.Input, Count: 2, Jump: -1},
		{Command: bf.Output, Count: 2, Jump: -1},
		{Command: bf.Left, Count: 4, Jump: -1},
	}
	utils.AssertDeepEqual(t, expected, program)
}

func TestCompile_FoldingAcrossComments(t *testing.T) {
	program, err := bf.CompileString("+ comment +\n+")
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(program), 1)
	utils.AssertEqual(t, program[0].Count, 3)
}

func TestCompile_LoopsNeverFold(t *testing.T) {
	program, err := bf.CompileString("[[]]")
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(program), 4)
	utils.AssertEqual(t, program[0].Jump, 3)
	utils.AssertEqual(t, program[1].Jump, 2)
	utils.AssertEqual(t, program[2].Jump, 1)
	utils.AssertEqual(t, program[3].Jump, 0)
	for _, in := range program {
		utils.AssertEqual(t, in.Count, 1)
	}
}

func TestCompile_Empty(t *testing.T) {
	program, err := bf.CompileString("no commands here")
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(program), 0)
}

func TestCompile_UnmatchedLoopEnd(t *testing.T) {
	_, err := bf.CompileString("]")
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected an invalid argument error")
}

func TestCompile_UnmatchedLoopStart(t *testing.T) {
	_, err := bf.CompileString("[")
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)

	_, err = bf.CompileString("+[[-]")
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)
}

func TestCompile_LateUnmatchedLoopEnd(t *testing.T) {
	_, err := bf.CompileString("[-]]")
	utils.AssertErrorIs(t, err, bf.ErrUnbalancedLoop)
}

func TestCompile_ReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := bf.Compile(iotest.ErrReader(boom))
	utils.AssertErrorIs(t, err, boom)
}

func TestCompile_PartnersAreSymmetric(t *testing.T) {
	sources := []string{
		"++[>++<-]>.",
		"[][][]",
		"+[->[->[-]<]<]",
		"++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.",
	}
	for _, source := range sources {
		program, err := bf.CompileString(source)
		utils.AssertNoError(t, err)
		utils.AssertNoError(t, program.Validate())
		for i, in := range program {
			if in.Command.Foldable() {
				utils.AssertEqual(t, in.Jump, -1)
				continue
			}
			utils.AssertEqual(t, program[in.Jump].Jump, i)
			if in.Command == bf.LoopStart {
				utils.Assert(t, in.Jump > i, "LoopStart partner must come later")
				utils.AssertEqual(t, program[in.Jump].Command, bf.LoopEnd)
			}
		}
	}
}

func TestValidate_CrossedPartners(t *testing.T) {
	program := bf.Program{
		{Command: bf.LoopStart, Count: 1, Jump: 3},
		{Command: bf.LoopStart, Count: 1, Jump: 2},
		{Command: bf.LoopEnd, Count: 1, Jump: 0},
		{Command: bf.LoopEnd, Count: 1, Jump: 1},
	}
	utils.AssertErrorIs(t, program.Validate(), bf.ErrUnbalancedLoop)
}

func TestCommand_String(t *testing.T) {
	var sb strings.Builder
	for _, c := range []bf.Command{bf.Increment, bf.Decrement, bf.Right, bf.Left, bf.Input, bf.Output, bf.LoopStart, bf.LoopEnd} {
		sb.WriteString(c.String())
	}
	utils.AssertEqual(t, sb.String(), "+-><,.[]")
}
