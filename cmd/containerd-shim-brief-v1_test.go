package main

import (
	"testing"

	"github.com/MarcinKonowalczyk/brief/utils"
)

func TestIsBriefArg(t *testing.T) {
	brief, args := isBriefArg([]string{"brief", "-f", "hello.bf"})
	utils.Assert(t, brief, "Expected the brief subcommand")
	utils.AssertEqualArrays(t, args, []string{"-f", "hello.bf"})
}

func TestIsBriefArg_Shim(t *testing.T) {
	brief, args := isBriefArg([]string{"-namespace", "moby", "-id", "abc", "start"})
	utils.Assert(t, !brief, "Did not expect the brief subcommand")
	utils.AssertEqual(t, len(args), 5)
}

func TestIsBriefArg_ContainerID(t *testing.T) {
	input := []string{"-namespace", "default", "-address", "/run/containerd/containerd.sock", "-id", "brief", "start"}
	brief, args := isBriefArg(input)
	utils.Assert(t, !brief, "Did not expect a container id to select the brief subcommand")
	utils.AssertEqualArrays(t, args, input)
}

func TestIsBriefArg_Empty(t *testing.T) {
	brief, args := isBriefArg(nil)
	utils.Assert(t, !brief, "Did not expect the brief subcommand")
	utils.AssertEqual(t, len(args), 0)
}
