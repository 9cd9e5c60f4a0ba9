package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/brief/cli"
	brief_shim "github.com/MarcinKonowalczyk/brief/shim"

	"github.com/containerd/containerd/v2/pkg/shim"
)

func main() {
	// The shim starts its tasks by re-executing itself with the subcommand
	if brief, args := isBriefArg(os.Args[1:]); brief {
		cli.Main(args)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shim.Run(ctx, brief_shim.NewManager("io.containerd.brief.v1"))
}

// isBriefArg reports whether args start with the subcommand. Only the first
// argument counts, since a container id may be spelled the same.
func isBriefArg(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == brief_shim.Subcommand {
		return true, args[1:]
	}
	return false, args
}
