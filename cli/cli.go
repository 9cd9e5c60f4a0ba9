// Package cli is the brief command line: it turns flags and an optional
// YAML profile into a bf.Config, compiles the source file and either dumps
// or runs the program.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcinKonowalczyk/brief/bf"
	"github.com/containerd/log"
	"github.com/tebeka/atexit"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/brief/cli.debug=true'"`
var debug string

const help = `brief: a flexible brainfuck interpreter
Usage: brief [options]

Options:
	-a	minimum cell value (default: 0)
	-b	maximum cell value (default: 255)
	-c	number of cells to allocate (default: 30000)
	-e	value to store upon EOF, which can be one of:
		0	store a zero in the cell (default)
		a	store the minimum cell value in the cell
		b	store the maximum cell value in the cell
		n	store a negative one in the cell
		x	do not change the cell's contents
	-f	source file name (required)
	-h	this help output
	-m	runtime mode, which can be one of:
		d	dump parsed code
		r	run normally (default)
	-v	value overflow/underflow behaviour
	-w	cell pointer overflow/underflow behaviour
	-config	YAML file with any of min, max, cells, eof, mode, value, pointer;
		flags given on the command line take precedence
	-debug	verbose logging to stderr

Overflow/underflow behaviours can be one of:
	e	throw an error and quit upon over/underflow (pointer default)
	i	do nothing when attempting to over/underflow
	w	wrap-around to other end upon over/underflow (value default)
`

type options struct {
	file    string
	profile string
	help    bool
	debug   bool
}

func newFlagSet(config *bf.Config, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("brief", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int64Var(&config.MinValue, "a", config.MinValue, "minimum cell value")
	fs.Int64Var(&config.MaxValue, "b", config.MaxValue, "maximum cell value")
	fs.IntVar(&config.Cells, "c", config.Cells, "number of cells to allocate")
	fs.TextVar(&config.EOF, "e", config.EOF, "value to store upon EOF")
	fs.TextVar(&config.Mode, "m", config.Mode, "runtime mode")
	fs.TextVar(&config.ValuePolicy, "v", config.ValuePolicy, "value overflow/underflow behaviour")
	fs.TextVar(&config.PointerPolicy, "w", config.PointerPolicy, "cell pointer overflow/underflow behaviour")
	fs.StringVar(&opts.file, "f", "", "source file name")
	fs.StringVar(&opts.profile, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.help, "h", false, "help")
	fs.BoolVar(&opts.debug, "debug", false, "verbose logging")
	return fs
}

// parseArgs parses the command line twice when a profile is given: once to
// find it, and again on top of it so flags override the file.
func parseArgs(args []string) (bf.Config, options, error) {
	config := bf.DefaultConfig()
	var opts options
	if err := newFlagSet(&config, &opts).Parse(args); err != nil {
		return config, opts, err
	}
	if opts.help || opts.profile == "" {
		return config, opts, nil
	}

	config = bf.DefaultConfig()
	if err := LoadConfig(opts.profile, &config); err != nil {
		return config, opts, err
	}
	opts = options{}
	if err := newFlagSet(&config, &opts).Parse(args); err != nil {
		return config, opts, err
	}
	return config, opts, nil
}

// Run is the whole command. It returns the process exit status.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, help)
		return 1
	}

	config, opts, err := parseArgs(args)
	if err != nil {
		return fail(stderr, err)
	}
	if opts.help {
		fmt.Fprint(stderr, help)
		return 1
	}
	if opts.debug || debug != "" {
		if err := log.SetLevel("debug"); err != nil {
			return fail(stderr, err)
		}
	}
	if err := config.Validate(); err != nil {
		return fail(stderr, err)
	}
	if opts.file == "" {
		return fail(stderr, errors.New("no source file specified; use -f"))
	}

	if err := execute(ctx, config, opts.file, stdin, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "brief: error: %v\n", err)
	return 1
}

func execute(ctx context.Context, config bf.Config, filename string, stdin io.Reader, stdout io.Writer) error {
	source, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer source.Close()

	program, err := bf.Compile(source)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	log.G(ctx).WithFields(log.Fields{
		"file":         filename,
		"instructions": len(program),
		"mode":         config.Mode,
	}).Debug("compiled")

	switch config.Mode {
	case bf.ModeDump:
		return program.Dump(stdout)
	case bf.ModeRun:
		engine, err := bf.NewEngine(program, config, stdin, stdout)
		if err != nil {
			return err
		}
		log.G(ctx).WithFields(log.Fields{
			"cells":   config.Cells,
			"min":     config.MinValue,
			"max":     config.MaxValue,
			"value":   config.ValuePolicy,
			"pointer": config.PointerPolicy,
			"eof":     config.EOF,
		}).Debug("running")
		return engine.RunContext(ctx)
	default:
		return fmt.Errorf("%w: unknown mode %q", bf.ErrInvalidConfiguration, byte(config.Mode))
	}
}

// Main runs the command against the process's standard streams and exits.
// Standard output is buffered and flushed on exit, fatal errors included.
func Main(args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	atexit.Register(cancel)

	stdout := bufio.NewWriter(os.Stdout)
	atexit.Register(func() {
		if err := stdout.Flush(); err != nil {
			log.G(ctx).WithError(err).Error("failed to flush stdout")
		}
	})

	atexit.Exit(Run(ctx, args, os.Stdin, stdout, os.Stderr))
}
