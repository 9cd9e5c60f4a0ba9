package bf

import (
	"context"
	"io"
)

// Run compiles source and executes it with the given configuration.
func Run(source io.Reader, config Config, input io.Reader, output io.Writer) error {
	return RunContext(context.Background(), source, config, input, output)
}

func RunContext(ctx context.Context, source io.Reader, config Config, input io.Reader, output io.Writer) error {
	program, err := Compile(source)
	if err != nil {
		return err
	}

	engine, err := NewEngine(program, config, input, output)
	if err != nil {
		return err
	}
	return engine.RunContext(ctx)
}
