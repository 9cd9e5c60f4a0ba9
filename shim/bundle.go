package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MarcinKonowalczyk/brief/bf"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const configFilename = "config.json"

var sourceExtensions = map[string]bool{
	".bf":        true,
	".b":         true,
	".brainfuck": true,
}

// Bundle is a task's program and the interpreter options from its
// environment.
type Bundle struct {
	Root       string
	Entrypoint string
	Config     bf.Config
}

// ReadBundle reads config.json in dir. The process must have exactly one
// argument, a source file inside the rootfs. BRIEF_* variables in the
// process environment configure the interpreter.
func ReadBundle(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}
	if spec.Root == nil || spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}
	if spec.Process == nil {
		return nil, fmt.Errorf("process not found in config file %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}

	root := spec.Root.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(dir, root)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}
	entrypoint := spec.Process.Args[0]
	if !sourceExtensions[filepath.Ext(entrypoint)] {
		return nil, fmt.Errorf("entry point (%s) is not a brainfuck source file: %w", entrypoint, errdefs.ErrInvalidArgument)
	}

	script := filepath.Join(root, entrypoint)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", entrypoint, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("checking script %s: %w", entrypoint, err)
	}

	config, err := configFromEnv(spec.Process.Env)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Root:       root,
		Entrypoint: entrypoint,
		Config:     config,
	}, nil
}

func configFromEnv(env []string) (bf.Config, error) {
	config := bf.DefaultConfig()
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "BRIEF_") {
			continue
		}
		var err error
		switch key {
		case "BRIEF_MIN":
			config.MinValue, err = strconv.ParseInt(value, 10, 64)
		case "BRIEF_MAX":
			config.MaxValue, err = strconv.ParseInt(value, 10, 64)
		case "BRIEF_CELLS":
			config.Cells, err = strconv.Atoi(value)
		case "BRIEF_EOF":
			config.EOF, err = bf.ParseEOFMode(value)
		case "BRIEF_VALUE":
			config.ValuePolicy, err = bf.ParsePolicy(value)
		case "BRIEF_POINTER":
			config.PointerPolicy, err = bf.ParsePolicy(value)
		default:
			continue
		}
		if err != nil {
			return config, fmt.Errorf("%w: %s: %w", bf.ErrInvalidConfiguration, key, err)
		}
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (b *Bundle) FullPath() string {
	return filepath.Join(b.Root, b.Entrypoint)
}

// Args are the arguments of the brief sub-command which runs the task.
func (b *Bundle) Args() []string {
	return []string{
		"-f", b.FullPath(),
		"-a", strconv.FormatInt(b.Config.MinValue, 10),
		"-b", strconv.FormatInt(b.Config.MaxValue, 10),
		"-c", strconv.Itoa(b.Config.Cells),
		"-e", string(rune(b.Config.EOF)),
		"-v", string(rune(b.Config.ValuePolicy)),
		"-w", string(rune(b.Config.PointerPolicy)),
		"-m", string(rune(bf.ModeRun)),
	}
}
