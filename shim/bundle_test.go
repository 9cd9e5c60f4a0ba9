package shim

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/MarcinKonowalczyk/brief/bf"
	"github.com/MarcinKonowalczyk/brief/utils"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// makeBundle lays out a bundle with a rootfs holding hello.bf.
func makeBundle(t *testing.T, args []string, env []string) string {
	t.Helper()
	dir := t.TempDir()
	rootfs := filepath.Join(dir, "rootfs")
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rootfs, "hello.bf"), []byte("+++."), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{Args: args, Env: env, Cwd: "/"},
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFilename), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestReadBundle(t *testing.T) {
	dir := makeBundle(t, []string{"hello.bf"}, []string{"PATH=/usr/bin:/bin"})
	bundle, err := ReadBundle(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, bundle.Root, filepath.Join(dir, "rootfs"))
	utils.AssertEqual(t, bundle.FullPath(), filepath.Join(dir, "rootfs", "hello.bf"))
	utils.AssertDeepEqual(t, bf.DefaultConfig(), bundle.Config)
}

func TestReadBundle_Environment(t *testing.T) {
	env := []string{
		"BRIEF_MIN=-128",
		"BRIEF_MAX=127",
		"BRIEF_CELLS=64",
		"BRIEF_EOF=n",
		"BRIEF_VALUE=error",
		"BRIEF_POINTER=w",
		"BRIEF_UNKNOWN=ignored",
	}
	bundle, err := ReadBundle(makeBundle(t, []string{"hello.bf"}, env))
	utils.AssertNoError(t, err)

	expected := bf.Config{
		MinValue:      -128,
		MaxValue:      127,
		Cells:         64,
		EOF:           bf.EOFNegOne,
		ValuePolicy:   bf.PolicyError,
		PointerPolicy: bf.PolicyWrap,
		Mode:          bf.ModeRun,
	}
	utils.AssertDeepEqual(t, expected, bundle.Config)
	utils.AssertEqualArrays(t, bundle.Args(), []string{
		"-f", bundle.FullPath(),
		"-a", "-128",
		"-b", "127",
		"-c", "64",
		"-e", "n",
		"-v", "e",
		"-w", "w",
		"-m", "r",
	})
}

func TestReadBundle_BadEnvironment(t *testing.T) {
	for _, env := range []string{"BRIEF_CELLS=lots", "BRIEF_CELLS=0", "BRIEF_VALUE=sideways", "BRIEF_MIN=9"} {
		_, err := ReadBundle(makeBundle(t, []string{"hello.bf"}, []string{env, "BRIEF_MAX=8"}))
		utils.AssertErrorIs(t, err, bf.ErrInvalidConfiguration)
	}
}

func TestReadBundle_Errors(t *testing.T) {
	_, err := ReadBundle(t.TempDir())
	utils.Assert(t, errdefs.IsNotFound(err), "Expected missing config.json to be not found")

	_, err = ReadBundle(makeBundle(t, []string{"hello.bf", "extra"}, nil))
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected too many args to be rejected")

	_, err = ReadBundle(makeBundle(t, []string{"hello.sh"}, nil))
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected a non-brainfuck entry point to be rejected")

	_, err = ReadBundle(makeBundle(t, []string{"missing.bf"}, nil))
	utils.Assert(t, errdefs.IsNotFound(err), "Expected a missing script to be not found")
}

func TestReadBundle_NoProcess(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"ociVersion": "1.2.1", "root": {"path": "/"}}`)
	if err := os.WriteFile(filepath.Join(dir, configFilename), data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ReadBundle(dir)
	utils.Assert(t, errdefs.IsInvalidArgument(err), "Expected a bundle without a process to be rejected")
}

func TestExitStatus(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 3")
	_ = cmd.Run()
	utils.AssertEqual(t, exitStatus(cmd), 3)

	cmd = exec.Command("/bin/sh", "-c", "kill -KILL $$")
	_ = cmd.Run()
	utils.AssertEqual(t, exitStatus(cmd), exitCodeSignal+9)

	utils.AssertEqual(t, exitStatus(exec.Command("/bin/true")), 255)
}

func TestPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), initPidFile)
	utils.AssertNoError(t, writePidFile(path, 4242))
	pid, err := readPidFile(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, pid, 4242)
}
