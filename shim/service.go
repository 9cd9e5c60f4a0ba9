package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

// Subcommand is the argument which makes the shim binary act as the
// interpreter instead.
const Subcommand = "brief"

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// task is one interpreter process. done is cancelled once it has been
// reaped, after which exitStatus and exitTime are final.
type task struct {
	pid     int
	started bool

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

func (t *task) String() string {
	if t.exited() {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

type taskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &taskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ shim.TTRPCService   = &taskService{}
	_ taskAPI.TaskService = &taskService{}
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

// lookup must be called with s.mu held.
func (s *taskService) lookup(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func (s *taskService) doneOf(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// The interpreter is started stopped and continued by Start, so that
// containerd sees a pid on Create without the program running yet.
const startStoppedScript = `
#!/bin/sh
kill -STOP $$
exec "$@"
`

const commandWaitDelay = 100 * time.Millisecond

// Create prepares the interpreter process for the bundle's program
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	bundle, err := ReadBundle(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	script := filepath.Join(r.Bundle, "start-stopped.sh")
	if err := os.WriteFile(script, []byte(startStoppedScript), 0o755); err != nil {
		return nil, fmt.Errorf("writing start-stopped.sh: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	args := append([]string{script, self, Subcommand}, bundle.Args()...)
	cmd := exec.Command("/bin/sh", args...)
	cmd.Dir = bundle.Root
	cmd.WaitDelay = commandWaitDelay

	stderr := r.Stderr
	if stderr == "" {
		stderr = r.Stdout
	}
	streams, err := connectStdio(ctx, cmd, r.Stdin, r.Stdout, stderr)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		streams.Close()
		return nil, fmt.Errorf("running init command: %w", err)
	}
	streams.start(ctx)
	pid := cmd.Process.Pid
	log.G(ctx).WithFields(log.Fields{
		"id":      r.ID,
		"pid":     pid,
		"program": bundle.FullPath(),
	}).Debug("init process created")

	done, markDone := context.WithCancel(context.Background())
	s.tasks[r.ID] = &task{
		pid:    pid,
		done:   done,
		stdin:  r.Stdin,
		stdout: r.Stdout,
		stderr: stderr,
	}

	ready := make(chan struct{})
	go s.reap(ctx, ready, r.ID, cmd, markDone)
	<-ready

	if path, err := pidFilePath(r.ID); err != nil {
		log.G(ctx).WithError(err).Warn("failed to locate pid file")
	} else if err := writePidFile(path, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// stdio holds the task fifos and process pipes of one process and the
// copies between them. The copies only run once start is called.
type stdio struct {
	closers []io.Closer
	copies  []func(context.Context)
}

func (s *stdio) start(ctx context.Context) {
	for _, c := range s.copies {
		go c(ctx)
	}
}

// Close releases the fifos and pipes. It is only needed when start is never
// called.
func (s *stdio) Close() {
	for _, c := range s.closers {
		c.Close()
	}
}

// connectStdio opens the task fifos and attaches them to the process's
// standard streams. On error, nothing opened here is left open.
func connectStdio(ctx context.Context, cmd *exec.Cmd, stdin, stdout, stderr string) (_ *stdio, err error) {
	s := &stdio{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if stdin != "" {
		in, err := openFifo(ctx, stdin, syscall.O_RDONLY)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, in)
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdin pipe: %w", err)
		}
		s.closers = append(s.closers, pipe)
		s.copies = append(s.copies, func(ctx context.Context) {
			defer in.Close()
			copyStream(ctx, pipe, in, stdin)
		})
	}

	outputs := []struct {
		path string
		pipe func() (io.ReadCloser, error)
	}{
		{stdout, cmd.StdoutPipe},
		{stderr, cmd.StderrPipe},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		out, err := openFifo(ctx, o.path, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, out)
		pipe, err := o.pipe()
		if err != nil {
			return nil, fmt.Errorf("getting output pipe for %s: %w", o.path, err)
		}
		s.closers = append(s.closers, pipe)
		path := o.path
		s.copies = append(s.copies, func(ctx context.Context) {
			copyStream(ctx, out, pipe, path)
		})
	}
	return s, nil
}

func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

func copyStream(ctx context.Context, dst io.WriteCloser, src io.Reader, name string) {
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to copy stream %s", name)
	}
}

// reap waits for the init process, records how it ended and shuts the shim
// down once no task is left running.
func (s *taskService) reap(ctx context.Context, ready chan<- struct{}, id string, cmd *exec.Cmd, markDone func()) {
	close(ready)

	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
		}
	}
	status := exitStatus(cmd)
	log.G(ctx).WithFields(log.Fields{"pid": pid, "status": status}).Debug("init process exited")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task %s was removed", id)
		markDone()
		return
	}
	t.exitStatus = status
	t.exitTime = time.Now()
	markDone()

	for _, other := range s.tasks {
		if !other.exited() {
			return
		}
	}
	log.G(ctx).Debug("all tasks exited. shutting down the shim")
	s.shutdown.Shutdown()
}

// exitStatus follows the shell convention: the exit code, or 128 plus the
// signal number for a killed process.
func exitStatus(cmd *exec.Cmd) int {
	state := cmd.ProcessState
	if state == nil {
		return 255
	}
	if state.Exited() {
		return state.ExitCode()
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return 255
}

// Start continues the stopped interpreter process
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	if err := syscall.Kill(t.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("continuing init process %d: %w", t.pid, err)
	}
	t.started = true

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete forgets a task whose process has exited
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}
	if !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", t.pid))
	}
	delete(s.tasks, r.ID)
	log.G(ctx).WithField("task", t).Debug("task deleted")

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_CREATED
	switch {
	case t.exited():
		status = tasktypes.Status_STOPPED
	case t.started:
		status = tasktypes.Status_RUNNING
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(t.pid),
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill signals the interpreter process and waits for it to be reaped
func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithFields(log.Fields{"id": r.ID, "signal": r.Signal}).Debug("kill (service)")

	done, err := func() (context.Context, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		t, err := s.lookup(r.ID)
		if err != nil {
			return nil, err
		}
		if t.exited() {
			log.G(ctx).Warnf("task already exited: %s", r.ID)
			return nil, nil
		}

		sig := syscall.Signal(r.Signal)
		if sig == 0 {
			sig = syscall.SIGKILL
		}
		if t.pid > 0 && alive(t.pid) {
			if err := syscall.Kill(t.pid, sig); err != nil {
				return nil, fmt.Errorf("sending %s to init process: %w", sig, err)
			}
			// a stopped process only acts on the signal once continued
			if !t.started && sig != syscall.SIGKILL {
				_ = syscall.Kill(t.pid, syscall.SIGCONT)
			}
		}
		return t.done, nil
	}()
	if err != nil {
		log.G(ctx).WithError(err).Errorf("failed to send kill syscall to init process %s", r.ID)
		return nil, err
	}

	if done != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done.Done():
		}
	}
	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pids (task)")
}

// CloseIO of a process
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("CloseIO (task)")
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns empty stats; the interpreter keeps no cgroup
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneOf(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.lookup(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
