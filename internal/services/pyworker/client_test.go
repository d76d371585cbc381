package pyworker_test

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"groundseg/internal/services"
	"groundseg/internal/services/pyworker"
)

// Worker is an in-process stand-in for the Python worker.
type Worker struct {
	protocol int
	block    chan struct{}
}

func (w *Worker) Hello(req pyworker.HelloRequest, reply *pyworker.HelloReply) error {
	reply.Protocol = w.protocol
	reply.Device = "cuda:0"
	reply.Runtime = "fake"
	return nil
}

func (w *Worker) Embed(req pyworker.EmbedRequest, reply *pyworker.EmbedReply) error {
	if req.Prompt == "" {
		return errors.New("empty prompt")
	}
	reply.Tokens = len(req.Prompt)
	reply.InputIDsShape = []int{1, 77}
	return nil
}

func (w *Worker) Segment(req pyworker.SegmentRequest, reply *pyworker.SegmentReply) error {
	<-w.block
	return nil
}

func startFake(t *testing.T, worker *Worker, opts ...pyworker.Option) *pyworker.Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := rpc.NewServer()
	if err := server.RegisterName("Worker", worker); err != nil {
		t.Fatalf("register: %v", err)
	}
	go server.ServeCodec(jsonrpc.NewServerCodec(serverConn))
	client := pyworker.NewClient(clientConn, opts...)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHelloHandshake(t *testing.T) {
	client := startFake(t, &Worker{protocol: pyworker.ProtocolVersion})
	reply, err := client.Hello(context.Background())
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if reply.Device != "cuda:0" {
		t.Fatalf("unexpected device %q", reply.Device)
	}
}

func TestHelloRejectsProtocolMismatch(t *testing.T) {
	client := startFake(t, &Worker{protocol: 99})
	_, err := client.Hello(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCallRoundTripAndServerError(t *testing.T) {
	client := startFake(t, &Worker{protocol: pyworker.ProtocolVersion})

	var reply pyworker.EmbedReply
	if err := client.Call(context.Background(), "Worker.Embed", pyworker.EmbedRequest{Prompt: "a photograph of a dog"}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Tokens != len("a photograph of a dog") || len(reply.InputIDsShape) != 2 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	err := client.Call(context.Background(), "Worker.Embed", pyworker.EmbedRequest{}, &reply)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestCallTimeoutClosesClient(t *testing.T) {
	worker := &Worker{protocol: pyworker.ProtocolVersion, block: make(chan struct{})}
	defer close(worker.block)
	client := startFake(t, worker, pyworker.WithCallTimeout(50*time.Millisecond))

	var reply pyworker.SegmentReply
	err := client.Call(context.Background(), "Worker.Segment", pyworker.SegmentRequest{}, &reply)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	err = client.Call(context.Background(), "Worker.Hello", pyworker.HelloRequest{}, &pyworker.HelloReply{})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected closed client error, got %v", err)
	}
}

func TestStartMissingCommand(t *testing.T) {
	_, err := pyworker.Start(context.Background(), pyworker.Spec{Command: "clearly-not-a-worker-binary"}, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	_, err = pyworker.Start(context.Background(), pyworker.Spec{}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartWorkerThatExits(t *testing.T) {
	script := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho boom >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := pyworker.Start(context.Background(), pyworker.Spec{Command: script, StartupTimeout: 5 * time.Second}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestStartBundledWorker(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	dir, err := filepath.Abs(filepath.Join("..", "..", "..", "worker"))
	if err != nil {
		t.Fatal(err)
	}
	client, err := pyworker.Start(context.Background(), pyworker.Spec{
		Command:        python,
		Args:           []string{"-m", "groundseg_worker"},
		Dir:            dir,
		StartupTimeout: time.Minute,
		CallTimeout:    time.Minute,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Close()

	err = client.Call(context.Background(), "Worker.Embed", pyworker.EmbedRequest{}, &pyworker.EmbedReply{})
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "missing request fields") {
		t.Fatalf("expected request validation error, got %v", err)
	}
	err = client.Call(context.Background(), "Worker.Train", pyworker.HelloRequest{}, &pyworker.HelloReply{})
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "Worker.Train") {
		t.Fatalf("expected unknown method error, got %v", err)
	}
	reply, err := client.Hello(context.Background())
	if err != nil || reply.Protocol != pyworker.ProtocolVersion {
		t.Fatalf("Hello after errors: %+v %v", reply, err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewWorkDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "scratch")
	dir, cleanup, err := pyworker.NewWorkDir(root, "generate")
	if err != nil {
		t.Fatalf("NewWorkDir: %v", err)
	}
	if filepath.Dir(dir) != root {
		t.Fatalf("work dir %q not under %q", dir, root)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected work dir removed")
	}
}
