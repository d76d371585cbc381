package pyworker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"groundseg/internal/logging"
	"groundseg/internal/services"
)

const stageName = "worker"

// Spec describes how to launch the worker process.
type Spec struct {
	Command        string
	Args           []string
	Dir            string
	Env            []string
	StartupTimeout time.Duration
	CallTimeout    time.Duration
}

// Client issues calls to one worker.
type Client struct {
	mu          sync.Mutex
	rpc         *rpc.Client
	conn        io.Closer
	cmd         *exec.Cmd
	waitDone    chan struct{}
	waitErr     error
	logger      *slog.Logger
	callTimeout time.Duration
	closed      bool
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger used for call tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCallTimeout bounds every call; zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient speaks the worker protocol over an established connection.
func NewClient(conn io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		rpc:    rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)),
		conn:   conn,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type stdioConn struct {
	io.ReadCloser
	io.WriteCloser
}

func (s stdioConn) Close() error {
	werr := s.WriteCloser.Close()
	rerr := s.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Start launches the worker and completes the Hello handshake.
func Start(ctx context.Context, spec Spec, logger *slog.Logger) (*Client, error) {
	command := strings.TrimSpace(spec.Command)
	if command == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "start", "worker.command is empty", nil)
	}
	logger = logging.NewComponentLogger(logger, "pyworker")

	// The process outlives ctx; Close stops it.
	cmd := exec.Command(command, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, stageName, "start", command, err)
		}
		return nil, services.Wrap(services.ErrExternalTool, stageName, "start", command, err)
	}
	logger.Info("model worker started",
		logging.String("command", command),
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldEventType, "worker_started"),
	)

	go forwardStderr(stderr, logger)

	client := NewClient(stdioConn{ReadCloser: stdout, WriteCloser: stdin},
		WithLogger(logger), WithCallTimeout(spec.CallTimeout))
	client.cmd = cmd
	client.waitDone = make(chan struct{})
	go func() {
		client.waitErr = cmd.Wait()
		close(client.waitDone)
	}()

	helloCtx := ctx
	if spec.StartupTimeout > 0 {
		var cancel context.CancelFunc
		helloCtx, cancel = context.WithTimeout(ctx, spec.StartupTimeout)
		defer cancel()
	}
	hello, err := client.Hello(helloCtx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("model worker ready",
		logging.String("device", hello.Device),
		logging.String("runtime", hello.Runtime),
		logging.String(logging.FieldEventType, "worker_ready"),
	)
	return client, nil
}

func forwardStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			logger.Debug(line, logging.String(logging.FieldEventType, "worker_stderr"))
		}
	}
}

// Hello performs the protocol handshake.
func (c *Client) Hello(ctx context.Context) (HelloReply, error) {
	var reply HelloReply
	if err := c.Call(ctx, "Worker.Hello", HelloRequest{Protocol: ProtocolVersion}, &reply); err != nil {
		return reply, err
	}
	if reply.Protocol != ProtocolVersion {
		return reply, services.Wrap(services.ErrConfiguration, stageName, "hello",
			fmt.Sprintf("worker speaks protocol %d, want %d", reply.Protocol, ProtocolVersion), nil)
	}
	return reply, nil
}

// Call invokes method and decodes the reply. Worker-side failures are tagged
// ErrExternalTool; an expired context is tagged ErrTimeout.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return services.Wrap(services.ErrExternalTool, stageName, method, "worker is closed", nil)
	}
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	requestID, _ := services.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	started := time.Now()
	call := c.rpc.Go(method, args, reply, make(chan *rpc.Call, 1))

	select {
	case <-call.Done:
	case <-ctx.Done():
		c.closeLocked()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stageName, method, "call exceeded its deadline", ctx.Err())
		}
		return ctx.Err()
	}

	c.logger.Debug("worker call finished",
		logging.String("method", method),
		logging.String(logging.FieldCorrelationID, requestID),
		logging.Duration("elapsed", time.Since(started)),
	)
	if call.Error == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(call.Error, &serverErr) {
		return services.Wrap(services.ErrExternalTool, stageName, method, string(serverErr), nil)
	}
	if errors.Is(call.Error, rpc.ErrShutdown) || errors.Is(call.Error, io.ErrUnexpectedEOF) || errors.Is(call.Error, io.EOF) {
		return services.Wrap(services.ErrExternalTool, stageName, method, "worker exited", c.exitErr())
	}
	return services.Wrap(services.ErrExternalTool, stageName, method, "transport failure", call.Error)
}

// Close shuts down the connection and stops the worker process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rpc.Close()
	if errors.Is(err, rpc.ErrShutdown) {
		err = nil
	}
	if c.cmd == nil {
		return err
	}
	// Closing stdin asks the worker to exit; kill it if it lingers.
	select {
	case <-c.waitDone:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.waitDone
	}
	return err
}

func (c *Client) exitErr() error {
	if c.waitDone == nil {
		return nil
	}
	select {
	case <-c.waitDone:
		return c.waitErr
	case <-time.After(time.Second):
		return nil
	}
}
