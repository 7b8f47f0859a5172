// Package script builds ordered command batches for remote execution. A
// Script pairs each command with a future resolved from the matching batch
// result; transfer commands stage their payloads through shared storage in
// before/after hooks.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/storage"
)

// Env is what commands see in their hooks.
type Env struct {
	// Storage publishes transfer payloads. Nil when the script carries no
	// transfer commands.
	Storage storage.Provider
}

// Command is one step of a script. Evaluate produces the wire form; Before
// runs ahead of batch submission and After once the command's result is in.
type Command interface {
	// Evaluate returns the wire form of the command.
	Evaluate() (rest.ExeCommand, error)

	// Before prepares external state the wire form refers to.
	Before(ctx context.Context, env *Env) error

	// After consumes external state once the command finished.
	After(ctx context.Context, env *Env) error
}

// noHooks is embedded by commands without external state.
type noHooks struct{}

func (noHooks) Before(context.Context, *Env) error { return nil }
func (noHooks) After(context.Context, *Env) error  { return nil }

// Deploy deploys the execution environment on the provider.
type Deploy struct{ noHooks }

// Evaluate implements Command.
func (Deploy) Evaluate() (rest.ExeCommand, error) {
	return rest.ExeCommand{Deploy: &rest.DeployCommand{}}, nil
}

// Start starts the deployed environment.
type Start struct {
	noHooks
	Args []string
}

// Evaluate implements Command.
func (c Start) Evaluate() (rest.ExeCommand, error) {
	return rest.ExeCommand{Start: &rest.StartCommand{Args: c.Args}}, nil
}

// Terminate tears the environment down.
type Terminate struct{ noHooks }

// Evaluate implements Command.
func (Terminate) Evaluate() (rest.ExeCommand, error) {
	return rest.ExeCommand{Terminate: &rest.TerminateCommand{}}, nil
}

// Run executes an entrypoint inside the environment. Output capture
// defaults to streaming for both streams; set Stdout/Stderr to override.
type Run struct {
	noHooks
	Entrypoint string
	Args       []string
	Env        map[string]string
	Stdout     *rest.Capture
	Stderr     *rest.Capture
}

// NewRun returns a Run with streaming capture of stdout and stderr.
func NewRun(entrypoint string, args ...string) *Run {
	return &Run{
		Entrypoint: entrypoint,
		Args:       args,
		Stdout:     &rest.Capture{Mode: rest.CaptureModeStream},
		Stderr:     &rest.Capture{Mode: rest.CaptureModeStream},
	}
}

// Evaluate implements Command.
func (c *Run) Evaluate() (rest.ExeCommand, error) {
	if c.Entrypoint == "" {
		return rest.ExeCommand{}, fmt.Errorf("run: empty entrypoint")
	}
	return rest.ExeCommand{Run: &rest.RunCommand{
		Entrypoint: c.Entrypoint,
		Args:       c.Args,
		Env:        c.Env,
		Stdout:     c.Stdout,
		Stderr:     c.Stderr,
	}}, nil
}

// send uploads a payload in Before and transfers it into the container.
type send struct {
	to     string
	open   func() (io.ReadCloser, error)
	source storage.Source
}

func (c *send) Before(ctx context.Context, env *Env) error {
	if env.Storage == nil {
		return fmt.Errorf("send %s: no storage provider configured", c.to)
	}
	r, err := c.open()
	if err != nil {
		return err
	}
	defer r.Close()

	src, err := env.Storage.Upload(ctx, r)
	if err != nil {
		return err
	}
	c.source = src
	return nil
}

func (c *send) After(ctx context.Context, env *Env) error {
	if c.source == nil {
		return nil
	}
	err := c.source.Close(ctx)
	c.source = nil
	return err
}

// Evaluate implements Command. Valid only after Before published the
// payload.
func (c *send) Evaluate() (rest.ExeCommand, error) {
	if c.source == nil {
		return rest.ExeCommand{}, fmt.Errorf("send %s: payload not published", c.to)
	}
	return rest.ExeCommand{Transfer: &rest.TransferCommand{
		From: c.source.URL(),
		To:   "container:" + c.to,
	}}, nil
}

// NewSendBytes transfers an in-memory payload to a container path.
func NewSendBytes(data []byte, to string) Command {
	return &send{to: to, open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// NewSendFile transfers a local file to a container path.
func NewSendFile(localPath, to string) Command {
	return &send{to: to, open: func() (io.ReadCloser, error) {
		return os.Open(localPath)
	}}
}

// NewSendJSON transfers the JSON encoding of v to a container path.
func NewSendJSON(v any, to string) Command {
	return &send{to: to, open: func() (io.ReadCloser, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("send json: %w", err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// download allocates a destination in Before, transfers a container path
// into it and hands the content to a consumer in After.
type download struct {
	from    string
	limit   int64
	consume func(ctx context.Context, data []byte) error
	dest    storage.Destination
}

// downloadSizeLimit caps in-memory downloads.
const downloadSizeLimit = 64 << 20

func (c *download) Before(ctx context.Context, env *Env) error {
	if env.Storage == nil {
		return fmt.Errorf("download %s: no storage provider configured", c.from)
	}
	dest, err := env.Storage.NewDestination(ctx)
	if err != nil {
		return err
	}
	c.dest = dest
	return nil
}

func (c *download) After(ctx context.Context, env *Env) error {
	if c.dest == nil {
		return nil
	}
	defer func() {
		c.dest.Close(ctx)
		c.dest = nil
	}()

	data, err := c.dest.Bytes(ctx, c.limit)
	if err != nil {
		return err
	}
	return c.consume(ctx, data)
}

// Evaluate implements Command. Valid only after Before allocated the
// destination.
func (c *download) Evaluate() (rest.ExeCommand, error) {
	if c.dest == nil {
		return rest.ExeCommand{}, fmt.Errorf("download %s: destination not allocated", c.from)
	}
	return rest.ExeCommand{Transfer: &rest.TransferCommand{
		From: "container:" + c.from,
		To:   c.dest.URL(),
	}}, nil
}

// NewDownloadBytes transfers a container path back and passes the content
// to fn once the command finished.
func NewDownloadBytes(from string, fn func(ctx context.Context, data []byte) error) Command {
	return &download{from: from, limit: downloadSizeLimit, consume: fn}
}

// NewDownloadFile transfers a container path back into a local file.
func NewDownloadFile(from, localPath string) Command {
	return &download{from: from, limit: 0, consume: func(_ context.Context, data []byte) error {
		return os.WriteFile(localPath, data, 0o644)
	}}
}

// NewDownloadJSON transfers a container path back and decodes it into v.
func NewDownloadJSON(from string, v any) Command {
	return &download{from: from, limit: downloadSizeLimit, consume: func(_ context.Context, data []byte) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("download json %s: %w", from, err)
		}
		return nil
	}}
}
