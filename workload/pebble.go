// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"bytes"
	"context"

	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
)

// PebbleContainer drives a workload container through its pebble
// socket.
type PebbleContainer struct {
	pebble *client.Client
}

// NewPebbleContainer returns a container handle over the pebble socket
// at the given path.
func NewPebbleContainer(socketPath string) (*PebbleContainer, error) {
	pebble, err := client.New(&client.Config{Socket: socketPath})
	if err != nil {
		return nil, errors.Annotate(err, "opening pebble client")
	}
	return &PebbleContainer{pebble: pebble}, nil
}

// CanConnect is part of the Container interface.
func (c *PebbleContainer) CanConnect() bool {
	_, err := c.pebble.SysInfo()
	return err == nil
}

// Plan is part of the Container interface.
func (c *PebbleContainer) Plan() ([]byte, error) {
	plan, err := c.pebble.PlanBytes(&client.PlanOptions{})
	return plan, errors.Trace(err)
}

// AddLayer is part of the Container interface.
func (c *PebbleContainer) AddLayer(label string, layer []byte) error {
	return errors.Trace(c.pebble.AddLayer(&client.AddLayerOptions{
		Combine:   true,
		Label:     label,
		LayerData: layer,
	}))
}

// Services is part of the Container interface.
func (c *PebbleContainer) Services(names ...string) (map[string]bool, error) {
	infos, err := c.pebble.Services(&client.ServicesOptions{Names: names})
	if err != nil {
		return nil, errors.Trace(err)
	}
	running := make(map[string]bool, len(infos))
	for _, info := range infos {
		running[info.Name] = info.Current == client.StatusActive
	}
	return running, nil
}

// Restart is part of the Container interface.
func (c *PebbleContainer) Restart(ctx context.Context, names ...string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	changeID, err := c.pebble.Restart(&client.ServiceOptions{Names: names})
	if err != nil {
		return errors.Trace(err)
	}
	change, err := c.pebble.WaitChange(changeID, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if change.Err != "" {
		return errors.WithType(errors.New(change.Err), ErrChangeFailed)
	}
	return nil
}

// Exists is part of the Container interface.
func (c *PebbleContainer) Exists(path string) bool {
	_, err := c.pebble.ListFiles(&client.ListFilesOptions{Path: path, Itself: true})
	return err == nil
}

// Push is part of the Container interface.
func (c *PebbleContainer) Push(path string, content []byte) error {
	return errors.Trace(c.pebble.Push(&client.PushOptions{
		Source:   bytes.NewReader(content),
		Path:     path,
		MakeDirs: true,
	}))
}

// Pull is part of the Container interface.
func (c *PebbleContainer) Pull(path string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.pebble.Pull(&client.PullOptions{Path: path, Target: &buf}); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// RemovePath is part of the Container interface.
func (c *PebbleContainer) RemovePath(path string) error {
	return errors.Trace(c.pebble.RemovePath(&client.RemovePathOptions{Path: path}))
}

// Exec is part of the Container interface. Leaving stderr unwired
// makes pebble fold it into stdout.
func (c *PebbleContainer) Exec(ctx context.Context, command []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Trace(err)
	}
	var out bytes.Buffer
	process, err := c.pebble.Exec(&client.ExecOptions{
		Command: command,
		Stdout:  &out,
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := process.Wait(); err != nil {
		return out.String(), errors.Trace(err)
	}
	return out.String(), nil
}
