package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// DefaultTimeout applies when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client talks to a running service.
type Client struct {
	Addr string
}

// Send delivers one command and waits for its response.
func (c *Client) Send(ctx context.Context, cmdType string) (models.Response, error) {
	network, address, err := ParseAddr(c.Addr)
	if err != nil {
		return models.Response{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return models.Response{}, models.NewError(models.KindTransport, "dial", fmt.Errorf("service not reachable at %s: %w", c.Addr, err))
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := WriteFrame(conn, models.Command{Type: cmdType}); err != nil {
		return models.Response{}, models.NewError(models.KindTransport, cmdType, err)
	}
	var resp models.Response
	if err := ReadFrame(conn, &resp); err != nil {
		return models.Response{}, models.NewError(models.KindTransport, cmdType, err)
	}
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) (models.Response, error) {
	return c.Send(ctx, models.CommandPing)
}

func (c *Client) Reload(ctx context.Context) (models.Response, error) {
	return c.Send(ctx, models.CommandReload)
}

// Status fetches and decodes the service status.
func (c *Client) Status(ctx context.Context) (models.ServiceStatus, error) {
	var st models.ServiceStatus
	resp, err := c.Send(ctx, models.CommandStatus)
	if err != nil {
		return st, err
	}
	if resp.Status != models.ResponseSuccess {
		return st, fmt.Errorf("status: %s", resp.Message)
	}
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
