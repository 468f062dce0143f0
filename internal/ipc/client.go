package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves daemon and pipeline status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Streamcast.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start brings the stream live.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Streamcast.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop ends the live stream.
func (c *Client) Stop(reason string) (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Streamcast.Stop", StopRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pause freezes the output on the current frame.
func (c *Client) Pause() (*PauseResponse, error) {
	var resp PauseResponse
	if err := c.client.Call("Streamcast.Pause", PauseRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resume continues live compositing after a pause.
func (c *Client) Resume() (*ResumeResponse, error) {
	var resp ResumeResponse
	if err := c.client.Call("Streamcast.Resume", ResumeRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Layers lists the scene in paint order.
func (c *Client) Layers() (*LayersResponse, error) {
	var resp LayersResponse
	if err := c.client.Call("Streamcast.Layers", LayersRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetVisibility toggles layers matched by symbolic name or kind.
func (c *Client) SetVisibility(targets []string, visible bool) (*SetVisibilityResponse, error) {
	var resp SetVisibilityResponse
	req := SetVisibilityRequest{Targets: targets, Visible: visible}
	if err := c.client.Call("Streamcast.SetVisibility", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat appends a message to the chat layers.
func (c *Client) Chat(author, text string) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.client.Call("Streamcast.Chat", ChatRequest{Author: author, Text: text}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists recent journal sessions, newest first.
func (c *Client) Sessions(limit int) (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.client.Call("Streamcast.Sessions", SessionsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Streamcast.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
