// Package chatclient opens chat streams over HTTP and reduces them into
// messages.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/chatstream/pkg/chatstream"
)

// DefaultStreamPath is appended to BaseURL when Config.StreamPath is empty.
const DefaultStreamPath = "/chat/stream"

// Config holds the connection settings for a stream server.
type Config struct {
	BaseURL    string
	StreamPath string
	// Timeout bounds a whole stream, headers and body. Zero means no limit;
	// use the context to cancel instead.
	Timeout time.Duration
}

// Request is the body posted to open a stream.
type Request struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content"`
}

// Client opens streams against one server.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// New creates a client with the given configuration.
func New(config *Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// URL returns the stream endpoint.
func (c *Client) URL() string {
	path := c.config.StreamPath
	if path == "" {
		path = DefaultStreamPath
	}
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

// Open posts req and returns the event stream body. The caller owns the
// returned reader and must close it.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return resp.Body, nil
}

// Stream opens req and reduces the response into msg, reporting every change
// to onUpdate.
//
// msg is set to loading before the request is sent. When the stream ends
// cleanly it becomes success unless the server reported an error event. When
// the stream cannot be opened or breaks off, msg becomes failed, onUpdate is
// called once more and the error is returned.
func (c *Client) Stream(ctx context.Context, req Request, msg *chatstream.Message, onUpdate func(*chatstream.Message), opts ...chatstream.Option) (chatstream.Stats, error) {
	notify := func() {
		if onUpdate != nil {
			onUpdate(msg)
		}
	}

	msg.Status = chatstream.StatusLoading
	notify()

	body, err := c.Open(ctx, req)
	if err != nil {
		msg.Status = chatstream.StatusFailed
		notify()
		return chatstream.Stats{}, err
	}

	stats, err := chatstream.Consume(ctx, body, msg, onUpdate, opts...)
	if err != nil {
		msg.Status = chatstream.StatusFailed
		notify()
		return stats, err
	}

	if msg.Status != chatstream.StatusError {
		msg.Status = chatstream.StatusSuccess
		notify()
	}
	return stats, nil
}

// StatusError is returned by Open when the server answers with anything
// other than 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream error (status %d): %s", e.Code, e.Body)
}
