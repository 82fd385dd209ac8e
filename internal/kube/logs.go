package kube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// LogOptions selects which container logs to read.
type LogOptions struct {
	Container string
	// TailLines limits output to the last N lines when > 0.
	TailLines int64
	// Previous reads the logs of the previous container instance.
	Previous   bool
	Timestamps bool
}

func (o LogOptions) query(follow bool) string {
	q := url.Values{}
	if o.Container != "" {
		q.Set("container", o.Container)
	}
	if o.TailLines > 0 {
		q.Set("tailLines", strconv.FormatInt(o.TailLines, 10))
	}
	if o.Previous {
		q.Set("previous", "true")
	}
	if o.Timestamps {
		q.Set("timestamps", "true")
	}
	if follow {
		q.Set("follow", "true")
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) podLogPath(name, ns string) (string, error) {
	path, err := podResource.itemPath(c.namespace(ns), name)
	if err != nil {
		return "", err
	}
	return path + "/log", nil
}

// PodLogs returns the current log text of a pod container.
func (c *Client) PodLogs(ctx context.Context, name, ns string, opts LogOptions) (string, error) {
	path, err := c.podLogPath(name, ns)
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, http.MethodGet, path+opts.query(false), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading logs of pod %s: %w", name, err)
	}
	return string(data), nil
}

// StreamPodLogs follows a pod container's log. The caller closes the
// returned reader; cancelling ctx ends the stream.
func (c *Client) StreamPodLogs(ctx context.Context, name, ns string, opts LogOptions) (io.ReadCloser, error) {
	path, err := c.podLogPath(name, ns)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, http.MethodGet, path+opts.query(true), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
