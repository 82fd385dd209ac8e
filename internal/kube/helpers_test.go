package kube

import (
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// chunkedBody returns one chunk per Read call, so tests control exactly
// where read boundaries fall.
type chunkedBody struct {
	chunks []string
	closed atomic.Bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.closed.Store(true)
	return nil
}

// streamClient returns a Client whose every request is answered with the
// given chunks as a 200 event stream.
func streamClient(chunks ...string) (*Client, *chunkedBody, *http.Request) {
	body := &chunkedBody{chunks: chunks}
	var seen http.Request
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = *r
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:       body,
			Request:    r,
		}, nil
	})}
	return New(Config{BaseURL: "http://cluster.test", Namespace: "demo"}, WithHTTPClient(hc)), body, &seen
}

func stringResponse(r *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

// recorder collects StreamHandler callbacks.
type recorder struct {
	chunks   []string
	sessions []string
	progress []Progress
	done     []string
	errs     []error
}

func (r *recorder) handler() StreamHandler {
	return StreamHandler{
		OnChunk:    func(s string) { r.chunks = append(r.chunks, s) },
		OnSession:  func(s string) { r.sessions = append(r.sessions, s) },
		OnProgress: func(p Progress) { r.progress = append(r.progress, p) },
		OnDone:     func(s string) { r.done = append(r.done, s) },
		OnError:    func(err error) { r.errs = append(r.errs, err) },
	}
}
