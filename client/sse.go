package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

// Event names sent on the /stream endpoint.
const (
	EventBoard = "board"
	EventStats = "stats"
)

const (
	minBackoff = time.Second
	maxBackoff = 5 * time.Second
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// SubscribeBoard delivers every board payload, in order, until cancel is
// called or ctx is done.
func (c *Client) SubscribeBoard(ctx context.Context, fn func(domain.BoardPayload)) (cancel func(), err error) {
	return c.Subscribe(ctx, func(ev Event) {
		if ev.Name != EventBoard {
			return
		}
		var p domain.BoardPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.WithError(err).Warn("malformed board event")
			return
		}
		p.Columns = p.Columns.Clone()
		fn(p)
	})
}

// SubscribeStats delivers session statistics whenever they change.
func (c *Client) SubscribeStats(ctx context.Context, fn func(domain.Stats)) (cancel func(), err error) {
	return c.Subscribe(ctx, func(ev Event) {
		if ev.Name != EventStats {
			return
		}
		var st domain.Stats
		if err := json.Unmarshal(ev.Data, &st); err != nil {
			log.WithError(err).Warn("malformed stats event")
			return
		}
		fn(st)
	})
}

// Subscribe opens the event stream in the background and calls fn for every
// event. Dropped connections are re-established with a backoff that starts at
// one second and doubles up to five. The returned cancel stops the stream and
// waits for the reader to exit.
func (c *Client) Subscribe(ctx context.Context, fn func(Event)) (cancel func(), err error) {
	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		backoff := minBackoff
		for {
			connected, err := c.stream(ctx, fn)
			if ctx.Err() != nil {
				return
			}
			if connected {
				backoff = minBackoff
			}
			log.WithError(err).WithField("retry_in", backoff).Debug("event stream closed, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}()
	return func() {
		stop()
		<-done
	}, nil
}

func (c *Client) stream(ctx context.Context, fn func(Event)) (connected bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.Stream.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, readError(resp)
	}
	return true, ReadEvents(resp.Body, fn)
}

// ReadEvents parses a text/event-stream body and calls fn for every complete
// event. Comment lines are ignored. An event without a name is reported as
// "message".
func ReadEvents(r io.Reader, fn func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				fn(Event{Name: name, Data: []byte(strings.Join(data, "\n"))})
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
