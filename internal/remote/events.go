package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// eventBuffer is how many parsed events wait for a slow reader before the stream
// stops being read.
const eventBuffer = 64

// Subscribe implements store.ChangeFeed over the server's Server-Sent Events stream.
// It returns once the server has registered the subscription, so a document read
// after Subscribe returns misses no later change.
func (c *Client) Subscribe(ctx context.Context, collection, key string) (store.Subscription, error) {
	if collection != repository.SessionsCollection {
		return nil, fmt.Errorf("%w: no change-feed for %q", store.ErrUnsupported, collection)
	}
	path, err := docPath(collection, key)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, http.MethodGet, path+"/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		c.noteTransport(err)
		return nil, fmt.Errorf("%w: %v", store.ErrOffline, err)
	}
	c.noteTransport(nil)
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, statusError(resp)
	}

	r := bufio.NewReader(resp.Body)
	// The stream opens with a comment block once the subscription is registered.
	if _, err := readBlock(r); err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: event stream: %v", store.ErrOffline, err)
	}

	sub := &subscription{
		events: make(chan store.Event, eventBuffer),
		cancel: cancel,
	}
	go sub.read(streamCtx, key, r, resp.Body)
	return sub, nil
}

type subscription struct {
	events chan store.Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Events() <-chan store.Event {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// read parses events until the stream ends, then closes the events channel.
func (s *subscription) read(ctx context.Context, key string, r *bufio.Reader, body io.Closer) {
	defer close(s.events)
	defer body.Close()
	defer s.Close()

	for {
		data, err := readBlock(r)
		if err != nil {
			if ctx.Err() == nil {
				glog.V(1).Infof("[remote] event stream of %s ended: %v", key, err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var ev store.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			glog.Warningf("[remote] skipping malformed event on %s: %v", key, err)
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// readBlock reads one SSE block, up to the next blank line, and returns its data
// lines joined by newlines. Comments, ids and event names are skipped.
func readBlock(r *bufio.Reader) ([]byte, error) {
	var data [][]byte
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			return bytes.Join(data, []byte("\n")), nil
		}
		if field, value, ok := bytes.Cut(line, []byte(":")); ok && string(field) == "data" {
			data = append(data, bytes.TrimPrefix(value, []byte(" ")))
		}
	}
}
