// This file handles the /api/v1/sessions routes: the live round documents every
// device of a round reads, writes and watches.
//
// A device writes with either a full replacement (PUT) or a merge (PUT ?merge=true),
// where null values delete the key they are stored under. Every write is fanned out
// to the watchers of the document over GET /sessions/:code/events, a Server-Sent
// Events stream of child-level change events.
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/trentd187/scorecard-sync/internal/models"
	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

// KeepAliveInterval is how often an idle event stream sends a comment line, so
// proxies don't close it and dead clients are noticed.
var KeepAliveInterval = 15 * time.Second

// GetSession returns a handler for GET /api/v1/sessions/:code.
// The raw document is returned so clients can diff it against their own copy.
func GetSession(sessions *repository.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := sessions.GetDocument(requestContext(c), c.Params("code"))
		if err != nil {
			return storeError(c, err)
		}
		return c.JSON(doc)
	}
}

// PutSession returns a handler for PUT /api/v1/sessions/:code.
// Without ?merge=true the body replaces the document and must decode as a session.
func PutSession(sessions *repository.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := c.Params("code")
		var doc store.Document
		if err := json.Unmarshal(c.Body(), &doc); err != nil || doc == nil {
			return badRequest(c, "body must be a JSON object")
		}

		ctx := requestContext(c)
		if c.QueryBool("merge") {
			if err := sessions.Merge(ctx, code, doc); err != nil {
				return storeError(c, err)
			}
			return c.SendStatus(fiber.StatusNoContent)
		}

		if _, err := models.DecodeSession(doc); err != nil {
			return badRequest(c, err.Error())
		}
		if err := sessions.PutDocument(ctx, code, doc); err != nil {
			return storeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DeleteSession returns a handler for DELETE /api/v1/sessions/:code.
// Watchers receive a document-removed event.
func DeleteSession(sessions *repository.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := sessions.Delete(requestContext(c), c.Params("code")); err != nil {
			return storeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// StreamSessionEvents returns a handler for GET /api/v1/sessions/:code/events.
//
// The subscription is registered before the response starts, and the stream opens
// with a ": subscribed" comment. A client that reads the document after seeing that
// line therefore misses no change made after its read. Each event is sent as
//
//	id: <event id>
//	event: added|changed|removed
//	data: <store.Event as JSON>
//
// The stream ends when the client goes away or the feed drops the subscription;
// clients resubscribe and re-read the document.
func StreamSessionEvents(sessions *repository.Sessions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Params point into fasthttp's request buffer, which is reused after the
		// handler returns; the stream outlives it.
		code := utils.CopyString(c.Params("code"))

		ctx, cancel := context.WithCancel(context.Background())
		sub, err := sessions.Subscribe(ctx, code)
		if err != nil {
			cancel()
			return storeError(c, err)
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cancel()
			defer sub.Close()
			glog.V(1).Infof("[sse] watching %s", code)

			fmt.Fprintf(w, ": subscribed %s\n\n", code)
			if err := w.Flush(); err != nil {
				return
			}

			keepAlive := time.NewTicker(KeepAliveInterval)
			defer keepAlive.Stop()
			for {
				select {
				case ev, open := <-sub.Events():
					if !open {
						glog.V(1).Infof("[sse] feed closed the stream of %s", code)
						return
					}
					data, err := json.Marshal(ev)
					if err != nil {
						glog.Warningf("[sse] skipping unencodable event on %s: %v", code, err)
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data)
				case <-keepAlive.C:
					fmt.Fprint(w, ": ping\n\n")
				}
				// Flush fails once the client has disconnected.
				if err := w.Flush(); err != nil {
					glog.V(1).Infof("[sse] client of %s went away", code)
					return
				}
			}
		}))
		return nil
	}
}
