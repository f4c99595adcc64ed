package gk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvsync"
	"github.com/grapevine-net/grapevine/gvwire"
	"github.com/grapevine-net/grapevine/recipebook"
)

// handleDelivered dispatches a gossip payload the router
// delivered to the local application layer.
func (k *Kernel) handleDelivered(e gvwire.Envelope) {
	msg, err := gvsync.Decode(e.Payload)
	if err != nil {
		k.log.Warn(
			"Dropping undecodable sync payload",
			"origin", e.Origin,
			"seq", e.Seq,
			"err", err,
		)
		return
	}

	switch m := msg.(type) {
	case gvsync.ListRequest:
		k.handleListRequest(m)
	case gvsync.ListResponse:
		k.handleListResponse(e.Origin, m)
	case gvsync.PublishedAnnouncement:
		k.handleAnnouncement(e.Origin, m)
	default:
		panic(fmt.Errorf("BUG: unhandled sync message type %T", msg))
	}
}

// handleListRequest queues a response addressed to the requester.
// The response goes on the reply queue rather than out directly,
// so producing it stays one event and publishing it another.
func (k *Kernel) handleListRequest(req gvsync.ListRequest) {
	if req.Requester == k.localID {
		// Our own request, relayed back with a different origin.
		return
	}

	recipes, err := k.store.List(req.Mode)
	if err != nil {
		k.log.Warn(
			"Failed to list recipes for peer request",
			"requester", req.Requester,
			"err", err,
		)
		return
	}

	// Drafts never leave the node; publishing is what shares a recipe.
	published := recipes[:0]
	for _, r := range recipes {
		if r.Published {
			published = append(published, r)
		}
	}

	k.enqueueReply(gvsync.ListResponse{
		Mode:     req.Mode,
		Receiver: req.Requester,
		Recipes:  published,
	})
}

// handleListResponse merges a response addressed to this node.
// Responses travel by flood, so everyone receives them;
// only the addressee acts.
func (k *Kernel) handleListResponse(origin gvpeer.ID, resp gvsync.ListResponse) {
	if resp.Receiver != k.localID {
		return
	}

	added, err := k.store.MergeRemote(origin, resp.Recipes)
	if err != nil {
		k.log.Warn(
			"Failed to merge recipes from peer",
			"origin", origin,
			"err", err,
		)
		return
	}

	k.log.Debug(
		"Merged recipe list response",
		"origin", origin,
		"received", len(resp.Recipes),
		"added", added,
	)

	k.publishOutput(formatListResponse(origin, resp.Recipes))
}

func (k *Kernel) handleAnnouncement(origin gvpeer.ID, a gvsync.PublishedAnnouncement) {
	added, err := k.store.MergeRemote(origin, []recipebook.Recipe{a.Recipe})
	if err != nil {
		k.log.Warn(
			"Failed to merge published recipe",
			"origin", origin,
			"err", err,
		)
		return
	}
	if added == 0 {
		// Shadowed by a local recipe with the same ID, or malformed.
		return
	}

	k.publishOutput(fmt.Sprintf(
		"peer %s published %s  %s", origin, a.Recipe.ID, a.Recipe.Name,
	))
}

func (k *Kernel) enqueueReply(resp gvsync.ListResponse) {
	select {
	case k.replies <- resp:
		// Okay.
	default:
		// Best effort: the requester can simply ask again.
		k.log.Warn(
			"Reply queue full, dropping list response",
			"receiver", resp.Receiver,
		)
	}
}

func (k *Kernel) publishReply(ctx context.Context, resp gvsync.ListResponse) {
	payload, err := gvsync.EncodeListResponse(resp)
	if err != nil {
		k.log.Warn(
			"Failed to encode list response",
			"receiver", resp.Receiver,
			"err", err,
		)
		return
	}

	if _, err := k.router.Publish(ctx, time.Now(), gvsync.Topic, payload); err != nil {
		k.log.Warn(
			"Failed to flood list response",
			"receiver", resp.Receiver,
			"err", err,
		)
	}
}

func formatListResponse(origin gvpeer.ID, recipes []recipebook.Recipe) string {
	if len(recipes) == 0 {
		return fmt.Sprintf("no recipes from %s", origin)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recipes from %s:", len(recipes), origin)
	for _, r := range recipes {
		b.WriteByte('\n')
		b.WriteString(formatRecipeLine(r))
	}
	return b.String()
}
