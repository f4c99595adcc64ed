package gvflood

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvmetrics"
)

// sendFrame is one unit of work for a send worker:
// a frame and the connection to put it on.
type sendFrame struct {
	Conn  gvconn.Conn
	Frame []byte
}

func runSendWorker(
	ctx context.Context,
	log *slog.Logger,
	wg *sync.WaitGroup,
	work <-chan sendFrame,
	timeout time.Duration,
	metrics *gvmetrics.Metrics,
) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Info(
				"Send worker stopping due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return

		case sf := <-work:
			sendCtx, cancel := context.WithTimeout(ctx, timeout)
			err := sf.Conn.Send(sendCtx, sf.Frame)
			cancel()

			if err != nil {
				// Soft failure: the peer stays in the fanout set
				// until liveness expiry removes it.
				metrics.SendFailures.Inc()
				log.Warn(
					"Failed to send gossip frame",
					"peer", sf.Conn.Peer(),
					"err", err,
				)
			}
		}
	}
}
