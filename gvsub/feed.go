package gvsub

import "context"

// Feed is a linked list of broadcast values
// with one writer and any number of readers.
// Each reader holds its own pointer into the list
// and advances independently of the others.
//
// A reader that stops advancing pins its current node
// and everything published after it,
// so abandoned readers leak memory until they resume or are dropped.
type Feed[T any] struct {
	// Ready is closed once Val and Next are safe to read.
	Ready chan struct{}

	Next *Feed[T]
	Val  T
}

// NewFeed returns an empty feed ready for its first Publish.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{
		Ready: make(chan struct{}),
	}
}

// Publish sets f's value, links in a fresh tail node,
// and closes f.Ready to release any blocked readers.
//
// Publishing twice on the same node panics;
// the writer must advance to f.Next after each call.
func (f *Feed[T]) Publish(v T) {
	f.Val = v
	f.Next = NewFeed[T]()
	close(f.Ready)
}

// RunChannelToFeed starts a goroutine that drains ch into a new feed,
// returning the feed's head and a done channel.
//
// The done channel is closed when the goroutine exits,
// either because ctx was canceled or because ch was closed.
// Values already published remain readable after done is closed.
func RunChannelToFeed[T any](ctx context.Context, ch <-chan T) (
	f *Feed[T], done <-chan struct{},
) {
	f = NewFeed[T]()
	doneCh := make(chan struct{})

	go runChannelToFeed(ctx, ch, f, doneCh)

	return f, doneCh
}

func runChannelToFeed[T any](
	ctx context.Context,
	ch <-chan T,
	f *Feed[T],
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-ch:
			if !ok {
				return
			}
			f.Publish(v)
			f = f.Next
		}
	}
}
