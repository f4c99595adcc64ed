package gvtest

import (
	"testing"
	"time"
)

// soon is how long the Soon helpers wait before failing the test.
// It is far longer than any correctly behaving test should need,
// while still short enough to not stall a suite on a real deadlock.
const soon = 5 * time.Second

// SendSoon sends v on ch,
// failing the test if the send does not complete within a short timeout.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(soon)
	defer timer.Stop()

	select {
	case ch <- v:
		// Okay.
	case <-timer.C:
		t.Fatalf("failed to send value of type %T within %s", v, soon)
	}
}

// ReceiveSoon receives a value from ch and returns it,
// failing the test if no value arrives within a short timeout.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(soon)
	defer timer.Stop()

	var v T
	select {
	case v = <-ch:
		return v
	case <-timer.C:
		t.Fatalf("failed to receive value of type %T within %s", v, soon)
		panic("unreachable")
	}
}

// IsSending asserts that ch has a value immediately available
// (or is closed), returning the received value.
func IsSending[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	var v T
	select {
	case v = <-ch:
		return v
	default:
		t.Fatalf("expected channel of type %T to be sending, but it would have blocked", ch)
		panic("unreachable")
	}
}

// NotSending asserts that a receive from ch would block right now.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected channel to block, but received %v", v)
	default:
		// Okay.
	}
}
