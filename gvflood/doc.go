// Package gvflood implements flood-based publish/subscribe:
// every novel message is forwarded to every connected peer
// except the one it arrived from.
//
// Loop prevention comes from the [SeenSet], not the forwarding exclusion;
// the exclusion only trims redundant traffic.
// Delivery is best effort and at most once per node.
package gvflood
