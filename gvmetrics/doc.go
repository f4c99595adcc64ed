// Package gvmetrics defines the Prometheus instrumentation
// for the gossip engine.
//
// The engine never serves HTTP itself;
// it only counts, and the embedding process decides
// whether and where to expose the registry.
package gvmetrics
