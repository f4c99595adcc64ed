// Package recipebook stores the application's recipes,
// keeping locally authored recipes
// strictly apart from recipes learned over the network.
//
// The separation is what makes the sync protocol safe to run:
// merging a peer's response can never alter what this node authored.
package recipebook
