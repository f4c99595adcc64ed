package gvsync

import (
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/recipebook"
)

// Topic is the gossip topic all sync traffic travels on.
const Topic = "recipes"

// Message is the closed set of payloads the sync protocol understands.
// [Decode] returns one of [ListRequest], [ListResponse],
// or [PublishedAnnouncement]; the kernel dispatches on the concrete type.
type Message interface {
	isSyncMessage()
}

// ListRequest asks every node to reveal its recipes.
//
// Requester is who asked; responders address their ListResponse to it.
type ListRequest struct {
	Mode recipebook.ListMode

	Requester gvpeer.ID
}

// ListResponse carries one node's recipes back to a requester.
//
// It is flooded like everything else, so it reaches every node;
// only the node whose ID equals Receiver acts on it.
type ListResponse struct {
	Mode recipebook.ListMode

	Receiver gvpeer.ID

	Recipes []recipebook.Recipe
}

// PublishedAnnouncement tells the network about one newly
// published recipe, so peers learn it without polling.
type PublishedAnnouncement struct {
	Recipe recipebook.Recipe
}

func (ListRequest) isSyncMessage()           {}
func (ListResponse) isSyncMessage()          {}
func (PublishedAnnouncement) isSyncMessage() {}
