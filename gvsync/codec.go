package gvsync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/recipebook"
)

// Wire type tags. The names predate this implementation;
// changing them would cut the node off from existing peers.
const (
	typeListAllRequest    = "ListAllRequest"
	typeListLocalRequest  = "ListLocalRequest"
	typeListAllResponse   = "ListAllResponse"
	typeListLocalResponse = "ListLocalResponse"
	typeRecipePublished   = "RecipePublished"
)

// UnknownTypeError indicates a payload whose type tag
// this node does not understand.
// Such payloads are dropped, never fatal:
// a newer peer may legitimately speak messages we don't know.
type UnknownTypeError struct {
	Type string
}

func (e UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown sync message type %q", e.Type)
}

var (
	ErrMissingRequester = errors.New("sync request carries no requester")
	ErrMissingReceiver  = errors.New("sync response carries no receiver")
)

// wireMessage is the JSON layer under every sync message.
// Exactly which fields are set depends on the type tag.
type wireMessage struct {
	Type      string          `json:"type"`
	Requester string          `json:"requester,omitempty"`
	Receiver  string          `json:"receiver,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// wireRecipe is the recipe encoding fixed by the protocol.
// Note the wire calls the published flag "public".
type wireRecipe struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Ingredients  []string `json:"ingredients"`
	Instructions string   `json:"instructions"`
	Public       bool     `json:"public"`
}

func toWireRecipe(r recipebook.Recipe) wireRecipe {
	return wireRecipe{
		ID:           r.ID,
		Name:         r.Name,
		Ingredients:  r.Ingredients,
		Instructions: r.Instructions,
		Public:       r.Published,
	}
}

func (wr wireRecipe) toRecipe() recipebook.Recipe {
	return recipebook.Recipe{
		ID:           wr.ID,
		Name:         wr.Name,
		Ingredients:  wr.Ingredients,
		Instructions: wr.Instructions,
		Published:    wr.Public,
	}
}

func requestType(mode recipebook.ListMode) string {
	if mode == recipebook.ListLocal {
		return typeListLocalRequest
	}
	return typeListAllRequest
}

func responseType(mode recipebook.ListMode) string {
	if mode == recipebook.ListLocal {
		return typeListLocalResponse
	}
	return typeListAllResponse
}

// EncodeListRequest encodes req for use as a gossip payload.
func EncodeListRequest(req ListRequest) ([]byte, error) {
	if req.Requester == "" {
		return nil, ErrMissingRequester
	}

	b, err := json.Marshal(wireMessage{
		Type:      requestType(req.Mode),
		Requester: string(req.Requester),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode list request: %w", err)
	}
	return b, nil
}

// EncodeListResponse encodes resp for use as a gossip payload.
func EncodeListResponse(resp ListResponse) ([]byte, error) {
	if resp.Receiver == "" {
		return nil, ErrMissingReceiver
	}

	recipes := make([]wireRecipe, len(resp.Recipes))
	for i, r := range resp.Recipes {
		recipes[i] = toWireRecipe(r)
	}

	data, err := json.Marshal(recipes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipes: %w", err)
	}

	b, err := json.Marshal(wireMessage{
		Type:     responseType(resp.Mode),
		Receiver: string(resp.Receiver),
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode list response: %w", err)
	}
	return b, nil
}

// EncodePublishedAnnouncement encodes the announcement
// for use as a gossip payload.
func EncodePublishedAnnouncement(a PublishedAnnouncement) ([]byte, error) {
	data, err := json.Marshal(toWireRecipe(a.Recipe))
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipe: %w", err)
	}

	b, err := json.Marshal(wireMessage{
		Type: typeRecipePublished,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode published announcement: %w", err)
	}
	return b, nil
}

// Decode parses a gossip payload into one of the sync message types.
//
// Errors from Decode mean the payload is malformed or unknown;
// callers drop the message and must not forward a decode failure
// into any state change.
func Decode(payload []byte) (Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(payload, &wm); err != nil {
		return nil, fmt.Errorf("failed to decode sync message: %w", err)
	}

	switch wm.Type {
	case typeListAllRequest, typeListLocalRequest:
		if wm.Requester == "" {
			return nil, ErrMissingRequester
		}

		mode := recipebook.ListAll
		if wm.Type == typeListLocalRequest {
			mode = recipebook.ListLocal
		}
		return ListRequest{
			Mode:      mode,
			Requester: gvpeer.ID(wm.Requester),
		}, nil

	case typeListAllResponse, typeListLocalResponse:
		if wm.Receiver == "" {
			return nil, ErrMissingReceiver
		}

		var recipes []wireRecipe
		if len(wm.Data) > 0 {
			if err := json.Unmarshal(wm.Data, &recipes); err != nil {
				return nil, fmt.Errorf("failed to decode response recipes: %w", err)
			}
		}

		out := make([]recipebook.Recipe, len(recipes))
		for i, wr := range recipes {
			out[i] = wr.toRecipe()
		}

		mode := recipebook.ListAll
		if wm.Type == typeListLocalResponse {
			mode = recipebook.ListLocal
		}
		return ListResponse{
			Mode:     mode,
			Receiver: gvpeer.ID(wm.Receiver),
			Recipes:  out,
		}, nil

	case typeRecipePublished:
		if len(wm.Data) == 0 {
			return nil, errors.New("published announcement carries no recipe")
		}

		var wr wireRecipe
		if err := json.Unmarshal(wm.Data, &wr); err != nil {
			return nil, fmt.Errorf("failed to decode announced recipe: %w", err)
		}
		return PublishedAnnouncement{Recipe: wr.toRecipe()}, nil

	default:
		return nil, UnknownTypeError{Type: wm.Type}
	}
}
