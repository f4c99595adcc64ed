package recipebook

import "github.com/grapevine-net/grapevine/gvpeer"

// Recipe is one recipe, authored locally or learned from a peer.
type Recipe struct {
	// ID is unique within the authoring node.
	// IDs are generated, never user-supplied.
	ID string

	Name         string
	Ingredients  []string
	Instructions string

	// Published reports whether the author shared the recipe
	// with the network.
	Published bool

	// Origin is the node the recipe was learned from.
	// Empty for locally authored recipes.
	Origin gvpeer.ID
}

// Local reports whether the recipe was authored by this node.
func (r Recipe) Local() bool {
	return r.Origin == ""
}

// ListMode selects which recipes a listing includes.
type ListMode int

const (
	// ListAll includes local and remote recipes.
	ListAll ListMode = iota

	// ListLocal includes only recipes this node authored.
	ListLocal
)

func (m ListMode) String() string {
	switch m {
	case ListAll:
		return "all"
	case ListLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ValidationError indicates user input that cannot become a recipe.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid recipe: " + e.Reason
}

// NotFoundError indicates an operation on a recipe ID
// that does not exist in the local partition.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "no local recipe with id " + e.ID
}
