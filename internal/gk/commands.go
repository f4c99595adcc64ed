package gk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grapevine-net/grapevine/gvsync"
	"github.com/grapevine-net/grapevine/recipebook"
)

// executeCommand parses and runs one line of user input.
//
// The surface:
//
//	ls p                                     known peers
//	ls r                                     all known recipes, plus a network refresh
//	ls r local                               locally authored recipes
//	create r <name>|<ingredient,...>|<instructions>
//	publish r <id>
func (k *Kernel) executeCommand(ctx context.Context, line string) (string, error) {
	line = strings.TrimSpace(line)

	switch line {
	case "ls p":
		return k.cmdListPeers(), nil
	case "ls r":
		return k.cmdListRecipes(ctx)
	case "ls r local":
		return k.cmdListLocalRecipes()
	}

	if rest, ok := strings.CutPrefix(line, "create r "); ok {
		return k.cmdCreateRecipe(rest)
	}
	if rest, ok := strings.CutPrefix(line, "publish r "); ok {
		return k.cmdPublishRecipe(ctx, rest)
	}

	return "", UnknownCommandError{Line: line}
}

func (k *Kernel) cmdListPeers() string {
	now := time.Now()

	var b strings.Builder
	for i, r := range k.table.All() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s  last seen %s ago",
			r.ID,
			strings.Join(r.Addrs, ","),
			now.Sub(r.LastSeen).Truncate(time.Second),
		)
	}
	return b.String()
}

// cmdListRecipes prints everything known right now
// and floods a list request so peers' recipes stream in;
// merged responses surface later on the output feed.
func (k *Kernel) cmdListRecipes(ctx context.Context) (string, error) {
	recipes, err := k.store.List(recipebook.ListAll)
	if err != nil {
		return "", err
	}

	k.floodListRequest(ctx)

	return formatRecipes(recipes), nil
}

func (k *Kernel) cmdListLocalRecipes() (string, error) {
	recipes, err := k.store.List(recipebook.ListLocal)
	if err != nil {
		return "", err
	}
	return formatRecipes(recipes), nil
}

func (k *Kernel) cmdCreateRecipe(rest string) (string, error) {
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return "", recipebook.ValidationError{
			Reason: "create r wants <name>|<ingredient,...>|<instructions>",
		}
	}

	var ingredients []string
	for _, ing := range strings.Split(parts[1], ",") {
		ing = strings.TrimSpace(ing)
		if ing != "" {
			ingredients = append(ingredients, ing)
		}
	}

	r, err := k.store.Create(parts[0], ingredients, strings.TrimSpace(parts[2]))
	if err != nil {
		return "", err
	}

	k.log.Info("Created recipe", "id", r.ID, "name", r.Name)
	return "created " + r.ID, nil
}

func (k *Kernel) cmdPublishRecipe(ctx context.Context, rest string) (string, error) {
	id := strings.TrimSpace(rest)
	if id == "" {
		return "", recipebook.ValidationError{Reason: "publish r wants a recipe id"}
	}

	r, err := k.store.Publish(id)
	if err != nil {
		return "", err
	}

	payload, err := gvsync.EncodePublishedAnnouncement(gvsync.PublishedAnnouncement{
		Recipe: r,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode publish announcement: %w", err)
	}

	if _, err := k.router.Publish(ctx, time.Now(), gvsync.Topic, payload); err != nil {
		// The flag already flipped; the recipe still travels
		// on the next list round trip.
		k.log.Warn(
			"Failed to announce published recipe",
			"id", r.ID,
			"err", err,
		)
	}

	return "published " + r.ID, nil
}

func (k *Kernel) floodListRequest(ctx context.Context) {
	payload, err := gvsync.EncodeListRequest(gvsync.ListRequest{
		Mode:      recipebook.ListAll,
		Requester: k.localID,
	})
	if err != nil {
		k.log.Warn("Failed to encode recipe list request", "err", err)
		return
	}

	if _, err := k.router.Publish(ctx, time.Now(), gvsync.Topic, payload); err != nil {
		k.log.Warn("Failed to flood recipe list request", "err", err)
	}
}

func formatRecipes(recipes []recipebook.Recipe) string {
	var b strings.Builder
	for i, r := range recipes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(formatRecipeLine(r))
	}
	return b.String()
}

func formatRecipeLine(r recipebook.Recipe) string {
	state := "draft"
	if r.Published {
		state = "published"
	}

	line := fmt.Sprintf("%s  %s  [%s]", r.ID, r.Name, state)
	if !r.Local() {
		line += "  (remote)"
	}
	return line
}
