package gvsync_test

import (
	"encoding/json"
	"testing"

	"github.com/grapevine-net/grapevine/gvsync"
	"github.com/grapevine-net/grapevine/recipebook"
	"github.com/stretchr/testify/require"
)

func TestCodec_listRequestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, mode := range []recipebook.ListMode{recipebook.ListAll, recipebook.ListLocal} {
		in := gvsync.ListRequest{Mode: mode, Requester: "node-a"}

		b, err := gvsync.EncodeListRequest(in)
		require.NoError(t, err)

		msg, err := gvsync.Decode(b)
		require.NoError(t, err)
		require.Equal(t, in, msg)
	}
}

func TestCodec_listResponseRoundTrip(t *testing.T) {
	t.Parallel()

	in := gvsync.ListResponse{
		Mode:     recipebook.ListAll,
		Receiver: "node-b",
		Recipes: []recipebook.Recipe{
			{
				ID:           "r1",
				Name:         "Soup",
				Ingredients:  []string{"water", "salt"},
				Instructions: "boil",
				Published:    true,
			},
		},
	}

	b, err := gvsync.EncodeListResponse(in)
	require.NoError(t, err)

	msg, err := gvsync.Decode(b)
	require.NoError(t, err)
	require.Equal(t, in, msg)
}

func TestCodec_publishedAnnouncementRoundTrip(t *testing.T) {
	t.Parallel()

	in := gvsync.PublishedAnnouncement{
		Recipe: recipebook.Recipe{ID: "r1", Name: "Soup", Published: true},
	}

	b, err := gvsync.EncodePublishedAnnouncement(in)
	require.NoError(t, err)

	msg, err := gvsync.Decode(b)
	require.NoError(t, err)
	require.Equal(t, in, msg)
}

func TestCodec_wireFormat(t *testing.T) {
	t.Parallel()

	// The exact field names are protocol, not implementation detail;
	// peers built against the original encoding must interoperate.
	b, err := gvsync.EncodeListResponse(gvsync.ListResponse{
		Mode:     recipebook.ListAll,
		Receiver: "node-b",
		Recipes: []recipebook.Recipe{
			{ID: "r1", Name: "Soup", Published: true},
		},
	})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	require.JSONEq(t, `"ListAllResponse"`, string(raw["type"]))
	require.JSONEq(t, `"node-b"`, string(raw["receiver"]))

	var recipes []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["data"], &recipes))
	require.Len(t, recipes, 1)

	// The published flag travels as "public".
	require.JSONEq(t, `true`, string(recipes[0]["public"]))
	require.JSONEq(t, `"r1"`, string(recipes[0]["id"]))
}

func TestCodec_requestTypeTags(t *testing.T) {
	t.Parallel()

	all, err := gvsync.EncodeListRequest(gvsync.ListRequest{
		Mode: recipebook.ListAll, Requester: "node-a",
	})
	require.NoError(t, err)
	require.Contains(t, string(all), `"ListAllRequest"`)

	local, err := gvsync.EncodeListRequest(gvsync.ListRequest{
		Mode: recipebook.ListLocal, Requester: "node-a",
	})
	require.NoError(t, err)
	require.Contains(t, string(local), `"ListLocalRequest"`)
}

func TestCodec_emptyResponseDecodesToEmptyRecipes(t *testing.T) {
	t.Parallel()

	b, err := gvsync.EncodeListResponse(gvsync.ListResponse{
		Mode:     recipebook.ListLocal,
		Receiver: "node-b",
	})
	require.NoError(t, err)

	msg, err := gvsync.Decode(b)
	require.NoError(t, err)

	resp, ok := msg.(gvsync.ListResponse)
	require.True(t, ok)
	require.Equal(t, recipebook.ListLocal, resp.Mode)
	require.Empty(t, resp.Recipes)
}

func TestDecode_errors(t *testing.T) {
	t.Parallel()

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":`))
		require.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":"FutureMessage"}`))

		var uerr gvsync.UnknownTypeError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, "FutureMessage", uerr.Type)
	})

	t.Run("request without requester", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":"ListAllRequest"}`))
		require.ErrorIs(t, err, gvsync.ErrMissingRequester)
	})

	t.Run("response without receiver", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":"ListAllResponse","data":[]}`))
		require.ErrorIs(t, err, gvsync.ErrMissingReceiver)
	})

	t.Run("response with malformed data", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":"ListAllResponse","receiver":"x","data":{"not":"an array"}}`))
		require.Error(t, err)
	})

	t.Run("announcement without recipe", func(t *testing.T) {
		t.Parallel()

		_, err := gvsync.Decode([]byte(`{"type":"RecipePublished"}`))
		require.Error(t, err)
	})
}

func TestEncode_validation(t *testing.T) {
	t.Parallel()

	_, err := gvsync.EncodeListRequest(gvsync.ListRequest{Mode: recipebook.ListAll})
	require.ErrorIs(t, err, gvsync.ErrMissingRequester)

	_, err = gvsync.EncodeListResponse(gvsync.ListResponse{Mode: recipebook.ListAll})
	require.ErrorIs(t, err, gvsync.ErrMissingReceiver)
}
