package gvdisco_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grapevine-net/grapevine/gvdisco"
)

func TestBeacon_roundTrip(t *testing.T) {
	t.Parallel()

	want := gvdisco.Beacon{
		ID:    "fa1afe1",
		Addrs: []string{"192.168.1.7:9999", "10.0.0.7:9999"},
		Name:  "kitchen-pi",
	}

	data, err := gvdisco.EncodeBeacon(want)
	require.NoError(t, err)

	got, err := gvdisco.DecodeBeacon(data)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEncodeBeacon_omitsEmptyName(t *testing.T) {
	t.Parallel()

	data, err := gvdisco.EncodeBeacon(gvdisco.Beacon{
		ID:    "fa1afe1",
		Addrs: []string{"192.168.1.7:9999"},
	})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	require.NotContains(t, fields, "name")
}

func TestEncodeBeacon_invalid(t *testing.T) {
	t.Parallel()

	t.Run("empty ID", func(t *testing.T) {
		t.Parallel()

		_, err := gvdisco.EncodeBeacon(gvdisco.Beacon{
			Addrs: []string{"192.168.1.7:9999"},
		})
		require.ErrorIs(t, err, gvdisco.ErrEmptyBeaconID)
	})

	t.Run("no addresses", func(t *testing.T) {
		t.Parallel()

		_, err := gvdisco.EncodeBeacon(gvdisco.Beacon{
			ID: "fa1afe1",
		})
		require.ErrorIs(t, err, gvdisco.ErrNoBeaconAddrs)
	})

	t.Run("oversized", func(t *testing.T) {
		t.Parallel()

		_, err := gvdisco.EncodeBeacon(gvdisco.Beacon{
			ID:    "fa1afe1",
			Addrs: []string{"192.168.1.7:9999"},
			Name:  strings.Repeat("n", gvdisco.MaxBeaconSize),
		})

		var sizeErr gvdisco.BeaconSizeError
		require.ErrorAs(t, err, &sizeErr)
		require.Greater(t, sizeErr.Size, gvdisco.MaxBeaconSize)
	})
}

func TestDecodeBeacon_invalid(t *testing.T) {
	t.Parallel()

	tt := []struct {
		name string
		data string
	}{
		{name: "malformed JSON", data: `{"id":"x"`},
		{name: "empty ID", data: `{"id":"","addrs":["192.168.1.7:9999"]}`},
		{name: "missing ID", data: `{"addrs":["192.168.1.7:9999"]}`},
		{name: "no addresses", data: `{"id":"fa1afe1","addrs":[]}`},
		{name: "missing addresses", data: `{"id":"fa1afe1"}`},
		{name: "oversized", data: strings.Repeat(" ", gvdisco.MaxBeaconSize+1)},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := gvdisco.DecodeBeacon([]byte(tc.data))
			require.Error(t, err)
		})
	}
}
