package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminClient(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/dialogs":
			_, _ = w.Write([]byte(`{"dialogs":[]}`))
		case "/v1/peers/7/messages":
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"empty_message","message":"nothing to send"}}`))
		case "/v1/peers/7/read":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)

	c := newAdminClient(srv.URL + "/")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, c.get(ctx, &out, "/v1/dialogs"))
	require.Equal(t, "{\n  \"dialogs\": []\n}\n", out.String())

	err := c.post(ctx, &out, "/v1/peers/7/messages", map[string]any{"text": " "})
	require.EqualError(t, err, "empty_message: nothing to send (400)")
	require.Equal(t, " ", got["text"])

	out.Reset()
	require.NoError(t, c.post(ctx, &out, "/v1/peers/7/read", map[string]int64{"max_id": 3}))
	require.Equal(t, "ok\n", out.String())
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "dialogs", "history", "send", "read"} {
		require.True(t, names[want], "missing %s", want)
	}

	_, err := parsePeer("0")
	require.Error(t, err)
	n, err := parsePeer("-500")
	require.NoError(t, err)
	require.Equal(t, int64(-500), n)
}
