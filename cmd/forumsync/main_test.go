package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func backend(t *testing.T) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /wallet/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"balance": 1200}`))
	})
	mux.HandleFunc("GET /boosts/daily", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"limit": 3, "remaining": 2}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("FORUMSYNC_CONFIG", "")
	t.Setenv("FORUMSYNC_API_URL", srv.URL)
	t.Setenv("FORUMSYNC_TOKEN", "tok")
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"watch", "balance"}, names)
}

func TestBalanceCommand_Text(t *testing.T) {
	backend(t)

	out, err := execute(t, "balance")

	require.NoError(t, err)
	assert.Equal(t, "Balance: 1200 coins\nBoosts left today: 2 of 3\n", out)
}

func TestBalanceCommand_JSON(t *testing.T) {
	backend(t)

	out, err := execute(t, "balance", "--json")

	require.NoError(t, err)
	assert.JSONEq(t, `{"balance": 1200, "boosts_remaining": 2, "boost_limit": 3}`, out)
}

func TestBalanceCommand_Unauthorized(t *testing.T) {
	backend(t)
	t.Setenv("FORUMSYNC_TOKEN", "wrong")

	_, err := execute(t, "balance")

	assert.Error(t, err)
}

func TestBalanceCommand_BadConfig(t *testing.T) {
	t.Setenv("FORUMSYNC_CONFIG", "")
	t.Setenv("FORUMSYNC_API_URL", "not a url")

	_, err := execute(t, "balance")

	assert.ErrorContains(t, err, "load config")
}
