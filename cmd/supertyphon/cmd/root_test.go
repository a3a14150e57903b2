package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thingsServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/thing", http.StatusFound)
		case "/thing":
			b, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Method", r.Method)
			if len(b) == 0 {
				b = []byte(`{"name":"a"}`)
			}
			w.Write(b)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCmd(args ...string) (string, error) {
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	srv := thingsServer(t)

	out, err := runCmd("GET", srv.URL+"/thing",
		"-s", "200",
		"--expect-header", "Content-Type: /json/",
		"--expect-header", "X-Method: GET",
		"--expect-expr", `body.name == "a"`)
	require.NoError(t, err)
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "X-Method: GET")
	assert.Contains(t, out, `{"name":"a"}`)
}

func TestRunSendsData(t *testing.T) {
	srv := thingsServer(t)

	_, err := runCmd("POST", srv.URL+"/thing", "-d", `{"name":"b"}`, "--type", "json",
		"--expect-body", `{"name":"b"}`)
	require.NoError(t, err)
}

func TestRunFollowsRedirects(t *testing.T) {
	srv := thingsServer(t)

	_, err := runCmd("GET", srv.URL+"/old", "-s", "200")
	require.Error(t, err)
	assert.Equal(t, `expected 200 "OK", got 302 "Found"`, err.Error())

	_, err = runCmd("GET", srv.URL+"/old", "-r", "1", "-s", "200")
	require.NoError(t, err)
}

func TestRunFailures(t *testing.T) {
	srv := thingsServer(t)

	cases := []struct {
		name string
		args []string
	}{
		{"status", []string{"GET", srv.URL + "/missing", "-s", "200"}},
		{"header", []string{"GET", srv.URL + "/thing", "--expect-header", "X-Method: POST"}},
		{"expression", []string{"GET", srv.URL + "/thing", "--expect-expr", "status == 201"}},
		{"malformed header", []string{"GET", srv.URL + "/thing", "-H", "no-colon"}},
		{"missing url", []string{"GET"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := runCmd(c.args...)
			assert.Error(t, err)
		})
	}
}

func TestSplitHeader(t *testing.T) {
	name, value, err := splitHeader("Content-Type:  text/plain ")
	require.NoError(t, err)
	assert.Equal(t, "Content-Type", name)
	assert.Equal(t, "text/plain", value)

	_, _, err = splitHeader(": x")
	assert.Error(t, err)
}
