package admin

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/query"
	"github.com/maxpert/objectpack/vmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

func newServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	store := vmodel.NewStore("person",
		query.Record{"id": 1, "name": "Anna", "age": 30},
		query.Record{"id": 2, "name": "Boris", "age": 25},
		query.Record{"id": 3, "name": "Hanna", "age": 41},
	)
	c := pack.NewController(observer.New(observer.Options{Debug: true}))
	require.NoError(t, c.Register(pack.MustObjectPack(pack.Options{
		Name:          "people/PersonPack",
		Model:         "person",
		Source:        store,
		Columns:       []pack.Column{{DataIndex: "name", Searchable: true, Sortable: true}, {DataIndex: "age"}},
		ListSortOrder: []string{"name"},
		Form:          []pack.FormField{{Name: "name", Required: true}, {Name: "age", Type: "int"}},
	})))
	require.NoError(t, c.Observer().Subscribe(observer.Subscription{
		Name:    "noop",
		Factory: func() any { return &observer.Hooks{} },
	}))
	c.Freeze()

	srv := httptest.NewServer(NewRouter(NewHandlers(c), opts))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestActions(t *testing.T) {
	srv := newServer(t, Options{Prefix: "packs/", Secret: secret})
	base := srv.URL + "/packs/personpack"

	t.Run("rows from query string", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, base+"/objectrowsaction?filter=an&limit=1", nil)
		status, body := do(t, req)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(2), body["total"])
		rows := body["rows"].([]any)
		require.Len(t, rows, 1)
		assert.Equal(t, "Anna", rows[0].(map[string]any)["name"])
	})

	t.Run("save from form body", func(t *testing.T) {
		form := url.Values{"personpack_id": {"0"}, "name": {"Olga"}, "age": {"22"}}
		req, _ := http.NewRequest(http.MethodPost, base+"/objectsaveaction", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		status, body := do(t, req)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})

	t.Run("failure from json body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, base+"/objectsaveaction", strings.NewReader(`{"personpack_id": 0}`))
		req.Header.Set("Content-Type", "application/json")
		status, body := do(t, req)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, body["success"])
		assert.NotEmpty(t, body["message"])
	})

	t.Run("missing context param", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, base+"/objectsaveaction", nil)
		status, body := do(t, req)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "personpack_id")
	})

	t.Run("invalid json", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, base+"/objectsaveaction", strings.NewReader(`{`))
		req.Header.Set("Content-Type", "application/json")
		status, _ := do(t, req)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("unknown route", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, base+"/nope", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAuth(t *testing.T) {
	srv := newServer(t, Options{Secret: secret})
	target := srv.URL + "/personpack/objectrowsaction"

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad scheme", "Authorization", "Basic " + secret, http.StatusUnauthorized},
		{"wrong secret", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer " + secret, http.StatusOK},
		{"header", SecretHeader, secret, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestIntrospection(t *testing.T) {
	srv := newServer(t, Options{
		Secret: secret,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/personpack/objectrowsaction", nil)
	status, _ := do(t, req)
	require.Equal(t, http.StatusOK, status)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/actions", nil)
	status, body := do(t, req)
	require.Equal(t, http.StatusOK, status)
	var rows *map[string]any
	for _, a := range body["data"].([]any) {
		info := a.(map[string]any)
		if info["url"] == "/personpack/objectrowsaction" {
			rows = &info
		}
	}
	require.NotNil(t, rows)
	assert.Equal(t, "people/PersonPack/ObjectRowsAction", (*rows)["name"])
	assert.Equal(t, []any{"noop"}, (*rows)["listeners"])

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/stats", nil)
	status, body = do(t, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["people/PersonPack/ObjectRowsAction"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "# metrics\n", string(data))
}

func TestCompression(t *testing.T) {
	srv := newServer(t, Options{Compress: true})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/personpack/objectrowsaction", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		require.NoError(t, err)
		body = zr
	}
	var rows map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&rows))
	assert.Equal(t, float64(3), rows["total"])
}

func TestRequestParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x?a=1&b=2&b=3&c=q", strings.NewReader(`{"c": "json", "n": 1.5, "list": [1, 2]}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	params, err := requestParams(req)
	require.NoError(t, err)
	assert.Equal(t, "1", params["a"])
	assert.Equal(t, []any{"2", "3"}, params["b"])
	assert.Equal(t, "json", params["c"])
	assert.Equal(t, "1.5", params["n"])
	assert.Len(t, params["list"], 2)

	assert.Equal(t, "", normalizePrefix("/"))
	assert.Equal(t, "/packs", normalizePrefix("packs/"))
}
