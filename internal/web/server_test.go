package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/store/memory"
)

const pricesDescriptor = `{
  "name": "market",
  "resources": [
    {
      "name": "prices",
      "path": "prices.csv",
      "schema": {"fields": [
        {"name": "symbol", "type": "string"},
        {"name": "price", "type": "number"}
      ]}
    }
  ]
}`

type testServer struct {
	*httptest.Server
	mem *memory.Store
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *testServer {
	t.Helper()
	mem := memory.New()
	svc := core.NewService(mem, config.LoadConfig{})
	loads := core.NewLoads(svc, core.NewLoadLimiter(2, time.Second), time.Minute)
	srv := httptest.NewServer(NewServer(svc, loads, cfg).Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, mem: mem}
}

func writePackage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datapackage.json"), []byte(pricesDescriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prices.csv"), []byte("symbol,price\nMMM,162.27\nBAD,n/a\n"), 0o644))
	return dir
}

func (ts *testServer) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) startLoad(t *testing.T, dir string) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/loads", fmt.Sprintf(`{"descriptor": %q}`, dir), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	out := decode[startLoadResponse](t, resp)
	require.NotEmpty(t, out.ID)
	assert.Equal(t, "/api/loads/"+out.ID, resp.Header.Get("Location"))
	return out.ID
}

func TestLoadLifecycle(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{RequestTimeout: 10 * time.Second})
	id := ts.startLoad(t, writePackage(t))

	resp := ts.do(t, http.MethodGet, "/api/loads/"+id+"?wait=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[core.LoadStatus](t, resp)

	assert.Equal(t, core.LoadCompleted, status.State)
	require.NotNil(t, status.Report)
	rr := status.Report.Resources[0]
	assert.Equal(t, "prices", rr.Table)
	assert.Equal(t, core.StatusPartial, rr.Status)
	assert.Equal(t, 2, rr.RowsInserted)
	require.Len(t, rr.Warnings, 1)
	assert.Equal(t, "price", rr.Warnings[0].Field)
	require.NotNil(t, status.Requester)
	assert.Equal(t, "Go-http-client/1.1", status.Requester.UserAgent)

	list := decode[struct {
		Loads []core.LoadStatus `json:"loads"`
	}](t, ts.do(t, http.MethodGet, "/api/loads", "", nil))
	require.Len(t, list.Loads, 1)
	assert.Equal(t, id, list.Loads[0].ID)

	page := ts.do(t, http.MethodGet, "/loads/"+id, "", nil)
	require.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.Header.Get("Content-Type"), "text/html")
	body := readAll(t, page)
	assert.Contains(t, body, "prices")
	assert.Contains(t, body, "2 rows attempted, 2 inserted, 0 skipped")

	index := readAll(t, ts.do(t, http.MethodGet, "/", "", nil))
	assert.Contains(t, index, "/loads/"+id)
}

func TestLoadEvents(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	id := ts.startLoad(t, writePackage(t))

	_ = ts.do(t, http.MethodGet, "/api/loads/"+id+"?wait=1", "", nil)

	resp := ts.do(t, http.MethodGet, "/api/loads/"+id+"/events", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body := readAll(t, resp)
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
}

func TestStartLoad_BadRequests(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	resp := ts.do(t, http.MethodPost, "/api/loads", "not json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/loads", `{"descriptor": "  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/loads", fmt.Sprintf(`{"descriptor": %q}`, t.TempDir()), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "PKG001", decode[ErrorResponse](t, resp).Code)
}

func TestUnknownLoad(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/loads/nope"},
		{http.MethodDelete, "/api/loads/nope"},
		{http.MethodGet, "/api/loads/nope/events"},
		{http.MethodGet, "/loads/nope"},
	} {
		resp := ts.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestDescribeTable(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})
	id := ts.startLoad(t, writePackage(t))
	_ = ts.do(t, http.MethodGet, "/api/loads/"+id+"?wait=1", "", nil)

	resp := ts.do(t, http.MethodGet, "/api/tables/prices", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	table := decode[tableResponse](t, resp)
	require.Len(t, table.Columns, 3)
	assert.True(t, table.Columns[0].Identity)
	assert.Equal(t, "price", table.Columns[2].Name)
	assert.Equal(t, "float", table.Columns[2].Type)
	require.NotNil(t, table.Rows)
	assert.Equal(t, int64(2), *table.Rows)

	resp = ts.do(t, http.MethodGet, "/api/tables/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{})

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.mem.Close())
	resp = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPIKeys(t *testing.T) {
	ts := newTestServer(t, config.ServerConfig{APIKeys: []string{"s3cret"}})

	resp := ts.do(t, http.MethodGet, "/api/loads", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/loads", "", http.Header{"X-Api-Key": {"s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrLoadNotFound, http.StatusNotFound},
		{fmt.Errorf("describe: %w", store.ErrTableNotFound), http.StatusNotFound},
		{descriptor.ErrInvalidDescriptor, http.StatusUnprocessableEntity},
		{core.ErrTooManyLoads, http.StatusServiceUnavailable},
		{store.Unavailable(errors.New("refused")), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
