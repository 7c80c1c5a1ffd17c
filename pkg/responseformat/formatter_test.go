package responseformat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestWriteResponseJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, NewFormatter().WriteResponse(rec, req, sample{Name: "a", Value: 1.5}, map[string]string{"X-Run": "r1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "r1", rec.Header().Get("X-Run"))

	var got sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, sample{Name: "a", Value: 1.5}, got)
}

func TestWriteResponseMsgPack(t *testing.T) {
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/x?format=msgpack", nil),
		func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/x", nil)
			r.Header.Set("Accept", "application/x-msgpack")
			return r
		}(),
	} {
		rec := httptest.NewRecorder()
		require.NoError(t, NewFormatter().WriteResponse(rec, req, sample{Name: "b", Value: 2}, nil))
		assert.Equal(t, "application/x-msgpack", rec.Header().Get("Content-Type"))

		// Field names follow the json tags.
		var got map[string]any
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "b", got["name"])
	}
}

func TestWriteError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, NewFormatter().WriteError(rec, req, http.StatusNotFound, "no such run"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"no such run"}`, rec.Body.String())
}
