package utils

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(NewResp().SetError("not found"))
			return
		}
		_ = json.NewEncoder(w).Encode(NewResp().SetData(map[string]string{
			"method": r.Method,
			"body":   string(body),
		}))
	}))
	defer srv.Close()

	r, err := SendRequest(http.MethodPost, srv.URL+"/members", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, r.OK())
	var got map[string]string
	require.NoError(t, r.DecodeData(&got))
	assert.Equal(t, "POST", got["method"])
	assert.Equal(t, `{"a":1}`, got["body"])

	r, err = SendRequest(http.MethodGet, srv.URL+"/missing", nil)
	require.Error(t, err)
	require.NotNil(t, r)
	assert.False(t, r.OK())
	assert.Equal(t, "not found", r.Message)
}

func TestSendRequestNotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := SendRequest(http.MethodGet, srv.URL, nil)
	assert.Error(t, err)
}
