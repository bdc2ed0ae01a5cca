package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetUserID(r.Context())))
}

func TestBearerAuth(t *testing.T) {
	h := BearerAuth(StaticTokens(map[string]string{"tok-1": "u1"}))(http.HandlerFunc(okHandler))

	cases := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{"header", "Bearer tok-1", "", http.StatusOK, "u1"},
		{"query", "", "?token=tok-1", http.StatusOK, "u1"},
		{"unknown", "Bearer nope", "", http.StatusUnauthorized, ""},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic tok-1", "?token=tok-1", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.0001, 2)(http.HandlerFunc(okHandler))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients have their own bucket")
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body["error"])
}

func TestRequestLog_ObservesStatus(t *testing.T) {
	var gotMethod string
	var gotStatus int
	h := RequestLog(func(m string, s int, d time.Duration) { gotMethod, gotStatus = m, s })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, http.StatusTeapot, gotStatus)
}

func TestLocalOnly(t *testing.T) {
	h := LocalOnly(http.HandlerFunc(okHandler))
	for addr, want := range map[string]int{
		"127.0.0.1:1234":   http.StatusOK,
		"192.168.1.5:1234": http.StatusOK,
		"8.8.8.8:1234":     http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, addr)
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("abc"))
	assert.Equal(t, "abcd***", MaskToken("abcdefgh"))
}
