package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker_IsOnline(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{
			name: "200 response is online",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			want: true,
		},
		{
			name: "server error still counts as online",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			checker := NewHTTPChecker(server.URL, log.NewLogger())
			assert.Equal(t, tt.want, checker.IsOnline(context.Background()))
		})
	}
}

func TestHTTPChecker_IsOnline_UnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from now on

	checker := NewHTTPChecker(server.URL, log.NewLogger())
	assert.False(t, checker.IsOnline(context.Background()))
}

func TestHTTPChecker_IsOnline_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	checker := NewHTTPChecker(server.URL, log.NewLogger())
	checker.timeout = 100 * time.Millisecond

	start := time.Now()
	online := checker.IsOnline(context.Background())
	assert.False(t, online)
	assert.Less(t, time.Since(start), 3*time.Second)
}
