package sns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "ok", status: http.StatusOK},
		{name: "non-2xx still counts", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "abc", r.URL.Query().Get("Token"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewConfirmer(srv.Client()).Confirm(context.Background(), srv.URL+"/?Action=ConfirmSubscription&Token=abc")

			require.NoError(t, err)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestConfirmNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewConfirmer(nil).Confirm(context.Background(), url)

	assert.ErrorContains(t, err, "failed to confirm subscription")
}

func TestConfirmMissingURL(t *testing.T) {
	err := NewConfirmer(nil).Confirm(context.Background(), "")

	assert.ErrorIs(t, err, ErrMissingSubscribeURL)
}
