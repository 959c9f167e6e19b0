package prefsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_EndToEnd(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/config":
			_, _ = w.Write([]byte(`{
				"preferences":[{"id":"weekly_digest","title":"Weekly digest","enabled_by_default":true}],
				"topics":[],
				"schedules":[]
			}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	s, err := Open(Config{
		BaseURL:     srv.URL,
		APIKey:      "pk_test",
		CacheDir:    t.TempDir(),
		CacheSecret: []byte("seal-me"),
		Timezone:    "Europe/Berlin",
		Timeout:     2 * time.Second,
	})
	require.NoError(t, err)

	v := s.View()
	assert.False(t, v.Loaded, "nothing cached yet means not loaded, not empty")

	require.NoError(t, s.Refresh(context.Background()))
	v = s.View()
	require.True(t, v.Loaded)
	require.Len(t, v.Preferences, 1)
	assert.True(t, v.Preferences[0].Enabled)
}

func TestOpen_RequiresCredential(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{BaseURL: "https://api.example.com", CacheDir: t.TempDir()})
	require.Error(t, err)
}
