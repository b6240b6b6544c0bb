package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RetryMax = 0
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = time.Millisecond
	return cfg
}

func TestDetect(t *testing.T) {
	unit, err := bytecode.Encode(bytecode.Unit{Source: "1", Filename: "a.js"})
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		data []byte
		want Kind
	}{
		{"bytecode magic wins", "a.js", unit, KindBytecode},
		{"bytecode extension", "a.gjbc", []byte("x"), KindBytecode},
		{"html extension", "index.HTML", []byte("x"), KindMarkup},
		{"script extension", "app.mjs", []byte("<html>"), KindScript},
		{"sniffed html", "page", []byte("<!DOCTYPE html><html><body></body></html>"), KindMarkup},
		{"sniffed text", "main", []byte("var a = 1;\n"), KindScript},
		{"binary", "blob", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.file, tt.data))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "script", KindScript.String())
	assert.Equal(t, "markup", KindMarkup.String())
	assert.Equal(t, "bytecode", KindBytecode.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.js"), "var b = 2;")
	writeFile(t, filepath.Join(dir, "a.js"), "var a = 1;")
	writeFile(t, filepath.Join(dir, "nested", "c.html"), "<p>c</p>")
	writeFile(t, filepath.Join(dir, "nested", "notes.txt"), "skip")

	l := New(testConfig(), nil)

	t.Run("directory", func(t *testing.T) {
		bundles, err := l.Files(dir)
		require.NoError(t, err)
		require.Len(t, bundles, 3)
		assert.Equal(t, filepath.Join(dir, "a.js"), bundles[0].Name)
		assert.Equal(t, filepath.Join(dir, "b.js"), bundles[1].Name)
		assert.Equal(t, KindMarkup, bundles[2].Kind)
	})

	t.Run("glob", func(t *testing.T) {
		bundles, err := l.Files(filepath.Join(dir, "**", "*.html"))
		require.NoError(t, err)
		require.Len(t, bundles, 1)
		assert.Equal(t, "<p>c</p>", string(bundles[0].Data))
	})

	t.Run("duplicates", func(t *testing.T) {
		file := filepath.Join(dir, "a.js")
		bundles, err := l.Files(file, file, filepath.Join(dir, "*.js"))
		require.NoError(t, err)
		assert.Len(t, bundles, 2)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := l.Files(filepath.Join(dir, "*.wasm"))
		assert.ErrorIs(t, err, ErrNoBundles)
	})

	t.Run("disallowed file", func(t *testing.T) {
		_, err := l.Files(filepath.Join(dir, "nested", "notes.txt"))
		assert.ErrorIs(t, err, ErrNoBundles)
	})
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.js":
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			w.Write([]byte("var fetched = true;"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	l := New(testConfig(), nil)

	bundle, err := l.Fetch(context.Background(), server.URL+"/app.js")
	require.NoError(t, err)
	assert.Equal(t, KindScript, bundle.Kind)
	assert.Equal(t, "var fetched = true;", string(bundle.Data))

	_, err = l.Fetch(context.Background(), server.URL+"/missing.js")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = l.Fetch(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFetchTripsBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var opened atomic.Bool
	cfg := testConfig()
	cfg.Breaker = BreakerSettings{
		Cooldown: time.Minute,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(host string, from, to State) {
			if to == StateOpen {
				opened.Store(true)
			}
		},
	}
	l := New(cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := l.Fetch(context.Background(), server.URL+"/app.js")
		assert.ErrorIs(t, err, ErrFetch)
	}

	_, err := l.Fetch(context.Background(), server.URL+"/app.js")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, opened.Load())
	assert.Equal(t, int32(2), hits.Load())

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, l.HostState(u.Host))
}

func TestBreakerRecovers(t *testing.T) {
	b := NewBreaker("example.test", BreakerSettings{
		Cooldown: 10 * time.Millisecond,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	err := b.Do(func() error { return ErrFetch })
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "example.test", b.Host())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("example.test", BreakerSettings{
		Cooldown: 10 * time.Millisecond,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = b.Do(func() error { return ErrFetch })
	time.Sleep(20 * time.Millisecond)

	_ = b.Do(func() error { return ErrFetch })
	assert.Equal(t, StateOpen, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
