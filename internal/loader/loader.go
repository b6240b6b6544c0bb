package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine/bytecode"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/logging"
)

var (
	ErrFetch       = errors.New("bundle fetch failed")
	ErrNoBundles   = errors.New("no bundles matched")
	ErrUnsupported = errors.New("unsupported bundle")
)

// Kind classifies bundle content
type Kind int

const (
	KindUnknown Kind = iota
	KindScript
	KindMarkup
	KindBytecode
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindMarkup:
		return "markup"
	case KindBytecode:
		return "bytecode"
	default:
		return "unknown"
	}
}

// Bundle is a loaded unit of input for a page
type Bundle struct {
	Name string
	Kind Kind
	Data []byte
}

// Config defines loader configuration
type Config struct {
	Timeout           time.Duration
	RetryMax          int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	AllowedExtensions []string
	UserAgent         string
	Breaker           BreakerSettings
}

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RetryMax:          3,
		RetryWaitMin:      200 * time.Millisecond,
		RetryWaitMax:      5 * time.Second,
		AllowedExtensions: []string{".js", ".mjs", ".cjs", ".html", ".htm", ".gjbc"},
		UserAgent:         "AgentOS-Bridge/1.0",
	}
}

// Loader reads bundles from disk and from remote hosts
type Loader struct {
	config     Config
	extensions map[string]bool
	client     *resty.Client
	logger     *logging.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// New creates a loader
func New(config Config, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.RetryMax
	retryClient.RetryWaitMin = config.RetryWaitMin
	retryClient.RetryWaitMax = config.RetryWaitMax
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent)

	extensions := make(map[string]bool, len(config.AllowedExtensions))
	for _, ext := range config.AllowedExtensions {
		extensions[strings.ToLower(ext)] = true
	}

	return &Loader{
		config:     config,
		extensions: extensions,
		client:     client,
		logger:     logger,
		breakers:   make(map[string]*Breaker),
	}
}

// Allowed reports whether name has an accepted extension. An empty
// extension list accepts everything.
func (l *Loader) Allowed(name string) bool {
	if len(l.extensions) == 0 {
		return true
	}
	return l.extensions[strings.ToLower(filepath.Ext(name))]
}

// Files loads every bundle named by patterns. A pattern is a file, a
// directory (walked recursively) or a doublestar glob. Results are sorted by
// name and deduplicated.
func (l *Loader) Files(patterns ...string) ([]Bundle, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] && l.Allowed(name) {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, pattern := range patterns {
		info, err := os.Stat(pattern)
		switch {
		case err == nil && info.IsDir():
			found, err := l.walk(pattern)
			if err != nil {
				return nil, err
			}
			for _, name := range found {
				add(name)
			}
		case err == nil:
			add(pattern)
		default:
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}
			for _, match := range matches {
				if info, err := os.Stat(match); err == nil && !info.IsDir() {
					add(match)
				}
			}
		}
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBundles, strings.Join(patterns, ", "))
	}
	sort.Strings(names)

	bundles := make([]Bundle, 0, len(names))
	for _, name := range names {
		bundle, err := l.ReadFile(name)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

// walk collects regular files under root. fastwalk calls back concurrently.
func (l *Loader) walk(root string) ([]string, error) {
	var mu sync.Mutex
	var found []string

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		mu.Lock()
		found = append(found, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return found, nil
}

// ReadFile loads one bundle from disk
func (l *Loader) ReadFile(name string) (Bundle, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to read bundle: %w", err)
	}
	return Bundle{Name: name, Kind: Detect(name, data), Data: data}, nil
}

// Fetch downloads a bundle. Each host has its own circuit breaker so a
// failing host is skipped quickly without affecting others.
func (l *Loader) Fetch(ctx context.Context, rawURL string) (Bundle, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Bundle{}, fmt.Errorf("%w: invalid url %q", ErrUnsupported, rawURL)
	}

	var data []byte
	err = l.breaker(u.Host).Do(func() error {
		resp, err := l.client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFetch, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("%w: %s returned %d", ErrFetch, rawURL, resp.StatusCode())
		}
		data = resp.Body()
		return nil
	})
	if err != nil {
		l.logger.Warn("bundle fetch failed", zap.String("url", rawURL), zap.Error(err))
		return Bundle{}, err
	}

	name := path.Base(u.Path)
	l.logger.Debug("bundle fetched", zap.String("url", rawURL), zap.Int("size", len(data)))
	return Bundle{Name: rawURL, Kind: Detect(name, data), Data: data}, nil
}

// breaker returns the breaker guarding host, creating it on first use
func (l *Loader) breaker(host string) *Breaker {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.breakers[host]
	if !ok {
		settings := l.config.Breaker
		onChange := settings.OnStateChange
		settings.OnStateChange = func(host string, from, to State) {
			l.logger.Info("bundle host breaker changed",
				zap.String("host", host),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if onChange != nil {
				onChange(host, from, to)
			}
		}
		b = NewBreaker(host, settings)
		l.breakers[host] = b
	}
	return b
}

// HostState returns the breaker state of host
func (l *Loader) HostState(host string) State {
	return l.breaker(host).State()
}

// Detect classifies bundle content by magic, then extension, then sniffed
// MIME type
func Detect(name string, data []byte) Kind {
	if bytes.HasPrefix(data, []byte(bytecode.Magic)) {
		return KindBytecode
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".gjbc":
		return KindBytecode
	case ".html", ".htm":
		return KindMarkup
	case ".js", ".mjs", ".cjs":
		return KindScript
	}

	mime := mimetype.Detect(data)
	switch {
	case mime.Is("text/html"):
		return KindMarkup
	case mime.Is("text/javascript"), mime.Is("application/javascript"), mime.Is("text/plain"):
		return KindScript
	default:
		return KindUnknown
	}
}
