package hooks

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// BuiltinCollection is reserved for the plugins compiled into the gateway.
const BuiltinCollection = "default"

// LoadError is returned for a manifest that cannot be loaded.
type LoadError struct {
	FilePath string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load plugin manifest %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load plugin manifest %q: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Manifest describes an external plugin.
//
//	id: pii-scan
//	collection: acme
//	name: PII scanner
//	events: [beforeRequestHook]
//	type: webhook
//	url: https://guardrails.internal/pii
//	headers:
//	  Authorization: Bearer ...
//	timeout: 2s
type Manifest struct {
	Metadata `yaml:",inline"`

	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Validate checks the manifest fields.
func (m *Manifest) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("id is required")
	case m.Collection == "":
		return fmt.Errorf("collection is required")
	case m.Collection == BuiltinCollection:
		return fmt.Errorf("collection %q is reserved", BuiltinCollection)
	case strings.Contains(m.ID, ".") || strings.Contains(m.Collection, "."):
		return fmt.Errorf("id and collection must not contain '.'")
	case m.Type != "webhook":
		return fmt.Errorf("unsupported plugin type %q", m.Type)
	case m.URL == "":
		return fmt.Errorf("url is required")
	}
	for _, e := range m.Events {
		if !e.Valid() {
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}

// webhookPlugin is a Plugin backed by a manifest.
type webhookPlugin struct {
	md      Metadata
	webhook *Webhook
}

func (p *webhookPlugin) Metadata() Metadata { return p.md }

func (p *webhookPlugin) Handle(ctx context.Context, hc *Context, params map[string]any, event EventType) (*Result, error) {
	return p.webhook.Call(ctx, hc, params, event)
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Dir is scanned recursively for manifests.
	Dir string

	// Extensions lists manifest file extensions. Default: .yaml, .yml.
	Extensions []string

	// MaxFileSize bounds a manifest. Default: 1MB.
	MaxFileSize int64

	// DebounceInterval is the quiet period before a reload. Default: 100ms.
	DebounceInterval time.Duration
}

// Loader registers external plugins from a directory of manifests.
type Loader struct {
	cfg      LoaderConfig
	registry *Registry
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewLoader creates a loader that registers into registry.
func NewLoader(cfg LoaderConfig, registry *Registry, logger *slog.Logger) *Loader {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".yaml", ".yml"}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 1024 * 1024
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		cfg:      cfg,
		registry: registry,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   logger.With("component", "hooks.loader"),
		loaded:   make(map[string]bool),
	}
}

// Load scans the directory and replaces every externally loaded collection.
// Invalid manifests are logged and skipped. It returns the number of plugins
// registered.
func (l *Loader) Load() (int, error) {
	info, err := os.Stat(l.cfg.Dir)
	if err != nil {
		return 0, &LoadError{FilePath: l.cfg.Dir, Message: "failed to access directory", Cause: err}
	}
	if !info.IsDir() {
		return 0, &LoadError{FilePath: l.cfg.Dir, Message: "not a directory"}
	}

	files, err := l.collect()
	if err != nil {
		return 0, err
	}

	byCollection := make(map[string][]Plugin)
	seen := make(map[string]string)
	for _, path := range files {
		m, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping plugin manifest", "path", path, "error", err)
			continue
		}
		key := m.Key()
		if first, dup := seen[key]; dup {
			l.logger.Warn("skipping duplicate plugin manifest", "path", path, "plugin", key, "first", first)
			continue
		}
		seen[key] = path
		byCollection[m.Collection] = append(byCollection[m.Collection], l.plugin(m))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	collections := make([]string, 0, len(byCollection))
	for c := range byCollection {
		collections = append(collections, c)
	}
	sort.Strings(collections)

	count := 0
	for _, c := range collections {
		if err := l.registry.ReplaceCollection(c, byCollection[c]); err != nil {
			return count, err
		}
		count += len(byCollection[c])
		l.loaded[c] = true
	}
	for c := range l.loaded {
		if _, still := byCollection[c]; !still {
			if err := l.registry.ReplaceCollection(c, nil); err != nil {
				return count, err
			}
			delete(l.loaded, c)
		}
	}

	l.logger.Info("plugins loaded", "dir", l.cfg.Dir, "plugins", count, "collections", len(collections))
	return count, nil
}

func (l *Loader) plugin(m *Manifest) Plugin {
	return &webhookPlugin{
		md: m.Metadata,
		webhook: &Webhook{
			URL:     m.URL,
			Headers: m.Headers,
			Timeout: m.Timeout,
			Client:  l.client,
		},
	}
}

func (l *Loader) loadFile(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if info.Size() > l.cfg.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), l.cfg.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{FilePath: path, Message: "YAML parsing failed", Cause: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &LoadError{FilePath: path, Message: "invalid manifest", Cause: err}
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	return &m, nil
}

// collect returns manifest paths in lexical order, skipping hidden entries.
func (l *Loader) collect() ([]string, error) {
	var files []string
	err := filepath.WalkDir(l.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != l.cfg.Dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.hasValidExtension(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: l.cfg.Dir, Message: "failed to walk directory", Cause: err}
	}
	return files, nil
}

func (l *Loader) hasValidExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range l.cfg.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}

// Watch reloads the directory whenever a manifest changes. It blocks until
// ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(l.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != l.cfg.Dir {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %q: %w", l.cfg.Dir, err)
	}

	debounce := newDebouncer(l.cfg.DebounceInterval)
	defer debounce.stop()

	l.logger.Info("plugin watcher started", "dir", l.cfg.Dir, "debounce_ms", l.cfg.DebounceInterval.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("plugin watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			if !l.hasValidExtension(event.Name) || strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}

			l.logger.Debug("plugin manifest changed", "path", event.Name, "op", event.Op.String())
			debounce.trigger(func() {
				if _, err := l.Load(); err != nil {
					l.logger.Error("plugin reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			l.logger.Error("plugin watcher error", "error", err)
		}
	}
}

// debouncer runs the last triggered callback after a quiet period.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
