package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// Origin describes where a template's source came from, for error
// attribution and debugging.
type Origin struct {
	Name string
}

func (o Origin) String() string {
	if o.Name == "" {
		return "<unknown source>"
	}
	return o.Name
}

// Loader maps a template name to raw source text. The engine is
// indifferent to the backing storage; loaders may block on I/O.
type Loader interface {
	GetSource(name string) (string, Origin, error)
}

// FileSystemLoader loads templates from an ordered list of directories.
// The first directory containing the name wins.
type FileSystemLoader struct {
	dirs []string
}

// NewFileSystemLoader creates a loader over the given directories
func NewFileSystemLoader(dirs ...string) *FileSystemLoader {
	return &FileSystemLoader{dirs: dirs}
}

// GetSource reads the named template from the first directory that has
// it. Names must be relative and must not escape the directory.
func (l *FileSystemLoader) GetSource(name string) (string, Origin, error) {
	if err := validateTemplateName(name); err != nil {
		return "", Origin{}, err
	}

	var tried []string
	for _, dir := range l.dirs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		contents, err := os.ReadFile(path)
		if err == nil {
			return string(contents), Origin{Name: path}, nil
		}
		tried = append(tried, path)
	}
	return "", Origin{}, NewTemplateNotFound(name, tried, nil)
}

func validateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty template name")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return fmt.Errorf("template name %q must be relative", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return fmt.Errorf("template name %q must not escape the template directory", name)
		}
	}
	return nil
}

// MapLoader serves templates from an in-memory name → source mapping.
// Useful for tests and for embedding templates in a binary.
type MapLoader map[string]string

// GetSource returns the mapped source for name
func (l MapLoader) GetSource(name string) (string, Origin, error) {
	source, ok := l[name]
	if !ok {
		return "", Origin{}, NewTemplateNotFound(name, nil, nil)
	}
	return source, Origin{Name: name}, nil
}

// CachedLoader wraps another loader with an in-memory source cache and,
// when given a directory, a crash-safe on-disk cache written with
// atomic renames. The disk cache survives restarts, which matters when
// the wrapped loader is slow or remote.
type CachedLoader struct {
	wrapped  Loader
	cacheDir string

	mu      sync.RWMutex
	sources map[string]cachedSource
}

type cachedSource struct {
	source string
	origin Origin
}

// NewCachedLoader wraps a loader. cacheDir may be empty for a purely
// in-memory cache.
func NewCachedLoader(wrapped Loader, cacheDir string) *CachedLoader {
	return &CachedLoader{
		wrapped:  wrapped,
		cacheDir: cacheDir,
		sources:  make(map[string]cachedSource),
	}
}

// GetSource serves from memory, then the disk cache, then the wrapped
// loader, populating both cache layers on the way out.
func (l *CachedLoader) GetSource(name string) (string, Origin, error) {
	l.mu.RLock()
	cached, ok := l.sources[name]
	l.mu.RUnlock()
	if ok {
		return cached.source, cached.origin, nil
	}

	if l.cacheDir != "" {
		if contents, err := os.ReadFile(l.diskPath(name)); err == nil {
			l.remember(name, cachedSource{source: string(contents), origin: Origin{Name: name}})
			return string(contents), Origin{Name: name}, nil
		}
	}

	source, origin, err := l.wrapped.GetSource(name)
	if err != nil {
		return "", Origin{}, err
	}
	l.remember(name, cachedSource{source: source, origin: origin})

	if l.cacheDir != "" {
		// Cache writes are best effort; a failed write only costs a
		// reload next time.
		path := l.diskPath(name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			_ = atomic.WriteFile(path, strings.NewReader(source))
		}
	}
	return source, origin, nil
}

// Evict drops a name from both cache layers
func (l *CachedLoader) Evict(name string) {
	l.mu.Lock()
	delete(l.sources, name)
	l.mu.Unlock()
	if l.cacheDir != "" {
		_ = os.Remove(l.diskPath(name))
	}
}

func (l *CachedLoader) remember(name string, entry cachedSource) {
	l.mu.Lock()
	l.sources[name] = entry
	l.mu.Unlock()
}

func (l *CachedLoader) diskPath(name string) string {
	sanitized := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	return filepath.Join(l.cacheDir, sanitized+".cache")
}
