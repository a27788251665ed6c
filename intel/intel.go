// Package intel provides static threat-intelligence indicator lookup.
// Sources are local block lists (IPs, domains, hashes, URLs) loaded at
// startup; there is no live feed integration.
package intel

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultCacheSize = 4096

// lookupResult caches the outcome of a membership check.
type lookupResult struct {
	source string
	hit    bool
}

// Set holds indicator values grouped by named source.
type Set struct {
	mu      sync.RWMutex
	sources map[string]map[string]struct{}
	cache   *lru.Cache[string, lookupResult]
	logger  *zap.SugaredLogger
}

// sourceFile is the YAML shape of an indicator source file.
type sourceFile struct {
	Name       string   `yaml:"name"`
	Indicators []string `yaml:"indicators"`
}

// NewSet creates an empty indicator set.
func NewSet(logger *zap.SugaredLogger) *Set {
	cache, err := lru.New[string, lookupResult](defaultCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("intel: cache init: %v", err))
	}
	return &Set{
		sources: make(map[string]map[string]struct{}),
		cache:   cache,
		logger:  logger,
	}
}

// LoadSource registers (or replaces) a named source with the given
// indicator values. Values are matched case-insensitively.
func (s *Set) LoadSource(name string, indicators []string) {
	values := make(map[string]struct{}, len(indicators))
	for _, v := range indicators {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			values[v] = struct{}{}
		}
	}
	s.mu.Lock()
	s.sources[name] = values
	s.mu.Unlock()
	s.cache.Purge()

	if s.logger != nil {
		s.logger.Infow("loaded threat intel source", "source", name, "indicators", len(values))
	}
}

// LoadFile loads a YAML indicator source file. The file's declared name
// wins over the argument when present.
func (s *Set) LoadFile(name, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read intel source %q: %w", path, err)
	}
	var f sourceFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse intel source %q: %w", path, err)
	}
	if f.Name != "" {
		name = f.Name
	}
	s.LoadSource(name, f.Indicators)
	return nil
}

// Match checks an indicator value against the named sources (all loaded
// sources when the list is empty). It returns the first matching source
// name in lexical order, keeping results deterministic.
func (s *Set) Match(value string, sources []string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}

	cacheKey := value + "\x00" + strings.Join(sources, ",")
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.source, cached.hit
	}

	s.mu.RLock()
	var names []string
	if len(sources) == 0 {
		names = make([]string, 0, len(s.sources))
		for name := range s.sources {
			names = append(names, name)
		}
	} else {
		names = append(names, sources...)
	}
	sort.Strings(names)

	result := lookupResult{}
	for _, name := range names {
		if _, ok := s.sources[name][value]; ok {
			result = lookupResult{source: name, hit: true}
			break
		}
	}
	s.mu.RUnlock()

	s.cache.Add(cacheKey, result)
	return result.source, result.hit
}

// Sources returns the loaded source names.
func (s *Set) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
