// Package indexer walks a project directory, parses ProcScript source
// files with bounded concurrency, and keeps the symbol cache, the
// fingerprint store and the query service's document-symbols artifacts
// in sync with what is on disk.
package indexer

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/projectforge/devsupervisor/pkg/fingerprint"
	"github.com/projectforge/devsupervisor/pkg/metrics"
	"github.com/projectforge/devsupervisor/pkg/query"
	"github.com/projectforge/devsupervisor/pkg/shallowparser"
	"github.com/projectforge/devsupervisor/pkg/symbolcache"
)

const (
	// DefaultParseConcurrency bounds how many files may be parsed at once.
	DefaultParseConcurrency = 500

	perFileTimeout    = 30 * time.Second
	watchdogInterval  = 60 * time.Second
	saveEveryNFiles   = 200
	progressEveryN    = 50
	progressEveryPct  = 5
	sourceExtension   = ".pss"
)

// ignoreDirs lists conventional directories never walked into: version
// control, editor state, build output, and this tool's own scratch dir.
var ignoreDirs = map[string]struct{}{
	".git":           {},
	".svn":           {},
	".hg":            {},
	".idea":          {},
	".vscode":        {},
	"node_modules":   {},
	"dist":           {},
	"build":          {},
	"bin":            {},
	".devsupervisor": {},
}

// Stats mirrors the cache_stats.json document for one project.
type Stats struct {
	IndexedFiles int             `json:"indexed_files"`
	Language     string          `json:"language"`
	LastUpdated  string          `json:"last_updated"`
	Symbols      symbolcache.Stats `json:"bsl"`
}

// Config controls one Indexer's behavior.
type Config struct {
	ProjectPath      string
	ParseConcurrency int64
	Logger           zerolog.Logger
}

// Indexer owns one project's Symbol Cache, Fingerprint Store and
// converted document-symbols set, and drives them from source on disk.
type Indexer struct {
	cfg   Config
	cache *symbolcache.Cache
	store *fingerprint.Store
	query *query.Service
	log   zerolog.Logger

	parser *shallowparser.Parser
	sem    *semaphore.Weighted

	mu        sync.Mutex
	converted map[string]struct{} // relative paths with a current document-symbols artifact
	hasRun    bool                // true once Run has completed at least once this process

	completed atomic.Int64
}

// New opens the fingerprint store for cfg.ProjectPath and returns a
// ready Indexer. Callers must call Close when the worker shuts down.
func New(cfg Config) (*Indexer, error) {
	if cfg.ParseConcurrency <= 0 {
		cfg.ParseConcurrency = DefaultParseConcurrency
	}

	store, err := fingerprint.Open(cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint store: %w", err)
	}

	cache := symbolcache.New()

	return &Indexer{
		cfg:       cfg,
		cache:     cache,
		store:     store,
		query:     query.New(cfg.ProjectPath, cache),
		log:       cfg.Logger,
		parser:    shallowparser.New(),
		sem:       semaphore.NewWeighted(cfg.ParseConcurrency),
		converted: make(map[string]struct{}),
	}, nil
}

// Cache returns the project's symbol cache.
func (ix *Indexer) Cache() *symbolcache.Cache { return ix.cache }

// Query returns the project's query service.
func (ix *Indexer) Query() *query.Service { return ix.query }

// Close persists the fingerprint store and closes it.
func (ix *Indexer) Close() error {
	return ix.store.Close()
}

// Run performs one full indexing pass: discover files, skip unchanged
// ones by content hash, parse the rest with bounded concurrency, remove
// stale entries for files no longer on disk, then persist.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.IndexRunDuration, ix.cfg.ProjectPath)
	}()

	files, err := ix.walk()
	if err != nil {
		return Stats{}, fmt.Errorf("walk project: %w", err)
	}

	toParse := make([]string, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, rel := range files {
		seen[rel] = struct{}{}
		abs := filepath.Join(ix.cfg.ProjectPath, rel)
		content, err := os.ReadFile(abs)
		if err != nil {
			ix.log.Warn().Err(err).Str("file", rel).Msg("read file for hashing failed")
			continue
		}
		hash := fingerprint.Hash(string(content))

		var cached shallowparser.ParseResult
		existingHash, ok, err := ix.store.GetRaw(rel, &cached)
		if err == nil && ok && existingHash == hash {
			ix.loadCachedFile(rel, hash, cached)
			metrics.FilesSkippedTotal.WithLabelValues(ix.cfg.ProjectPath).Inc()
			continue
		}
		toParse = append(toParse, rel)
	}

	ix.completed.Store(0)
	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go ix.watchdog(watchdogCtx, len(toParse))

	total := len(toParse)
	lastLoggedPct := 0

	group, gctx := errgroup.WithContext(ctx)
	var progressMu sync.Mutex
	for _, rel := range toParse {
		rel := rel
		if err := ix.sem.Acquire(gctx, 1); err != nil {
			break
		}
		group.Go(func() error {
			defer ix.sem.Release(1)
			ix.parseOne(gctx, rel)

			completed := ix.completed.Add(1)

			progressMu.Lock()
			if total > 0 {
				pct := int(completed * 100 / int64(total))
				if pct >= lastLoggedPct+progressEveryPct || completed%progressEveryN == 0 {
					lastLoggedPct = pct
					ix.log.Info().
						Int64("completed", completed).
						Int("total", total).
						Int("percent", pct).
						Msg("indexing progress")
				}
			}
			progressMu.Unlock()

			if completed%saveEveryNFiles == 0 {
				if err := ix.store.Save(false); err != nil {
					ix.log.Warn().Err(err).Msg("periodic cache save failed")
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	ix.removeStaleEntries(seen)

	saveTimer := metrics.NewTimer()
	if err := ix.store.Save(false); err != nil {
		return Stats{}, fmt.Errorf("save fingerprint store: %w", err)
	}
	saveTimer.ObserveDuration(metrics.CacheSaveDuration)

	stats := ix.buildStats()
	ix.mu.Lock()
	firstRun := !ix.hasRun
	ix.hasRun = true
	ix.mu.Unlock()

	if err := ix.writeStatsFile(stats, firstRun); err != nil {
		ix.log.Warn().Err(err).Msg("write cache_stats.json failed")
	}

	metrics.IndexedFilesTotal.WithLabelValues(ix.cfg.ProjectPath).Set(float64(stats.IndexedFiles))

	return stats, nil
}

func (ix *Indexer) watchdog(ctx context.Context, total int) {
	if total == 0 {
		return
	}
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := ix.completed.Load()
			if now == last {
				ix.log.Warn().
					Int64("completed", now).
					Int("total", total).
					Msg("indexing has made no progress in the last interval")
			}
			last = now
		}
	}
}

// parseOne parses one file under a per-file timeout, updating the
// symbol cache, fingerprint store and query service on success, or
// logging and skipping on timeout/error.
func (ix *Indexer) parseOne(ctx context.Context, rel string) {
	fctx, cancel := context.WithTimeout(ctx, perFileTimeout)
	defer cancel()

	done := make(chan struct{})
	var parseErr error

	go func() {
		defer close(done)
		parseErr = ix.indexFile(rel)
	}()

	select {
	case <-done:
		if parseErr != nil {
			ix.log.Warn().Err(parseErr).Str("file", rel).Msg("parse failed")
			metrics.FilesFailedTotal.WithLabelValues(ix.cfg.ProjectPath).Inc()
		}
	case <-fctx.Done():
		ix.log.Warn().Str("file", rel).Msg("parse timed out after 30s")
		metrics.FilesFailedTotal.WithLabelValues(ix.cfg.ProjectPath).Inc()
	}
}

func (ix *Indexer) indexFile(rel string) error {
	abs := filepath.Join(ix.cfg.ProjectPath, rel)
	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	source := string(content)
	hash := fingerprint.Hash(source)

	timer := metrics.NewTimer()
	result := ix.parser.Parse(source)
	timer.ObserveDuration(metrics.ParseDuration)

	ix.applyParseResult(rel, result)

	if err := ix.store.PutRaw(rel, hash, result); err != nil {
		return fmt.Errorf("store raw artifact for %s: %w", rel, err)
	}

	lines := strings.Split(source, "\n")
	docSymbols := query.FromParseResult(rel, result, lines)
	if err := ix.store.PutDocumentSymbols(rel, hash, docSymbols); err != nil {
		return fmt.Errorf("store document symbols for %s: %w", rel, err)
	}
	ix.query.SetDocumentSymbols(rel, docSymbols)

	ix.mu.Lock()
	ix.converted[rel] = struct{}{}
	ix.mu.Unlock()

	metrics.FilesParsedTotal.WithLabelValues(ix.cfg.ProjectPath).Inc()

	return nil
}

// loadCachedFile refreshes the query service's document-symbols
// artifact and the method/call-site symbol cache for a file whose
// on-disk content hash still matches its stored fingerprint, from the
// already-loaded cached shallowparser.ParseResult — it does not
// re-parse the file. Feeding applyParseResult here, not just the
// document-symbols bucket, is what lets the symbol cache's call graph
// survive a process restart with a fully warm fingerprint store: every
// file would otherwise be a cache hit that never reaches
// applyParseResult, leaving References/RenameEdit resolving against an
// empty cache.
func (ix *Indexer) loadCachedFile(rel, hash string, result shallowparser.ParseResult) {
	ix.applyParseResult(rel, result)

	var docSymbols query.DocumentSymbols
	_, ok, err := ix.store.GetDocumentSymbols(rel, &docSymbols)
	if err != nil || !ok {
		abs := filepath.Join(ix.cfg.ProjectPath, rel)
		content, readErr := os.ReadFile(abs)
		if readErr != nil {
			return
		}
		lines := strings.Split(string(content), "\n")
		docSymbols = query.FromParseResult(rel, result, lines)
		_ = ix.store.PutDocumentSymbols(rel, hash, docSymbols)
	}
	ix.query.SetDocumentSymbols(rel, docSymbols)

	ix.mu.Lock()
	ix.converted[rel] = struct{}{}
	ix.mu.Unlock()
}

func (ix *Indexer) applyParseResult(rel string, result shallowparser.ParseResult) {
	module := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))

	ix.cache.RemoveFileData(rel)

	methodEntries := make([]symbolcache.MethodInfo, 0, len(result.Methods))
	for _, m := range result.Methods {
		methodEntries = append(methodEntries, symbolcache.MethodInfo{Method: m, Filename: rel, Module: module})
	}
	ix.cache.AddMethodsBatch(methodEntries)

	if len(result.ModuleVars) > 0 {
		vars := make([]shallowparser.ModuleVar, 0, len(result.ModuleVars))
		for _, v := range result.ModuleVars {
			vars = append(vars, v)
		}
		ix.cache.AddModuleVarsBatch(map[string][]shallowparser.ModuleVar{rel: vars})
	}

	var callEntries []symbolcache.CallEntry
	for _, m := range result.Methods {
		for _, call := range m.CallPositions {
			callEntries = append(callEntries, symbolcache.CallEntry{Call: call, Filename: rel, MethodName: m.Name, Module: module})
		}
	}
	for _, call := range result.GlobalCalls {
		callEntries = append(callEntries, symbolcache.CallEntry{Call: call, Filename: rel, MethodName: "", Module: module})
	}
	ix.cache.AddCallsBatch(callEntries)

	ix.cache.AddModule(symbolcache.ModuleInfo{Filename: rel, Module: module, Project: ix.cfg.ProjectPath})
}

// removeStaleEntries drops cache/store/query state for any file this
// Indexer has loaded or parsed (its converted set) that is no longer
// among the files found on disk. Fingerprint records of files deleted
// before this Indexer first saw them are not visited and stay in the
// store.
func (ix *Indexer) removeStaleEntries(present map[string]struct{}) {
	ix.mu.Lock()
	tracked := make([]string, 0, len(ix.converted))
	for rel := range ix.converted {
		tracked = append(tracked, rel)
	}
	ix.mu.Unlock()

	for _, rel := range tracked {
		if _, ok := present[rel]; ok {
			continue
		}
		ix.InvalidateFile(rel)
	}
}

// InvalidateFile drops every cache/store/query entry for a relative
// path, used both for stale-file cleanup and for incremental deletes.
func (ix *Indexer) InvalidateFile(rel string) {
	ix.cache.RemoveFileData(rel)
	ix.store.DeleteRaw(rel)
	ix.store.DeleteDocumentSymbols(rel)
	ix.query.RemoveDocumentSymbols(rel)

	ix.mu.Lock()
	delete(ix.converted, rel)
	ix.mu.Unlock()
}

// ReindexFile re-parses rel synchronously, used after a direct
// file-edit operation (insert, delete, apply-edits) writes to disk.
func (ix *Indexer) ReindexFile(rel string) error {
	abs := filepath.Join(ix.cfg.ProjectPath, rel)
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		ix.InvalidateFile(rel)
		return nil
	}
	return ix.indexFile(rel)
}

func (ix *Indexer) walk() ([]string, error) {
	var files []string
	err := filepath.Walk(ix.cfg.ProjectPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if _, skip := ignoreDirs[info.Name()]; skip && path != ix.cfg.ProjectPath {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != sourceExtension {
			return nil
		}
		rel, err := filepath.Rel(ix.cfg.ProjectPath, path)
		if err != nil {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (ix *Indexer) buildStats() Stats {
	stats := ix.cache.Stats()

	ix.mu.Lock()
	indexedFiles := len(ix.converted)
	ix.mu.Unlock()

	return Stats{
		IndexedFiles: indexedFiles,
		Language:     "procscript",
		LastUpdated:  time.Now().UTC().Format(time.RFC3339),
		Symbols:      stats,
	}
}

// writeStatsFile rewrites cache_stats.json alongside a fresh Save.
// Cache hits refill the symbol cache from the fingerprint store
// (loadCachedFile), so a restart against an unchanged project normally
// reports full counts. As a guard, on this Indexer's first run only, if
// the symbol cache holds no methods and a previous stats file with
// non-zero method counts exists, its counts are preserved rather than
// overwritten with zeros; any later run (including one that
// legitimately empties the project) is trusted as-is.
func (ix *Indexer) writeStatsFile(stats Stats, firstRun bool) error {
	path := filepath.Join(ix.cfg.ProjectPath, ".devsupervisor", "cache_stats.json")

	if firstRun && stats.Symbols.Methods == 0 {
		if prev, err := readStatsFile(path); err == nil && prev.Symbols.Methods > 0 {
			prev.LastUpdated = stats.LastUpdated
			stats = prev
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp-" + randomSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readStatsFile(path string) (Stats, error) {
	var stats Stats
	data, err := os.ReadFile(path)
	if err != nil {
		return stats, err
	}
	err = json.Unmarshal(data, &stats)
	return stats, err
}

func randomSuffix() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
