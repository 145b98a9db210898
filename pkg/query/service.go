package query

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/projectforge/devsupervisor/pkg/shallowparser"
	"github.com/projectforge/devsupervisor/pkg/symbolcache"
)

// Service answers symbol-tree, reference and rename queries from a
// project's cached document symbols and call graph. It never blocks on
// a re-index: if a file has no cached document symbols, it is parsed
// live, on demand, once.
type Service struct {
	root   string
	cache  *symbolcache.Cache
	parser *shallowparser.Parser

	mu   sync.RWMutex
	docs map[string]DocumentSymbols // relative path -> symbols
}

// New returns a Service rooted at projectRoot, backed by cache for
// reference/rename lookups.
func New(projectRoot string, cache *symbolcache.Cache) *Service {
	return &Service{
		root:   projectRoot,
		cache:  cache,
		parser: shallowparser.New(),
		docs:   make(map[string]DocumentSymbols),
	}
}

// SetDocumentSymbols installs (or replaces) the cached artifact for a
// relative file path. Called by the indexer after each parse pass.
func (s *Service) SetDocumentSymbols(relPath string, ds DocumentSymbols) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[relPath] = ds
}

// RemoveDocumentSymbols drops the cached artifact for relPath, e.g.
// because the file was deleted from disk.
func (s *Service) RemoveDocumentSymbols(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, relPath)
}

// DocumentSymbols returns the symbols for one file, parsing it live if
// nothing is cached yet.
func (s *Service) DocumentSymbols(relPath string) (DocumentSymbols, error) {
	s.mu.RLock()
	ds, ok := s.docs[relPath]
	s.mu.RUnlock()
	if ok {
		return ds, nil
	}
	return s.parseLive(relPath)
}

func (s *Service) parseLive(relPath string) (DocumentSymbols, error) {
	abs := filepath.Join(s.root, relPath)
	content, err := os.ReadFile(abs)
	if err != nil {
		return DocumentSymbols{}, fmt.Errorf("read %s: %w", relPath, err)
	}
	result := s.parser.Parse(string(content))
	ds := FromParseResult(relPath, result, strings.Split(string(content), "\n"))
	s.mu.Lock()
	s.docs[relPath] = ds
	s.mu.Unlock()
	return ds, nil
}

// SymbolTree returns the symbol tree under within (a relative directory
// path, or "" for the whole project). A relative path naming a single
// file returns that file's symbols directly. When nothing is cached
// under the requested scope, it falls back to a live directory walk.
func (s *Service) SymbolTree(within string) ([]*Symbol, error) {
	if within != "" {
		abs := filepath.Join(s.root, within)
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			ds, err := s.DocumentSymbols(within)
			if err != nil {
				return nil, err
			}
			return ds.RootSymbols, nil
		}
	}

	s.mu.RLock()
	cached := make(map[string]DocumentSymbols, len(s.docs))
	for path, ds := range s.docs {
		if within == "" || path == within || strings.HasPrefix(path, within+"/") {
			cached[path] = ds
		}
	}
	s.mu.RUnlock()

	if len(cached) == 0 {
		return s.buildTreeFromDisk(within)
	}

	return buildTree(s.root, cached), nil
}

func (s *Service) buildTreeFromDisk(within string) ([]*Symbol, error) {
	start := filepath.Join(s.root, within)
	cached := make(map[string]DocumentSymbols)

	err := filepath.Walk(start, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".pss" {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		ds, err := s.parseLive(rel)
		if err != nil {
			return nil
		}
		cached[rel] = ds
		return nil
	})
	if err != nil {
		return nil, err
	}

	return buildTree(s.root, cached), nil
}

// buildTree groups per-file document symbols into File nodes, then
// File nodes into nested Package nodes by directory, mirroring the
// project's own directory structure.
func buildTree(root string, files map[string]DocumentSymbols) []*Symbol {
	byDir := make(map[string][]*Symbol)

	for relPath, ds := range files {
		dir := filepath.Dir(relPath)
		if dir == "." {
			dir = ""
		}
		name := strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
		fileSymbol := &Symbol{
			Name:     name,
			Kind:     KindFile,
			Path:     relPath,
			Children: ds.RootSymbols,
		}
		byDir[dir] = append(byDir[dir], fileSymbol)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := dirs[i], dirs[j]
		if strings.Count(di, "/") != strings.Count(dj, "/") {
			return strings.Count(di, "/") < strings.Count(dj, "/")
		}
		return di < dj
	})

	dirSymbols := make(map[string]*Symbol)
	var result []*Symbol

	for _, dir := range dirs {
		fileSymbols := byDir[dir]
		if dir == "" {
			result = append(result, fileSymbols...)
			continue
		}

		sym, ok := dirSymbols[dir]
		if !ok {
			sym = &Symbol{Name: filepath.Base(dir), Kind: KindPackage, Path: dir}
			dirSymbols[dir] = sym
			parent := filepath.Dir(dir)
			if parent == "." {
				parent = ""
			}
			if parent == "" {
				result = append(result, sym)
			} else {
				ensureAncestors(dirSymbols, &result, parent)
				dirSymbols[parent].Children = append(dirSymbols[parent].Children, sym)
			}
		}
		sym.Children = append(sym.Children, fileSymbols...)
	}

	return result
}

func ensureAncestors(dirSymbols map[string]*Symbol, result *[]*Symbol, dir string) {
	if dir == "" {
		return
	}
	if _, ok := dirSymbols[dir]; ok {
		return
	}
	parent := filepath.Dir(dir)
	if parent == "." {
		parent = ""
	}
	sym := &Symbol{Name: filepath.Base(dir), Kind: KindPackage, Path: dir}
	dirSymbols[dir] = sym
	if parent == "" {
		*result = append(*result, sym)
		return
	}
	ensureAncestors(dirSymbols, result, parent)
	dirSymbols[parent].Children = append(dirSymbols[parent].Children, sym)
}

// symbolNameAt resolves the symbol name enclosing (relPath, line, char),
// falling back to a character-class identifier scan when no cached
// symbol's range contains the position.
func (s *Service) symbolNameAt(relPath string, line, char int) (string, error) {
	ds, err := s.DocumentSymbols(relPath)
	if err != nil {
		return "", err
	}
	if name, ok := findEnclosingSymbol(ds.RootSymbols, line, char); ok {
		return name, nil
	}

	abs := filepath.Join(s.root, relPath)
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	lines := strings.Split(string(content), "\n")
	if line >= len(lines) {
		return "", nil
	}
	return identifierAt(lines[line], char), nil
}

func findEnclosingSymbol(symbols []*Symbol, line, char int) (string, bool) {
	for _, sym := range symbols {
		if line < sym.Range.Start.Line || line > sym.Range.End.Line {
			continue
		}
		if line == sym.Range.Start.Line && char < sym.Range.Start.Character {
			continue
		}
		if line == sym.Range.End.Line && char > sym.Range.End.Character {
			continue
		}
		return sym.Name, true
	}
	return "", false
}

func identifierAt(line string, char int) string {
	if char > len(line) {
		char = len(line)
	}
	isIdentChar := func(b byte) bool {
		return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
	}
	start, end := char, char
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}
	if start >= end {
		return ""
	}
	name := line[start:end]
	if name[0] >= '0' && name[0] <= '9' {
		return ""
	}
	return name
}

// References returns every call site of the symbol at (relPath, line,
// char), excluding the declaration site itself.
func (s *Service) References(relPath string, line, char int) ([]Location, error) {
	name, err := s.symbolNameAt(relPath, line, char)
	if err != nil || name == "" {
		return nil, err
	}

	calls := s.cache.FindCalls(name)
	if len(calls) == 0 {
		return nil, nil
	}

	declLine, declChar, hasDecl := s.declarationPosition(relPath, line, char, name)

	var locations []Location
	for _, call := range calls {
		if hasDecl && call.Filename == relPath && call.Line == declLine && call.Character == declChar {
			continue
		}
		loc, ok, err := s.locateCallSite(call.Filename, call.Line, call.Character, name)
		if err != nil {
			continue
		}
		if ok {
			locations = append(locations, loc)
		}
	}

	return locations, nil
}

func (s *Service) declarationPosition(relPath string, line, char int, name string) (int, int, bool) {
	ds, err := s.DocumentSymbols(relPath)
	if err != nil {
		return 0, 0, false
	}
	for _, sym := range ds.RootSymbols {
		if sym.Name != name {
			continue
		}
		if sym.Range.Start.Line == line && sym.Range.Start.Character <= char && char <= sym.Range.End.Character {
			return sym.Range.Start.Line, sym.Range.Start.Character, true
		}
	}
	return 0, 0, false
}

func (s *Service) locateCallSite(relPath string, line, char int, name string) (Location, bool, error) {
	abs := filepath.Join(s.root, relPath)
	f, err := os.Open(abs)
	if err != nil {
		return Location{}, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	current := 0
	for scanner.Scan() {
		if current == line {
			text := scanner.Text()
			searchFrom := char
			if searchFrom >= len(text) {
				searchFrom = 0
			}
			pos := strings.Index(text[searchFrom:], name)
			namePos := searchFrom
			if pos == -1 {
				if pos2 := strings.Index(text, name); pos2 != -1 {
					namePos = pos2
				}
			} else {
				namePos = searchFrom + pos
			}
			end := namePos + len(name)
			if end > len(text) {
				end = len(text)
			}
			return Location{
				Path: relPath,
				Range: Range{
					Start: Position{Line: line, Character: namePos},
					End:   Position{Line: line, Character: end},
				},
			}, true, nil
		}
		current++
	}
	return Location{}, false, nil
}

// RenameEdit builds a workspace edit renaming the symbol at (relPath,
// line, char) to newName: one edit at the declaration, one per call
// site. Returns ok=false if no symbol could be resolved.
func (s *Service) RenameEdit(relPath string, line, char int, newName string) (WorkspaceEdit, bool, error) {
	name, err := s.symbolNameAt(relPath, line, char)
	if err != nil || name == "" {
		return nil, false, err
	}

	edits := make(WorkspaceEdit)

	declLine, declChar, hasDecl := s.declarationPosition(relPath, line, char, name)
	if hasDecl {
		if loc, ok, err := s.locateCallSite(relPath, declLine, declChar, name); err == nil && ok {
			edits[relPath] = append(edits[relPath], TextEdit{Range: loc.Range, NewText: newName})
		}
	}

	for _, call := range s.cache.FindCalls(name) {
		if hasDecl && call.Filename == relPath && call.Line == declLine && call.Character == declChar {
			continue
		}
		loc, ok, err := s.locateCallSite(call.Filename, call.Line, call.Character, name)
		if err != nil || !ok {
			continue
		}
		edits[loc.Path] = append(edits[loc.Path], TextEdit{Range: loc.Range, NewText: newName})
	}

	if len(edits) == 0 {
		return nil, false, nil
	}
	return edits, true, nil
}
