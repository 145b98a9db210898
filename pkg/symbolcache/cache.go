package symbolcache

import (
	"regexp"
	"strings"
	"sync"

	"github.com/projectforge/devsupervisor/pkg/shallowparser"
)

// Cache is a thread-safe, in-memory symbol database for one project.
// All mutation and index maintenance happens under a single mutex;
// reads copy out from it rather than return internal slices.
type Cache struct {
	mu sync.RWMutex

	methods    []MethodInfo
	moduleVars map[string][]shallowparser.ModuleVar // filename -> vars
	calls      map[string][]CallInfo                // call name -> call sites
	modules    []ModuleInfo

	nameIndex   map[string][]int // lowercase method name -> indices into methods
	moduleIndex map[string][]int // lowercase module -> indices into methods
	exportIndex map[int]struct{} // indices into methods that are exported
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		moduleVars:  make(map[string][]shallowparser.ModuleVar),
		calls:       make(map[string][]CallInfo),
		nameIndex:   make(map[string][]int),
		moduleIndex: make(map[string][]int),
		exportIndex: make(map[int]struct{}),
	}
}

// AddMethod records a single method. Prefer AddMethodsBatch for bulk
// insertion from an indexer pass — it avoids retaking the lock per item.
func (c *Cache) AddMethod(method shallowparser.Method, filename, module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addMethodLocked(method, filename, module)
}

func (c *Cache) addMethodLocked(method shallowparser.Method, filename, module string) {
	index := len(c.methods)
	c.methods = append(c.methods, MethodInfo{Method: method, Filename: filename, Module: module})

	nameLower := strings.ToLower(method.Name)
	c.nameIndex[nameLower] = append(c.nameIndex[nameLower], index)

	if module != "" {
		moduleLower := strings.ToLower(module)
		c.moduleIndex[moduleLower] = append(c.moduleIndex[moduleLower], index)
	}

	if method.IsExport {
		c.exportIndex[index] = struct{}{}
	}
}

// AddMethodsBatch records many methods under a single lock acquisition.
func (c *Cache) AddMethodsBatch(entries []MethodInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.addMethodLocked(e.Method, e.Filename, e.Module)
	}
}

// AddModuleVar records a module-level variable declaration for a file.
func (c *Cache) AddModuleVar(v shallowparser.ModuleVar, filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moduleVars[filename] = append(c.moduleVars[filename], v)
}

// AddModuleVarsBatch records many module variables under a single lock.
func (c *Cache) AddModuleVarsBatch(entries map[string][]shallowparser.ModuleVar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for filename, vars := range entries {
		c.moduleVars[filename] = append(c.moduleVars[filename], vars...)
	}
}

// CallEntry is one call site queued for batch insertion.
type CallEntry struct {
	Call       shallowparser.CallPosition
	Filename   string
	MethodName string
	Module     string
}

// AddCall records a single call site.
func (c *Cache) AddCall(call shallowparser.CallPosition, filename, methodName, module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addCallLocked(call, filename, methodName, module)
}

func (c *Cache) addCallLocked(call shallowparser.CallPosition, filename, methodName, module string) {
	info := CallInfo{
		Filename:   filename,
		Call:       call.Call,
		Line:       call.Line,
		Character:  call.Character,
		MethodName: methodName,
		Module:     module,
	}
	c.calls[call.Call] = append(c.calls[call.Call], info)
}

// AddCallsBatch records many call sites under a single lock.
func (c *Cache) AddCallsBatch(entries []CallEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.addCallLocked(e.Call, e.Filename, e.MethodName, e.Module)
	}
}

// AddModule records per-file module metadata.
func (c *Cache) AddModule(m ModuleInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, m)
}

// FindMethods evaluates q against the cache. A zero-value Query returns
// every method. Name/module exact filters use the secondary indices;
// regexp filters scan the index keys; Context/IsProcedure are applied as
// a residual linear filter since they are not indexed.
func (c *Cache) FindMethods(q Query) []MethodInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var candidates map[int]struct{}
	intersect := func(next map[int]struct{}) {
		if candidates == nil {
			candidates = next
			return
		}
		for idx := range candidates {
			if _, ok := next[idx]; !ok {
				delete(candidates, idx)
			}
		}
	}

	if q.Name != "" {
		next := indexSet(c.nameIndex[strings.ToLower(q.Name)])
		intersect(next)
	}
	if q.NameRegexp != "" {
		intersect(matchIndexKeys(c.nameIndex, q.NameRegexp))
	}
	if q.Module != "" {
		intersect(indexSet(c.moduleIndex[strings.ToLower(q.Module)]))
	}
	if q.ModuleRegexp != "" {
		intersect(matchIndexKeys(c.moduleIndex, q.ModuleRegexp))
	}
	if q.IsExported != nil {
		if *q.IsExported {
			intersect(copyIntSet(c.exportIndex))
		} else {
			all := allIndices(len(c.methods))
			for idx := range c.exportIndex {
				delete(all, idx)
			}
			intersect(all)
		}
	}

	if candidates == nil {
		candidates = allIndices(len(c.methods))
	}

	results := make([]MethodInfo, 0, len(candidates))
	for idx := range candidates {
		if idx >= len(c.methods) {
			continue
		}
		info := c.methods[idx]
		if q.Context != "" && info.Method.Context != q.Context {
			continue
		}
		if q.IsProcedure != nil && info.Method.IsProc != *q.IsProcedure {
			continue
		}
		results = append(results, info)
	}

	return results
}

// FindCalls returns every recorded call site to callName.
func (c *Cache) FindCalls(callName string) []CallInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CallInfo, len(c.calls[callName]))
	copy(out, c.calls[callName])
	return out
}

// FindMethodsByModule returns every method declared in module.
func (c *Cache) FindMethodsByModule(module string) []MethodInfo {
	return c.FindMethods(Query{Module: module})
}

// FindExportedMethods returns every exported method, optionally scoped
// to a single module.
func (c *Cache) FindExportedMethods(module string) []MethodInfo {
	exported := true
	q := Query{IsExported: &exported}
	if module != "" {
		q.Module = module
	}
	return c.FindMethods(q)
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = nil
	c.moduleVars = make(map[string][]shallowparser.ModuleVar)
	c.calls = make(map[string][]CallInfo)
	c.modules = nil
	c.nameIndex = make(map[string][]int)
	c.moduleIndex = make(map[string][]int)
	c.exportIndex = make(map[int]struct{})
}

// RemoveFileData drops every method, module variable, call site and
// module record attributed to filename, then rebuilds the secondary
// indices — required because removal invalidates stored positions.
func (c *Cache) RemoveFileData(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.methods[:0:0]
	for _, m := range c.methods {
		if m.Filename != filename {
			kept = append(kept, m)
		}
	}
	c.methods = kept
	c.rebuildIndicesLocked()

	delete(c.moduleVars, filename)

	for callName, entries := range c.calls {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.Filename != filename {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(c.calls, callName)
		} else {
			c.calls[callName] = filtered
		}
	}

	keptModules := c.modules[:0:0]
	for _, m := range c.modules {
		if m.Filename != filename {
			keptModules = append(keptModules, m)
		}
	}
	c.modules = keptModules
}

func (c *Cache) rebuildIndicesLocked() {
	c.nameIndex = make(map[string][]int)
	c.moduleIndex = make(map[string][]int)
	c.exportIndex = make(map[int]struct{})

	for idx, info := range c.methods {
		nameLower := strings.ToLower(info.Method.Name)
		c.nameIndex[nameLower] = append(c.nameIndex[nameLower], idx)

		if info.Module != "" {
			moduleLower := strings.ToLower(info.Module)
			c.moduleIndex[moduleLower] = append(c.moduleIndex[moduleLower], idx)
		}

		if info.Method.IsExport {
			c.exportIndex[idx] = struct{}{}
		}
	}
}

// Stats returns cache occupancy counters for the Admin API.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	moduleVarCount := 0
	for _, vars := range c.moduleVars {
		moduleVarCount += len(vars)
	}
	callCount := 0
	for _, entries := range c.calls {
		callCount += len(entries)
	}

	return Stats{
		Methods:         len(c.methods),
		ExportedMethods: len(c.exportIndex),
		ModuleVars:      moduleVarCount,
		Calls:           callCount,
		UniqueCalls:     len(c.calls),
		Modules:         len(c.modules),
	}
}

func indexSet(indices []int) map[int]struct{} {
	out := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		out[i] = struct{}{}
	}
	return out
}

func copyIntSet(s map[int]struct{}) map[int]struct{} {
	out := make(map[int]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func allIndices(n int) map[int]struct{} {
	out := make(map[int]struct{}, n)
	for i := 0; i < n; i++ {
		out[i] = struct{}{}
	}
	return out
}

func matchIndexKeys(index map[string][]int, pattern string) map[int]struct{} {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return map[int]struct{}{}
	}
	out := make(map[int]struct{})
	for key, indices := range index {
		if re.MatchString(key) {
			for _, i := range indices {
				out[i] = struct{}{}
			}
		}
	}
	return out
}
