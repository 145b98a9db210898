// Package symbolcache is the in-memory, per-project symbol database
// populated by the project indexer and read by the query service. It is
// the in-process analogue of a small embedded document store: batch
// inserts, a handful of secondary indices, one lock.
package symbolcache

import "github.com/projectforge/devsupervisor/pkg/shallowparser"

// CallInfo is one recorded call site, with the context it was found in.
type CallInfo struct {
	Filename   string
	Call       string
	Line       int
	Character int
	MethodName string // method containing the call, "" for module-level
	Module     string
}

// ModuleInfo is per-file module metadata.
type ModuleInfo struct {
	Filename   string
	Module     string
	Type       string
	ParentType string
	Project    string
}

// MethodInfo pairs a parsed method with the file and module it came from.
type MethodInfo struct {
	Method   shallowparser.Method
	Filename string
	Module   string
}

// Query describes a find_methods predicate set. Zero-value fields are
// treated as "not constrained"; use the pointer fields to distinguish
// false from unset.
type Query struct {
	Name         string
	NameRegexp   string
	Module       string
	ModuleRegexp string
	IsExported   *bool
	Context      string
	IsProcedure  *bool
}

// Stats is a snapshot of cache occupancy, as reported over the Admin API.
type Stats struct {
	Methods        int `json:"methods"`
	ExportedMethods int `json:"exported_methods"`
	ModuleVars     int `json:"module_vars"`
	Calls          int `json:"calls"`
	UniqueCalls    int `json:"unique_calls"`
	Modules        int `json:"modules"`
}
