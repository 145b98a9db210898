// Package query serves symbol-tree, reference and rename requests from
// a project's cached document symbols and call graph, without needing
// to re-parse the project on every request.
package query

// Position is a 0-based line/character cursor position.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans from Start up to and including End.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Kind classifies a Symbol the way an editor's outline view would.
type Kind int

const (
	KindMethod Kind = iota + 1
	KindFunction
	KindFile
	KindPackage
)

// Symbol is one node in a synthetic symbol tree: a method/function, a
// file grouping its methods, or a package grouping its files.
type Symbol struct {
	Name           string    `json:"name"`
	Kind           Kind      `json:"kind"`
	Range          Range     `json:"range"`
	SelectionRange Range     `json:"selectionRange"`
	Detail         string    `json:"detail,omitempty"`
	Description    string    `json:"description,omitempty"`
	Body           string    `json:"body,omitempty"`
	Path           string    `json:"path,omitempty"`
	Children       []*Symbol `json:"children,omitempty"`
}

// DocumentSymbols is the per-file artifact persisted in the
// document_symbols fingerprint bucket and served directly by the query
// service when a single file (not a tree) is requested.
type DocumentSymbols struct {
	Path        string    `json:"path"`
	RootSymbols []*Symbol `json:"rootSymbols"`
}

// Location names a span of text within a file.
type Location struct {
	Path  string `json:"path"`
	Range Range  `json:"range"`
}

// TextEdit replaces the text in Range with NewText.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// WorkspaceEdit groups TextEdits by the file path they apply to.
type WorkspaceEdit map[string][]TextEdit
