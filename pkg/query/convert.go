package query

import (
	"strings"

	"github.com/projectforge/devsupervisor/pkg/shallowparser"
)

// FromParseResult converts one file's shallow-parse result into the
// richer DocumentSymbols artifact the query service serves directly.
// lines is the file's content split on "\n", used to compute accurate
// end-of-line character offsets and method bodies.
func FromParseResult(path string, result shallowparser.ParseResult, lines []string) DocumentSymbols {
	symbols := make([]*Symbol, 0, len(result.Methods))
	for _, m := range result.Methods {
		symbols = append(symbols, symbolFromMethod(m, lines))
	}
	return DocumentSymbols{Path: path, RootSymbols: symbols}
}

func symbolFromMethod(m shallowparser.Method, lines []string) *Symbol {
	kind := KindMethod
	if !m.IsProc {
		kind = KindFunction
	}

	endLine := m.EndLine
	if endLine >= len(lines) {
		endLine = len(lines) - 1
	}
	if endLine < 0 {
		endLine = 0
	}

	startChar := 0
	if m.Line < len(lines) {
		if idx := strings.Index(lines[m.Line], m.Name); idx != -1 {
			startChar = idx
		}
	}

	endChar := 0
	if endLine < len(lines) {
		endChar = len(lines[endLine])
	}

	r := Range{
		Start: Position{Line: m.Line, Character: startChar},
		End:   Position{Line: endLine, Character: endChar},
	}

	var detailParts []string
	if m.Context != "" {
		detailParts = append(detailParts, m.Context)
	}
	if m.IsExport {
		detailParts = append(detailParts, "Export")
	}

	return &Symbol{
		Name:           m.Name,
		Kind:           kind,
		Range:          r,
		SelectionRange: r,
		Detail:         strings.Join(detailParts, " | "),
		Description:    m.Description,
		Body:           extractBody(lines, m),
	}
}

func extractBody(lines []string, m shallowparser.Method) string {
	end := m.EndLine
	if end >= len(lines) {
		end = len(lines) - 1
	}
	if m.Line > end || m.Line < 0 || end < 0 {
		return ""
	}
	return strings.Join(lines[m.Line:end+1], "\n")
}
