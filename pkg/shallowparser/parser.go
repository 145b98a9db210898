package shallowparser

import (
	"regexp"
	"strings"
)

var (
	procPattern = regexp.MustCompile(
		`(?im)^\s*(?:@server-no-context|@server|@client)?\s*(?:Export\s+)?Procedure\s+([A-Za-z_]\w*)\s*\(`,
	)
	funcPattern = regexp.MustCompile(
		`(?im)^\s*(?:@server-no-context|@server|@client)?\s*(?:Export\s+)?Function\s+([A-Za-z_]\w*)\s*\(`,
	)
	procEndPattern = regexp.MustCompile(`(?im)^\s*EndProcedure\b`)
	funcEndPattern = regexp.MustCompile(`(?im)^\s*EndFunction\b`)

	contextPattern = regexp.MustCompile(`(?i)@(server-no-context|server|client)`)
	exportPattern  = regexp.MustCompile(`(?i)\bExport\b`)

	paramPattern = regexp.MustCompile(`(?i)(?:ByVal\s+)?([A-Za-z_]\w*)(?:\s*=\s*([^,)]+))?`)

	moduleVarPattern = regexp.MustCompile(`(?im)^\s*Var\s+([A-Za-z_]\w*)(?:\s+Export)?\s*;`)

	callPattern = regexp.MustCompile(`(?i)\b([A-Za-z_]\w*)\s*\(`)
)

// Keywords is the set of identifiers that precede "(" but are language
// constructs, not calls.
var Keywords = map[string]struct{}{
	"if": {}, "else": {}, "elsif": {}, "endif": {},
	"while": {}, "endwhile": {},
	"for": {}, "each": {}, "in": {}, "do": {}, "enddo": {},
	"procedure": {}, "function": {}, "endprocedure": {}, "endfunction": {},
	"return": {}, "break": {}, "continue": {},
	"try": {}, "except": {}, "raise": {},
	"new": {}, "type": {}, "typeof": {}, "undefined": {}, "true": {}, "false": {},
	"export": {}, "byval": {}, "var": {},
	"area": {}, "endarea": {},
}

func isKeyword(name string) bool {
	_, ok := Keywords[strings.ToLower(name)]
	return ok
}

// Parser is a regex-based, line-anchored shallow parser for ProcScript.
type Parser struct{}

// New returns a ready-to-use Parser. Parser holds no state and is safe
// for concurrent use across goroutines.
func New() *Parser {
	return &Parser{}
}

// Parse scans source and returns every declaration, call site and
// module variable it can recover.
func (p *Parser) Parse(source string) ParseResult {
	lines := strings.Split(source, "\n")

	result := ParseResult{
		ModuleVars: p.parseModuleVars(source, lines),
		Methods:    p.parseMethods(source, lines),
	}
	result.GlobalCalls = p.parseGlobalCalls(lines, result.Methods)

	for i := range result.Methods {
		result.Methods[i].CallPositions = p.parseMethodCalls(lines, result.Methods[i])
	}

	return result
}

func (p *Parser) parseModuleVars(source string, lines []string) map[string]ModuleVar {
	vars := make(map[string]ModuleVar)

	for _, m := range moduleVarPattern.FindAllStringSubmatchIndex(source, -1) {
		name := source[m[2]:m[3]]
		varLine := strings.Count(source[:m[0]], "\n")
		text := source[m[0]:m[1]]
		isExport := exportPattern.MatchString(text)
		vars[name] = ModuleVar{
			Name:        name,
			IsExport:    isExport,
			Description: p.extractDescriptionBefore(lines, varLine),
		}
	}

	return vars
}

func (p *Parser) parseMethods(source string, lines []string) []Method {
	var methods []Method

	for _, m := range procPattern.FindAllStringSubmatchIndex(source, -1) {
		if method := p.parseMethodFromMatch(source, lines, m, true); method != nil {
			methods = append(methods, *method)
		}
	}
	for _, m := range funcPattern.FindAllStringSubmatchIndex(source, -1) {
		if method := p.parseMethodFromMatch(source, lines, m, false); method != nil {
			methods = append(methods, *method)
		}
	}

	sortMethodsByLine(methods)
	return methods
}

func sortMethodsByLine(methods []Method) {
	for i := 1; i < len(methods); i++ {
		for j := i; j > 0 && methods[j-1].Line > methods[j].Line; j-- {
			methods[j-1], methods[j] = methods[j], methods[j-1]
		}
	}
}

func (p *Parser) parseMethodFromMatch(source string, lines []string, m []int, isProc bool) *Method {
	methodName := source[m[2]:m[3]]
	startPos := m[0]
	startLine := strings.Count(source[:startPos], "\n")

	keyword := "Procedure"
	if !isProc {
		keyword = "Function"
	}
	for offset := 0; offset < 3; offset++ {
		checkLine := startLine + offset
		if checkLine >= len(lines) {
			break
		}
		lineText := lines[checkLine]
		if strings.Contains(lineText, methodName) && strings.Contains(lineText, keyword) {
			startLine = checkLine
			break
		}
	}

	var declarationLine string
	if startLine < len(lines) {
		declarationLine = lines[startLine]
	}

	context := p.extractContext(declarationLine)
	if context == "" && startLine > 0 {
		context = p.extractContext(lines[startLine-1])
	}
	isExport := exportPattern.MatchString(declarationLine)
	params := p.extractParams(source, startPos, lines, startLine)

	endLine, ok := p.findMethodEnd(source, startLine, isProc)
	if !ok {
		return nil
	}

	return &Method{
		Name:        methodName,
		Line:        startLine,
		EndLine:     endLine,
		IsProc:      isProc,
		IsExport:    isExport,
		Params:      params,
		Description: p.extractDescriptionBefore(lines, startLine),
		Context:     context,
	}
}

func (p *Parser) extractContext(line string) string {
	m := contextPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	switch strings.ToLower(m[1]) {
	case "server":
		return "server"
	case "client":
		return "client"
	case "server-no-context":
		return "server-no-context"
	}
	return ""
}

func (p *Parser) extractParams(source string, startPos int, lines []string, startLine int) []Param {
	var params []Param

	var declarationLine string
	if startLine < len(lines) {
		declarationLine = lines[startLine]
	}

	parenStart := strings.Index(declarationLine, "(")
	if parenStart == -1 {
		return params
	}

	var paramsText string
	parenEnd := strings.Index(declarationLine[parenStart+1:], ")")
	if parenEnd == -1 {
		searchStart := startPos + parenStart + 1
		rel := strings.Index(source[searchStart:], ")")
		if rel == -1 {
			return params
		}
		paramsText = source[searchStart : searchStart+rel]
	} else {
		paramsText = declarationLine[parenStart+1 : parenStart+1+parenEnd]
	}

	if strings.TrimSpace(paramsText) == "" {
		return params
	}

	for _, seg := range splitTopLevelCommas(paramsText) {
		m := paramPattern.FindStringSubmatch(seg)
		if m == nil || m[1] == "" {
			continue
		}
		byVal := strings.Contains(strings.ToLower(seg[:strings.Index(seg, m[1])+len(m[1])]), "byval")
		var def string
		if len(m) > 2 {
			def = strings.TrimSpace(m[2])
		}
		params = append(params, Param{Name: m[1], ByVal: byVal, Default: def})
	}

	return params
}

// splitTopLevelCommas splits a parameter list on commas that are not
// nested inside parentheses, preserving the original description-text
// grouping the regex-based extraction above expects per parameter.
func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func (p *Parser) findMethodEnd(source string, startLine int, isProc bool) (int, bool) {
	lines := strings.Split(source, "\n")
	endPattern := procEndPattern
	if !isProc {
		endPattern = funcEndPattern
	}

	depth := 1
	for i := startLine + 1; i < len(lines); i++ {
		line := lines[i]
		procMatch := procPattern.FindStringIndex(line)
		funcMatch := funcPattern.FindStringIndex(line)
		matchIdx := procMatch
		if matchIdx == nil {
			matchIdx = funcMatch
		}
		if matchIdx != nil {
			// procPattern/funcPattern anchor on ^\s*, so any match already
			// guarantees the declaration is the line's first token.
			depth++
		} else if endPattern.MatchString(line) {
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}

	return 0, false
}

func (p *Parser) extractDescriptionBefore(lines []string, lineNum int) string {
	var description []string

	start := lineNum - 20
	if start < 0 {
		start = 0
	}

	for i := start; i < lineNum; i++ {
		line := strings.TrimSpace(lines[i])
		if len(description) == 0 && line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "//"):
			description = append(description, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "'"):
			description = append(description, strings.TrimSpace(line[1:]))
		case strings.Contains(line, "/*") && strings.Contains(line, "*/"):
			cstart := strings.Index(line, "/*") + 2
			cend := strings.Index(line, "*/")
			if cend > cstart {
				if comment := strings.TrimSpace(line[cstart:cend]); comment != "" {
					description = append(description, comment)
				}
			}
		case line != "":
			goto done
		}
	}
done:

	reverse(description)
	return strings.TrimSpace(strings.Join(description, "\n"))
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func (p *Parser) parseGlobalCalls(lines []string, methods []Method) []CallPosition {
	var calls []CallPosition

	methodRanges := make(map[int]struct{})
	for _, method := range methods {
		for ln := method.Line; ln <= method.EndLine; ln++ {
			methodRanges[ln] = struct{}{}
		}
	}

	for lineNum, line := range lines {
		if _, ok := methodRanges[lineNum]; ok {
			continue
		}
		for _, m := range callPattern.FindAllStringSubmatchIndex(line, -1) {
			callName := line[m[2]:m[3]]
			if isKeyword(callName) {
				continue
			}
			calls = append(calls, CallPosition{Call: callName, Line: lineNum, Character: m[0]})
		}
	}

	return calls
}

func (p *Parser) parseMethodCalls(lines []string, method Method) []CallPosition {
	var calls []CallPosition

	end := method.EndLine
	if end >= len(lines) {
		end = len(lines) - 1
	}

	for lineNum := method.Line; lineNum <= end; lineNum++ {
		line := lines[lineNum]
		for _, m := range callPattern.FindAllStringSubmatchIndex(line, -1) {
			callName := line[m[2]:m[3]]
			if isKeyword(callName) {
				continue
			}
			if callName == method.Name {
				continue
			}
			calls = append(calls, CallPosition{Call: callName, Line: lineNum, Character: m[0]})
		}
	}

	return calls
}
