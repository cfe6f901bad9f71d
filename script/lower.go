package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ModuleSymbol is the load symbol that binds a whole module. A load that
// binds it came from an "import m" statement.
const ModuleSymbol = "module"

var (
	importStmt     = regexp.MustCompile(`^(\s*)import\s+(.+?)\s*$`)
	fromImportStmt = regexp.MustCompile(`^(\s*)from\s+([A-Za-z_][\w.]*)\s+import\s+(.+?)\s*$`)
	fromImportOpen = regexp.MustCompile(`^\s*from\s+[A-Za-z_][\w.]*\s+import\s*\(`)
	importItem     = regexp.MustCompile(`^([A-Za-z_][\w.]*)(?:\s+as\s+([A-Za-z_]\w*))?$`)
	compoundHeader = regexp.MustCompile(`^\s*(if|elif|else|for|while|def|with|try|except|finally|class)\b`)
)

// lowerImports rewrites Python-style import statements into load
// statements, keeping line numbers intact. Imports are found on their own
// line, between top-level semicolons and after a compound statement's colon.
// A parenthesized from-import spanning lines is joined onto its first line
// and the lines it consumed are left blank.
func lowerImports(src string) string {
	lines := strings.Split(src, "\n")

	open := ""
	for i := 0; i < len(lines); i++ {
		if open == "" {
			if code, _ := splitComment(lines[i]); fromImportOpen.MatchString(code) && !strings.Contains(code, ")") {
				joinContinuation(lines, i)
			}
			lines[i] = lowerLine(lines[i])
		}
		open = scanTripleQuotes(lines[i], open)
	}

	return strings.Join(lines, "\n")
}

// joinContinuation folds the lines of a parenthesized import starting at
// lines[i] into lines[i]. Nothing changes if the closing paren never comes.
func joinContinuation(lines []string, i int) {
	joined, _ := splitComment(lines[i])
	for j := i + 1; j < len(lines); j++ {
		code, _ := splitComment(lines[j])
		joined += " " + strings.TrimSpace(code)
		if strings.Contains(code, ")") {
			lines[i] = joined
			for k := i + 1; k <= j; k++ {
				lines[k] = ""
			}
			return
		}
	}
}

func lowerLine(line string) string {
	code, comment := splitComment(line)

	segments := splitStatements(code)
	changed := false
	for k, seg := range segments {
		if lowered, ok := lowerStatement(seg); ok {
			segments[k] = lowered
			changed = true
			continue
		}
		if k == 0 {
			if lowered, ok := lowerCompoundTail(seg); ok {
				segments[k] = lowered
				changed = true
			}
		}
	}
	if !changed {
		return line
	}
	return strings.Join(segments, ";") + comment
}

// lowerCompoundTail lowers an import written on the same line as the
// header of a compound statement, as in "if ok: import json".
func lowerCompoundTail(seg string) (string, bool) {
	if !compoundHeader.MatchString(seg) {
		return seg, false
	}
	colon := -1
	scanCode(seg, func(i int, ch byte, depth int) bool {
		if ch == ':' && depth == 0 {
			colon = i
			return false
		}
		return true
	})
	if colon < 0 {
		return seg, false
	}
	tail, ok := lowerStatement(seg[colon+1:])
	if !ok {
		return seg, false
	}
	return seg[:colon+1] + " " + strings.TrimSpace(tail), true
}

// lowerStatement lowers a single simple statement if it is an import
func lowerStatement(stmt string) (string, bool) {
	if m := fromImportStmt.FindStringSubmatch(stmt); m != nil {
		indent, module := m[1], m[2]
		list := strings.TrimSpace(m[3])
		if strings.HasPrefix(list, "(") {
			if !strings.HasSuffix(list, ")") {
				return stmt, false
			}
			list = list[1 : len(list)-1]
		}

		var symbols []string
		for _, item := range strings.Split(list, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if item == "*" {
				symbols = append(symbols, wildcardSymbols(module)...)
				continue
			}
			im := importItem.FindStringSubmatch(item)
			if im == nil || strings.Contains(im[1], ".") {
				return stmt, false
			}
			if im[2] != "" {
				symbols = append(symbols, fmt.Sprintf("%s=%s", im[2], strconv.Quote(im[1])))
			} else {
				symbols = append(symbols, strconv.Quote(im[1]))
			}
		}
		if len(symbols) == 0 {
			return stmt, false
		}
		return fmt.Sprintf("%sload(%s, %s)", indent, strconv.Quote(module), strings.Join(symbols, ", ")), true
	}

	if m := importStmt.FindStringSubmatch(stmt); m != nil {
		indent := m[1]

		var stmts []string
		for _, item := range strings.Split(m[2], ",") {
			im := importItem.FindStringSubmatch(strings.TrimSpace(item))
			if im == nil {
				return stmt, false
			}
			binding := im[2]
			if binding == "" {
				binding, _, _ = strings.Cut(im[1], ".")
			}
			stmts = append(stmts, fmt.Sprintf("load(%s, %s=%s)", strconv.Quote(im[1]), binding, strconv.Quote(ModuleSymbol)))
		}
		return indent + strings.Join(stmts, "; "), true
	}

	return stmt, false
}

// wildcardSymbols expands "*" into every member of a loadable module.
// Other modules keep the literal "*" so the load still names the module.
func wildcardSymbols(module string) []string {
	m, ok := modules[module]
	if !ok {
		return []string{strconv.Quote("*")}
	}
	names := make([]string, 0, len(m.Members))
	for _, name := range m.Members.Keys() {
		names = append(names, strconv.Quote(name))
	}
	return names
}

// scanCode calls fn for every byte of s outside string literals, with the
// bracket depth at that byte, until fn returns false.
func scanCode(s string, fn func(i int, ch byte, depth int) bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
			continue
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
		if !fn(i, ch, depth) {
			return
		}
		if ch == '(' || ch == '[' || ch == '{' {
			depth++
		}
	}
}

// splitComment separates a trailing comment, with its leading spaces, from
// the code on a line.
func splitComment(line string) (string, string) {
	at := -1
	scanCode(line, func(i int, ch byte, _ int) bool {
		if ch == '#' {
			at = i
			return false
		}
		return true
	})
	if at < 0 {
		return line, ""
	}
	code := strings.TrimRight(line[:at], " \t")
	return code, line[len(code):]
}

// splitStatements splits code at semicolons outside strings and brackets
func splitStatements(code string) []string {
	var out []string
	last := 0
	scanCode(code, func(i int, ch byte, depth int) bool {
		if ch == ';' && depth == 0 {
			out = append(out, code[last:i])
			last = i + 1
		}
		return true
	})
	return append(out, code[last:])
}

// scanTripleQuotes returns the triple-quote delimiter still open at the end
// of line, given the one open at its start.
func scanTripleQuotes(line, open string) string {
	for {
		if open != "" {
			i := strings.Index(line, open)
			if i < 0 {
				return open
			}
			line = line[i+3:]
			open = ""
			continue
		}

		dq, sq := strings.Index(line, `"""`), strings.Index(line, `'''`)
		switch {
		case dq < 0 && sq < 0:
			return ""
		case sq < 0 || (dq >= 0 && dq < sq):
			open = `"""`
			line = line[dq+3:]
		default:
			open = `'''`
			line = line[sq+3:]
		}
	}
}
