// Package sqlfmt re-indents generated SQL. It never rewrites tokens, so the
// output is byte-for-byte the same statement with normalized whitespace.
package sqlfmt

import (
	"strings"
)

const indentUnit = "  "

var clauseKeywords = []string{
	"SELECT", "FROM", "WHERE", "GROUP BY", "HAVING", "ORDER BY", "LIMIT",
	"UNION ALL", "JOIN", "LEFT JOIN", "INNER JOIN", "CROSS JOIN", "FULL OUTER JOIN",
}

// Dialects lists the grammars understood by Format. The empty string means
// the statement is emitted as generated.
var Dialects = map[string]bool{
	"bigquery":   true,
	"snowflake":  true,
	"postgresql": true,
	"redshift":   true,
	"mysql":      true,
	"trino":      true,
	"tsql":       true,
	"sql":        true,
}

func isClause(line string) bool {
	upper := strings.ToUpper(line)
	for _, kw := range clauseKeywords {
		if upper == kw || strings.HasPrefix(upper, kw+" ") || strings.HasPrefix(upper, kw+"\t") {
			return true
		}
	}
	return false
}

// parenDelta counts parentheses outside of string literals, quoted
// identifiers and line comments. leading is the number of ')' the line
// starts with.
func parenDelta(line string) (delta int, leading int) {
	var quote rune
	counting := true
	for i, r := range line {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
			counting = false
		case '-':
			if strings.HasPrefix(line[i:], "--") {
				return delta, leading
			}
			counting = false
		case '(':
			delta++
			counting = false
		case ')':
			delta--
			if counting {
				leading++
			}
		case ' ', '\t':
		default:
			counting = false
		}
	}
	return delta, leading
}

// Format pretty-prints sql for the given formatter grammar.
func Format(sql string, formatDialect string) string {
	if !Dialects[formatDialect] {
		return strings.TrimSpace(sql)
	}
	lines := strings.Split(sql, "\n")
	res := make([]string, 0, len(lines))
	depth := 0
	inClause := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		delta, leading := parenDelta(line)
		lineDepth := depth - leading
		if lineDepth < 0 {
			lineDepth = 0
		}
		indent := strings.Repeat(indentUnit, lineDepth)
		switch {
		case isClause(line):
			inClause = true
		case leading > 0:
			inClause = false
		case inClause:
			indent += indentUnit
		}
		res = append(res, indent+line)
		depth += delta
		if depth < 0 {
			depth = 0
		}
		if delta > 0 {
			inClause = false
		}
	}
	return strings.Join(res, "\n")
}
