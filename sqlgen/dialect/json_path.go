package dialect

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	grafana_re "github.com/grafana/regexp"
	"github.com/pkg/errors"
)

// PathPart is one step of a JSON path: an object key or an array index.
type PathPart struct {
	Key     string
	Index   int
	IsIndex bool
}

// ParseJSONPath splits a.b[0]["c d"] into its parts.
func ParseJSONPath(path string) ([]PathPart, error) {
	parser, err := participle.Build[jsonPath](
		participle.Lexer(&jsonDefinitionImpl{}), participle.UseLookahead(2))
	if err != nil {
		return nil, err
	}
	oPath, err := parser.ParseString("", path)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid json path %q", path)
	}
	parts := make([]PathPart, len(oPath.Path))
	for i, part := range oPath.Path {
		parts[i], err = part.toPathPart()
		if err != nil {
			return nil, err
		}
	}
	return parts, nil
}

type jsonPath struct {
	Path []jsonPathPart `parser:"@@+"`
}

type jsonPathPart struct {
	Ident string `parser:"Dot? @Ident"`
	Field string `parser:"| OSQBrack @(QStr|TStr) CSQBrack"`
	Idx   string `parser:"| OSQBrack @Int CSQBrack"`
}

func (j *jsonPathPart) toPathPart() (PathPart, error) {
	if j.Ident != "" {
		return PathPart{Key: j.Ident}, nil
	}
	if j.Field != "" {
		if j.Field[0] == '`' {
			return PathPart{Key: j.Field[1 : len(j.Field)-1]}, nil
		}
		key, err := strconv.Unquote(j.Field)
		return PathPart{Key: key}, err
	}
	i, err := strconv.Atoi(j.Idx)
	return PathPart{Index: i, IsIndex: true}, err
}

var symbols = map[string]lexer.TokenType{
	"Ident":    scanner.Ident,
	"Dot":      '.',
	"OSQBrack": '[',
	"CSQBrack": ']',
	"QStr":     scanner.String,
	"TStr":     scanner.RawString,
	"Int":      scanner.Int,
}

type jsonDefinitionImpl struct{}

func (j *jsonDefinitionImpl) Symbols() map[string]lexer.TokenType {
	return symbols
}

func (j *jsonDefinitionImpl) Lex(filename string, r io.Reader) (lexer.Lexer, error) {
	s := scanner.Scanner{}
	s.Init(r)
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanRawStrings
	return lexer.LexWithScanner(filename, &s), nil
}

var plainKey = grafana_re.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dollarPath renders parts as $.a.b[0]."c d", the JSONPath flavour shared
// by BigQuery, MySQL and SQL Server.
func dollarPath(parts []PathPart) string {
	sb := strings.Builder{}
	sb.WriteString("$")
	for _, p := range parts {
		switch {
		case p.IsIndex:
			fmt.Fprintf(&sb, "[%d]", p.Index)
		case plainKey.MatchString(p.Key):
			sb.WriteString("." + p.Key)
		default:
			sb.WriteString(".\"" + strings.ReplaceAll(p.Key, `"`, `\"`) + "\"")
		}
	}
	return sb.String()
}

// bracketPath renders parts as $.a["c d"][0] for Trino style engines.
func bracketPath(parts []PathPart) string {
	sb := strings.Builder{}
	sb.WriteString("$")
	for _, p := range parts {
		switch {
		case p.IsIndex:
			fmt.Fprintf(&sb, "[%d]", p.Index)
		case plainKey.MatchString(p.Key):
			sb.WriteString("." + p.Key)
		default:
			sb.WriteString("[\"" + strings.ReplaceAll(p.Key, `"`, `\"`) + "\"]")
		}
	}
	return sb.String()
}

// colonPath renders the Snowflake / Databricks semi-structured accessor
// suffix: a.b[0]["c d"].
func colonPath(parts []PathPart) string {
	sb := strings.Builder{}
	for i, p := range parts {
		switch {
		case p.IsIndex:
			fmt.Fprintf(&sb, "[%d]", p.Index)
		case plainKey.MatchString(p.Key):
			if i > 0 {
				sb.WriteString(".")
			}
			sb.WriteString(p.Key)
		default:
			sb.WriteString("['" + strings.ReplaceAll(p.Key, "'", "''") + "']")
		}
	}
	return sb.String()
}
