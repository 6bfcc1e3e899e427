package template

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	grafana_re "github.com/grafana/regexp"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
)

type Phase struct {
	Index int `json:"index" yaml:"index"`
}

// Variables are the values user SQL can reference through {{...}}.
type Variables struct {
	StartDate         time.Time
	EndDate           time.Time
	ExperimentID      string
	Phase             *Phase
	CustomFields      map[string]any
	TemplateVariables map[string]string
}

var functionMap = func() template.FuncMap {
	res := template.FuncMap{}
	sprigFuncMap := sprig.GenericFuncMap()
	for _, addFn := range []string{"lower", "upper", "title", "trunc", "substr", "contains",
		"replace", "repeat", "trim", "trimAll", "trimSuffix", "trimPrefix", "quote", "squote",
		"join", "int", "float64", "add", "sub", "mul", "div", "date", "dateInZone", "dateModify", "toDate",
		"unixEpoch", "default",
	} {
		if function, ok := sprigFuncMap[addFn]; ok {
			res[addFn] = function
		}
	}
	return res
}()

const sqlDateLayout = "2006-01-02 15:04:05"

func (v *Variables) data() map[string]any {
	end := v.EndDate
	if end.IsZero() {
		end = time.Now()
	}
	res := map[string]any{}
	addDate := func(prefix string, t time.Time) {
		t = t.UTC()
		res[prefix] = t.Format(sqlDateLayout)
		res[prefix+"Unix"] = strconv.FormatInt(t.Unix(), 10)
		res[prefix+"ISO"] = t.Format("2006-01-02T15:04:05.000Z")
		res[prefix+"Time"] = t
	}
	addDate("startDate", v.StartDate)
	addDate("endDate", end)
	res["startYear"] = v.StartDate.UTC().Format("2006")
	res["startMonth"] = v.StartDate.UTC().Format("01")
	res["startDay"] = v.StartDate.UTC().Format("02")
	res["endYear"] = end.UTC().Format("2006")
	res["endMonth"] = end.UTC().Format("01")
	res["endDay"] = end.UTC().Format("02")

	res["experimentId"] = v.ExperimentID
	if v.ExperimentID == "" {
		res["experimentId"] = "%"
	}
	if v.Phase != nil {
		res["phase"] = map[string]any{"index": strconv.Itoa(v.Phase.Index)}
	}
	if v.CustomFields != nil {
		res["customFields"] = v.CustomFields
	}
	if v.TemplateVariables != nil {
		tv := make(map[string]any, len(v.TemplateVariables))
		for k, val := range v.TemplateVariables {
			tv[k] = val
			if _, ok := res[k]; !ok {
				res[k] = val
			}
		}
		res["templateVariables"] = tv
	}
	return res
}

var (
	actionRe = grafana_re.MustCompile(`\{\{-?(.*?)-?\}\}`)
	quotedRe = grafana_re.MustCompile(`"(?:[^"\\]|\\.)*"|` + "`[^`]*`")
	identRe  = grafana_re.MustCompile(`(^|[^.$\w])([A-Za-z_]\w*)`)
)

// toGoTemplate rewrites handlebars style references ({{startDate}},
// {{phase.index}}) into field accesses on the data map. Function names and
// quoted arguments are left alone.
func toGoTemplate(raw string, data map[string]any) string {
	return actionRe.ReplaceAllStringFunc(raw, func(action string) string {
		m := actionRe.FindStringSubmatchIndex(action)
		body := action[m[2]:m[3]]
		quotes := quotedRe.FindAllStringIndex(body, -1)
		var sb strings.Builder
		last := 0
		for _, q := range quotes {
			sb.WriteString(dotIdents(body[last:q[0]], data))
			sb.WriteString(body[q[0]:q[1]])
			last = q[1]
		}
		sb.WriteString(dotIdents(body[last:], data))
		return action[:m[2]] + sb.String() + action[m[3]:]
	})
}

func dotIdents(s string, data map[string]any) string {
	return identRe.ReplaceAllStringFunc(s, func(match string) string {
		sub := identRe.FindStringSubmatch(match)
		if _, ok := data[sub[2]]; !ok {
			return match
		}
		return sub[1] + "." + sub[2]
	})
}

// Compile substitutes template variables into user supplied SQL. Strings
// without placeholders are returned as is.
func Compile(raw string, vars Variables) (string, error) {
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}
	data := vars.data()
	tpl, err := template.New("sql").
		Option("missingkey=error").
		Funcs(functionMap).
		Parse(toGoTemplate(raw, data))
	if err != nil {
		return "", custom_errors.NewConfigError("Error compiling SQL template: %s", err.Error())
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", custom_errors.NewConfigError("Error compiling SQL template: %s", err.Error())
	}
	return buf.String(), nil
}
