package stub

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/expr-lang/expr"
	"github.com/ohler55/ojg/jp"
)

// Predicate describes one condition an incoming request must satisfy.
// Every populated operator must hold for the predicate to match.
// String comparisons are case-insensitive unless CaseSensitive is set.
type Predicate struct {
	Equals     map[string]any    `json:"equals,omitempty" yaml:"equals,omitempty"`
	DeepEquals map[string]any    `json:"deepEquals,omitempty" yaml:"deepEquals,omitempty"`
	Contains   map[string]any    `json:"contains,omitempty" yaml:"contains,omitempty"`
	StartsWith map[string]any    `json:"startsWith,omitempty" yaml:"startsWith,omitempty"`
	EndsWith   map[string]any    `json:"endsWith,omitempty" yaml:"endsWith,omitempty"`
	Matches    map[string]any    `json:"matches,omitempty" yaml:"matches,omitempty"`
	Exists     map[string]any    `json:"exists,omitempty" yaml:"exists,omitempty"`
	Not        *Predicate        `json:"not,omitempty" yaml:"not,omitempty"`
	And        []Predicate       `json:"and,omitempty" yaml:"and,omitempty"`
	Or         []Predicate       `json:"or,omitempty" yaml:"or,omitempty"`
	JSONPath   map[string]any    `json:"jsonpath,omitempty" yaml:"jsonpath,omitempty"`
	XPath      map[string]string `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`

	CaseSensitive bool `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

// Match evaluates the predicate against normalized request fields.
// Returns an error only for malformed predicates (bad regexp, bad jsonpath,
// bad expression); a request that simply doesn't satisfy a condition is a
// clean non-match.
func (p Predicate) Match(fields map[string]any) (bool, error) {
	checks := []struct {
		conds map[string]any
		leaf  func(exp, act any) (bool, error)
	}{
		{p.Equals, p.leafEquals},
		{p.Contains, p.leafString(strings.Contains)},
		{p.StartsWith, p.leafString(strings.HasPrefix)},
		{p.EndsWith, p.leafString(strings.HasSuffix)},
		{p.Matches, p.leafMatches},
		{p.Exists, leafExists},
	}
	for _, c := range checks {
		if len(c.conds) == 0 {
			continue
		}
		ok, err := matchFields(c.conds, fields, c.leaf)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(p.DeepEquals) > 0 {
		for key, exp := range p.DeepEquals {
			if !reflect.DeepEqual(exp, lookupField(fields, key)) {
				return false, nil
			}
		}
	}

	if len(p.JSONPath) > 0 {
		ok, err := matchJSONPath(p.JSONPath, bodyOf(fields))
		if err != nil || !ok {
			return false, err
		}
	}
	if len(p.XPath) > 0 {
		if !matchXPath(p.XPath, bodyOf(fields)) {
			return false, nil
		}
	}
	if p.Expression != "" {
		ok, err := matchExpression(p.Expression, fields)
		if err != nil || !ok {
			return false, err
		}
	}

	if p.Not != nil {
		ok, err := p.Not.Match(fields)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	for _, sub := range p.And {
		ok, err := sub.Match(fields)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(p.Or) > 0 {
		matched := false
		for _, sub := range p.Or {
			ok, err := sub.Match(fields)
			if err != nil {
				return false, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	return true, nil
}

// matchFields walks the expected condition tree against the actual fields.
// Nested maps recurse; leaves are compared by the operator function.
// Field names are matched case-insensitively, which covers header maps.
func matchFields(expected map[string]any, actual any, leaf func(exp, act any) (bool, error)) (bool, error) {
	for key, exp := range expected {
		act := lookupIn(actual, key)
		if expMap, ok := exp.(map[string]any); ok {
			ok, err := matchFields(expMap, act, leaf)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		ok, err := leaf(exp, act)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// lookupField resolves a possibly dotted key ("query.page") in the fields.
func lookupField(fields map[string]any, key string) any {
	var cur any = fields
	for _, part := range strings.Split(key, ".") {
		cur = lookupIn(cur, part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func lookupIn(container any, key string) any {
	m, ok := container.(map[string]any)
	if !ok {
		return nil
	}
	if v, found := m[key]; found {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func (p Predicate) leafEquals(exp, act any) (bool, error) {
	if reflect.DeepEqual(exp, act) {
		return true, nil
	}
	return p.fold(stringify(exp)) == p.fold(stringify(act)), nil
}

func (p Predicate) leafString(op func(s, sub string) bool) func(exp, act any) (bool, error) {
	return func(exp, act any) (bool, error) {
		if act == nil {
			return false, nil
		}
		return op(p.fold(stringify(act)), p.fold(stringify(exp))), nil
	}
}

func (p Predicate) leafMatches(exp, act any) (bool, error) {
	pattern := stringify(exp)
	if !p.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid matches pattern %q: %w", stringify(exp), err)
	}
	return act != nil && re.MatchString(stringify(act)), nil
}

func leafExists(exp, act any) (bool, error) {
	want, _ := exp.(bool)
	return (act != nil) == want, nil
}

func matchJSONPath(conds map[string]any, body string) (bool, error) {
	var data any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		// Not valid JSON: the predicate simply doesn't match.
		return false, nil
	}
	for path, expected := range conds {
		x, err := jp.ParseString(path)
		if err != nil {
			return false, fmt.Errorf("invalid jsonpath %q: %w", path, err)
		}
		results := x.Get(data)
		if len(results) == 0 {
			return false, nil
		}
		if stringify(results[0]) != stringify(expected) {
			return false, nil
		}
	}
	return true, nil
}

// matchXPath evaluates XPath conditions against the body as XML.
// Supports element paths and trailing "/@attr" attribute access.
func matchXPath(conds map[string]string, body string) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return false
	}
	for path, expected := range conds {
		if extractXPath(doc, path) != expected {
			return false
		}
	}
	return true
}

func extractXPath(doc *etree.Document, path string) string {
	if elem := doc.FindElement(path); elem != nil {
		return strings.TrimSpace(elem.Text())
	}
	if elemPath, attrName, found := strings.Cut(path, "/@"); found {
		if elem := doc.FindElement(elemPath); elem != nil {
			if attr := elem.SelectAttr(attrName); attr != nil {
				return attr.Value
			}
		}
	}
	return ""
}

func matchExpression(src string, fields map[string]any) (bool, error) {
	program, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	out, err := expr.Run(program, fields)
	if err != nil {
		return false, fmt.Errorf("expression %q failed: %w", src, err)
	}
	result, ok := out.(bool)
	return ok && result, nil
}

func bodyOf(fields map[string]any) string {
	return stringify(lookupIn(fields, "body"))
}

func (p Predicate) fold(s string) string {
	if p.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; print integers without a decimal.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
