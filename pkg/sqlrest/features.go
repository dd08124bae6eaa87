package sqlrest

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

// Features lists constructs a table query cannot express.
type Features struct {
	Join             bool
	Subquery         bool
	CTE              bool
	Window           bool
	SetOperation     bool
	Concat           bool
	QuotedIdentifier bool
	Aggregate        bool
	Distinct         bool
	Locking          bool
	MultiStatement   bool
	Unparseable      bool
}

// Reason names the first blocking feature, or "" when there is none.
func (f Features) Reason() string {
	switch {
	case f.Unparseable:
		return "unparseable"
	case f.MultiStatement:
		return "multi_statement"
	case f.Join:
		return "join"
	case f.CTE:
		return "cte"
	case f.SetOperation:
		return "set_operation"
	case f.Subquery:
		return "subquery"
	case f.Window:
		return "window_function"
	case f.QuotedIdentifier:
		return "quoted_identifier"
	case f.Concat:
		return "concatenation"
	case f.Aggregate:
		return "aggregate"
	case f.Distinct:
		return "distinct"
	case f.Locking:
		return "locking_clause"
	}
	return ""
}

var (
	joinWord     = regexp.MustCompile(`\bjoin\b`)
	setOpWord    = regexp.MustCompile(`\b(?:union|intersect|except)\b`)
	cteWord      = regexp.MustCompile(`^\s*with\b`)
	windowWord   = regexp.MustCompile(`\bover\s*\(`)
	subqueryWord = regexp.MustCompile(`\(\s*select\b`)
	groupWord    = regexp.MustCompile(`\bgroup\s+by\b|\bhaving\b`)
	distinctWord = regexp.MustCompile(`\bdistinct\b`)
)

// Inspect screens the statement text, then walks its parse tree. The textual
// screen alone is enough to escalate; the parse tree catches what it misses.
func Inspect(sql string) Features {
	if f, ok := features.get(sql); ok {
		return f
	}

	spans := scan(sql)
	masked := maskSpans(sql, spans)
	lower := strings.ToLower(masked)

	var f Features
	for _, s := range spans {
		if s.kind == spanQuotedIdent {
			f.QuotedIdentifier = true
			break
		}
	}
	f.Join = joinWord.MatchString(lower)
	f.SetOperation = setOpWord.MatchString(lower)
	f.CTE = cteWord.MatchString(lower)
	f.Window = windowWord.MatchString(lower)
	f.Subquery = subqueryWord.MatchString(lower)
	f.Concat = strings.Contains(lower, "||")
	f.Aggregate = groupWord.MatchString(lower)
	f.Distinct = distinctWord.MatchString(lower)
	f.MultiStatement = strings.Contains(strings.TrimRight(strings.TrimSpace(lower), ";"), ";")

	inspectTree(sql, &f)
	features.put(sql, f)
	return f
}

// inspectTree parses sql with the PostgreSQL parser and flags node types
// found in the JSON parse tree.
func inspectTree(sql string, f *Features) {
	tree, err := pg_query.ParseToJSON(sql)
	if err != nil {
		f.Unparseable = true
		return
	}

	var doc struct {
		Stmts []json.RawMessage `json:"stmts"`
	}
	if err := json.Unmarshal([]byte(tree), &doc); err != nil {
		f.Unparseable = true
		return
	}
	if len(doc.Stmts) != 1 {
		f.MultiStatement = f.MultiStatement || len(doc.Stmts) > 1
		f.Unparseable = f.Unparseable || len(doc.Stmts) == 0
	}

	for _, raw := range doc.Stmts {
		var node any
		if err := json.Unmarshal(raw, &node); err != nil {
			f.Unparseable = true
			return
		}
		walk(node, f)
	}
}

func walk(node any, f *Features) {
	switch n := node.(type) {
	case map[string]any:
		for key, child := range n {
			switch strings.ToLower(key) {
			case "joinexpr":
				f.Join = true
			case "sublink", "rangesubselect", "rangefunction":
				f.Subquery = true
			case "withclause", "ctequery":
				f.CTE = true
			case "over", "windowclause", "windowdef":
				f.Window = true
			case "groupclause", "havingclause":
				f.Aggregate = true
			case "distinctclause":
				f.Distinct = true
			case "lockingclause":
				f.Locking = true
			case "op":
				if op, ok := child.(string); ok && strings.HasPrefix(op, "SETOP_") && op != "SETOP_NONE" {
					f.SetOperation = true
				}
			case "sval", "str":
				if s, ok := child.(string); ok && s == "||" {
					f.Concat = true
				}
			}
			walk(child, f)
		}
	case []any:
		for _, child := range n {
			walk(child, f)
		}
	}
}

// featureCache memoizes Inspect by statement text. It is cleared when full.
type featureCache struct {
	mu    sync.RWMutex
	items map[string]Features
	limit int
}

var features = &featureCache{items: map[string]Features{}, limit: 1024}

func (c *featureCache) get(sql string) (Features, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.items[sql]
	return f, ok
}

func (c *featureCache) put(sql string, f Features) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.limit {
		c.items = make(map[string]Features, c.limit)
	}
	c.items[sql] = f
}
