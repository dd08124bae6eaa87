package sqlrest

import (
	"regexp"
	"strings"
)

const identPattern = `[a-z_][a-z0-9_$]*(?:\.[a-z_][a-z0-9_$]*)?`

var (
	selectPrefix = regexp.MustCompile(`^select\b`)
	insertPrefix = regexp.MustCompile(`^insert\b`)
	updatePrefix = regexp.MustCompile(`^update\b`)
	deletePrefix = regexp.MustCompile(`^delete\b`)

	selectTable = regexp.MustCompile(`\bfrom\s+(` + identPattern + `)`)
	insertTable = regexp.MustCompile(`^insert\s+into\s+(` + identPattern + `)`)
	updateTable = regexp.MustCompile(`^update\s+(?:only\s+)?(` + identPattern + `)`)
	deleteTable = regexp.MustCompile(`^delete\s+from\s+(?:only\s+)?(` + identPattern + `)`)

	hasWhere     = regexp.MustCompile(`\bwhere\b`)
	hasLimit     = regexp.MustCompile(`\blimit\b`)
	hasCount     = regexp.MustCompile(`\bcount\s*\(`)
	hasReturning = regexp.MustCompile(`\breturning\b`)
)

// Classify determines the operation, primary table and feature flags of a
// statement. Only the first table is reported; statements touching several
// tables are escalated by the Dispatcher, not here.
func Classify(sql string, params ...any) ParsedStatement {
	parsed := ParsedStatement{
		Operation: OpUnknown,
		Original:  RawStatement{Text: sql, Params: params},
	}

	lower := strings.ToLower(strings.TrimSpace(mask(sql)))

	var tableRe *regexp.Regexp
	switch {
	case selectPrefix.MatchString(lower):
		parsed.Operation, tableRe = OpSelect, selectTable
	case insertPrefix.MatchString(lower):
		parsed.Operation, tableRe = OpInsert, insertTable
	case updatePrefix.MatchString(lower):
		parsed.Operation, tableRe = OpUpdate, updateTable
	case deletePrefix.MatchString(lower):
		parsed.Operation, tableRe = OpDelete, deleteTable
	default:
		return parsed
	}

	if m := tableRe.FindStringSubmatch(lower); m != nil {
		parsed.Table = m[1]
	}
	parsed.HasWhere = hasWhere.MatchString(lower)
	parsed.HasLimit = hasLimit.MatchString(lower)
	parsed.HasCount = hasCount.MatchString(lower)
	parsed.HasReturning = hasReturning.MatchString(lower)

	return parsed
}
