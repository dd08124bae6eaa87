package postgresttest

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// queryParams holds the parsed PostgREST query string.
type queryParams struct {
	Select  []string
	Order   []orderParam
	Limit   int // -1 when absent
	Offset  int
	Filters []filterParam
}

type orderParam struct {
	Column     string
	Descending bool
	NullsFirst bool
}

type filterParam struct {
	Column   string
	Operator string // eq, neq, ilike, like, is, gt, gte, lt, lte
	Value    string
}

func parseQueryParams(values url.Values) (queryParams, error) {
	params := queryParams{Limit: -1}

	if sel := values.Get("select"); sel != "" && sel != "*" {
		for _, col := range strings.Split(sel, ",") {
			if col = strings.TrimSpace(col); col != "" {
				params.Select = append(params.Select, col)
			}
		}
	}
	if order := values.Get("order"); order != "" {
		params.Order = parseOrderParam(order)
	}
	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return params, &Error{Status: http.StatusBadRequest, Code: "PGRST103", Message: "invalid limit " + limit}
		}
		params.Limit = n
	}
	if offset := values.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return params, &Error{Status: http.StatusBadRequest, Code: "PGRST103", Message: "invalid offset " + offset}
		}
		params.Offset = n
	}

	for column, vals := range values {
		if isReservedParam(column) {
			continue
		}
		for _, v := range vals {
			f, err := parseFilterParam(column, v)
			if err != nil {
				return params, err
			}
			params.Filters = append(params.Filters, f)
		}
	}
	return params, nil
}

func isReservedParam(name string) bool {
	switch name {
	case "select", "order", "limit", "offset", "columns", "on_conflict":
		return true
	}
	return false
}

func parseFilterParam(column, value string) (filterParam, error) {
	op, operand, ok := strings.Cut(value, ".")
	if !ok {
		return filterParam{}, &Error{Status: http.StatusBadRequest, Code: "PGRST100", Message: "failed to parse filter " + column + "=" + value}
	}
	switch op {
	case "eq", "neq", "gt", "gte", "lt", "lte", "like", "ilike", "is":
	default:
		return filterParam{}, &Error{Status: http.StatusBadRequest, Code: "PGRST100", Message: "unsupported operator " + op}
	}
	return filterParam{Column: column, Operator: op, Value: operand}, nil
}

// parseOrderParam reads "col.desc.nullsfirst,other" terms. Without an explicit
// position nulls sort last ascending and first descending, as in PostgreSQL.
func parseOrderParam(order string) []orderParam {
	parts := strings.Split(order, ",")
	result := make([]orderParam, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		nulls := ""
		if strings.HasSuffix(part, ".nullsfirst") {
			part, nulls = strings.TrimSuffix(part, ".nullsfirst"), "first"
		} else if strings.HasSuffix(part, ".nullslast") {
			part, nulls = strings.TrimSuffix(part, ".nullslast"), "last"
		}

		desc := false
		if strings.HasSuffix(part, ".desc") {
			part, desc = strings.TrimSuffix(part, ".desc"), true
		} else {
			part = strings.TrimSuffix(part, ".asc")
		}

		nullsFirst := desc
		if nulls != "" {
			nullsFirst = nulls == "first"
		}
		result = append(result, orderParam{Column: part, Descending: desc, NullsFirst: nullsFirst})
	}
	return result
}

// prefer holds the Prefer header directives (RFC 7240).
type prefer struct {
	Return string
	Count  string
}

func parsePrefer(r *http.Request) prefer {
	p := prefer{Return: "minimal"}
	for _, header := range r.Header.Values("Prefer") {
		for _, pref := range strings.Split(header, ",") {
			key, value, found := strings.Cut(strings.TrimSpace(pref), "=")
			if !found {
				continue
			}
			value = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`))
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "return":
				p.Return = value
			case "count":
				p.Count = value
			}
		}
	}
	return p
}

func (p prefer) wantsRepresentation() bool { return p.Return == "representation" }
func (p prefer) wantsCountExact() bool     { return p.Count == "exact" }
