package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Known tables.
const (
	TableProfiles        = "profiles"
	TableSubscriptions   = "subscriptions"
	TableTestimonials    = "testimonials"
	TableMealPlans       = "meal_plans"
	TableMealPlanDetails = "meal_plan_details"
)

// Query is a PostgREST request under construction. Builder methods mutate and
// return the receiver; a Query is meant to be built and run once.
type Query struct {
	c       *Client
	table   string
	columns string
	filters url.Values
	order   []string
	limit   int
	offset  int
	single  bool
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{c: c, table: table, filters: url.Values{}, limit: -1}
}

func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

func (q *Query) Eq(col string, v any) *Query  { return q.filter(col, "eq", v) }
func (q *Query) Neq(col string, v any) *Query { return q.filter(col, "neq", v) }
func (q *Query) Gte(col string, v any) *Query { return q.filter(col, "gte", v) }
func (q *Query) Lte(col string, v any) *Query { return q.filter(col, "lte", v) }

// Is filters on null or a boolean: Is("status", nil) sends status=is.null.
func (q *Query) Is(col string, v any) *Query { return q.filter(col, "is", v) }

// NotIs negates Is: NotIs("reactivated_at", nil) keeps rows with a value.
func (q *Query) NotIs(col string, v any) *Query { return q.filter(col, "not.is", v) }

// Or adds a disjunction in PostgREST syntax, e.g. "status.eq.active,status.is.null".
func (q *Query) Or(expr string) *Query {
	q.filters.Add("or", "("+expr+")")
	return q
}

func (q *Query) Order(col string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, col+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Range selects rows from..to inclusive, zero based.
func (q *Query) Range(from, to int) *Query {
	q.offset = from
	q.limit = to - from + 1
	return q
}

// Single expects exactly one row and returns it as an object instead of an array.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

func (q *Query) filter(col, op string, v any) *Query {
	q.filters.Add(col, op+"."+formatValue(v))
	return q
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func (q *Query) path() string { return "/rest/v1/" + url.PathEscape(q.table) }

func (q *Query) params(withShape bool) url.Values {
	p := url.Values{}
	for k, vs := range q.filters {
		p[k] = append([]string(nil), vs...)
	}
	if !withShape {
		return p
	}
	cols := q.columns
	if cols == "" {
		cols = "*"
	}
	p.Set("select", cols)
	if len(q.order) > 0 {
		p.Set("order", strings.Join(q.order, ","))
	}
	if q.limit >= 0 {
		p.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		p.Set("offset", strconv.Itoa(q.offset))
	}
	return p
}

func (q *Query) header(prefer string) http.Header {
	h := http.Header{}
	if q.single {
		h.Set("Accept", "application/vnd.pgrst.object+json")
	}
	if prefer != "" {
		h.Set("Prefer", prefer)
	}
	return h
}

// Get runs a select.
func (q *Query) Get(ctx context.Context) Result[json.RawMessage] {
	raw, _, err := q.c.do(ctx, request{
		method: http.MethodGet,
		path:   q.path(),
		query:  q.params(true),
		header: q.header(""),
	})
	if err != nil {
		return Err[json.RawMessage](wrap("select "+q.table, err))
	}
	return Ok(json.RawMessage(raw))
}

// Count returns the number of rows matching the filters without fetching them.
func (q *Query) Count(ctx context.Context) Result[int] {
	p := q.params(false)
	p.Set("select", "*")
	p.Set("limit", "0")
	_, hdr, err := q.c.do(ctx, request{
		method: http.MethodGet,
		path:   q.path(),
		query:  p,
		header: http.Header{"Prefer": {"count=exact"}},
	})
	if err != nil {
		return Err[int](wrap("count "+q.table, err))
	}
	return parseContentRange(hdr.Get("Content-Range"))
}

// Content-Range looks like "*/42" or "0-9/42".
func parseContentRange(v string) Result[int] {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return Err[int](fmt.Errorf("platform: bad Content-Range %q", v))
	}
	n, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return Err[int](fmt.Errorf("platform: bad Content-Range %q", v))
	}
	return Ok(n)
}

// Insert adds rows, a struct, map or slice of either. With returning the
// inserted rows come back in the result.
func (q *Query) Insert(ctx context.Context, rows any, returning bool) Result[json.RawMessage] {
	p := url.Values{}
	if returning && q.columns != "" {
		p.Set("select", q.columns)
	}
	raw, _, err := q.c.do(ctx, request{
		method: http.MethodPost,
		path:   q.path(),
		query:  p,
		body:   rows,
		header: q.header(preferReturn(returning)),
	})
	if err != nil {
		return Err[json.RawMessage](wrap("insert "+q.table, err))
	}
	return Ok(json.RawMessage(raw))
}

// Update patches every row matching the filters. Unfiltered updates are refused.
func (q *Query) Update(ctx context.Context, patch any, returning bool) Result[json.RawMessage] {
	if len(q.filters) == 0 {
		return Err[json.RawMessage](ErrNoFilter)
	}
	p := q.params(false)
	if returning && q.columns != "" {
		p.Set("select", q.columns)
	}
	raw, _, err := q.c.do(ctx, request{
		method: http.MethodPatch,
		path:   q.path(),
		query:  p,
		body:   patch,
		header: q.header(preferReturn(returning)),
	})
	if err != nil {
		return Err[json.RawMessage](wrap("update "+q.table, err))
	}
	return Ok(json.RawMessage(raw))
}

// Delete removes every row matching the filters. Unfiltered deletes are refused.
func (q *Query) Delete(ctx context.Context) Result[json.RawMessage] {
	if len(q.filters) == 0 {
		return Err[json.RawMessage](ErrNoFilter)
	}
	raw, _, err := q.c.do(ctx, request{
		method: http.MethodDelete,
		path:   q.path(),
		query:  q.params(false),
		header: q.header("return=minimal"),
	})
	if err != nil {
		return Err[json.RawMessage](wrap("delete "+q.table, err))
	}
	return Ok(json.RawMessage(raw))
}

func preferReturn(returning bool) string {
	if returning {
		return "return=representation"
	}
	return "return=minimal"
}
