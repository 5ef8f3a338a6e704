package pagination

import (
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Parse extracts and validates page/limit from query parameters
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	if page < 1 {
		page = DefaultPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// Envelope is the paginated list body: count plus next/previous page
// links, results under "results".
type Envelope struct {
	Count    int64       `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// NewEnvelope builds the list body, deriving next/previous links from
// the request path, its query and the total count. Filter parameters
// present on the request (e.g. status) carry over into the links.
func NewEnvelope(path string, query url.Values, p Params, count int64, results interface{}) Envelope {
	env := Envelope{Count: count, Results: results}

	link := func(page int) string {
		q := url.Values{}
		for k, vs := range query {
			if k == "page" || k == "limit" {
				continue
			}
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(p.Limit))
		return path + "?" + q.Encode()
	}

	if int64(p.Page*p.Limit) < count {
		next := link(p.Page + 1)
		env.Next = &next
	}
	if p.Page > 1 {
		prev := link(p.Page - 1)
		env.Previous = &prev
	}
	return env
}
