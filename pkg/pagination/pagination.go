package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
)

const (
	DefaultPageNum  = 1
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Params holds 1-based page selection parameters.
type Params struct {
	PageNum  int
	PageSize int
}

// FromContext extracts page_num and page_size from the echo context.
// Absent values take the defaults; present values must be positive
// integers and page_size is capped at MaxPageSize.
func FromContext(c echo.Context) (Params, error) {
	p := Params{PageNum: DefaultPageNum, PageSize: DefaultPageSize}

	if raw := c.QueryParam("page_num"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, &fhir.ValidationError{Param: "page_num", Value: raw, Reason: "must be an integer"}
		}
		p.PageNum = n
	}
	if raw := c.QueryParam("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, &fhir.ValidationError{Param: "page_size", Value: raw, Reason: "must be an integer"}
		}
		p.PageSize = n
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p, nil
}

// Validate rejects non-positive page numbers and sizes.
func (p Params) Validate() error {
	if p.PageNum < 1 {
		return &fhir.ValidationError{Param: "page_num", Value: strconv.Itoa(p.PageNum), Reason: "must be at least 1"}
	}
	if p.PageSize < 1 {
		return &fhir.ValidationError{Param: "page_size", Value: strconv.Itoa(p.PageSize), Reason: "must be at least 1"}
	}
	return nil
}

// Bounds returns the slice bounds of the page within a result of total
// items, clamped to [0, total]. Page numbers far past the end never
// overflow the offset computation.
func (p Params) Bounds(total int) (start, end int) {
	if p.beyond(total) {
		return total, total
	}
	start = (p.PageNum - 1) * p.PageSize
	end = total
	if total-start > p.PageSize {
		end = start + p.PageSize
	}
	return start, end
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	if p.beyond(total) {
		return false
	}
	return total-(p.PageNum-1)*p.PageSize > p.PageSize
}

// beyond reports whether the page starts past total items.
func (p Params) beyond(total int) bool {
	if p.PageNum < 1 || p.PageSize < 1 {
		return true
	}
	return p.PageNum-1 > total/p.PageSize
}

// HasPrevious returns true for every page after the first, whether or not
// the current page holds items.
func (p Params) HasPrevious() bool {
	return p.PageNum > 1
}

// Links holds the navigation links of a page. A nil link marshals as null.
type Links struct {
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
}

// Page is one page of a result set.
type Page[T any] struct {
	Data       []T    `json:"data"`
	Total      int    `json:"total"`
	Count      int    `json:"count"`
	PageNum    int    `json:"page_num"`
	PageSize   int    `json:"page_size"`
	Pagination Links  `json:"pagination"`
	Message    string `json:"message,omitempty"`
}

// Paginate slices items into the page selected by p. Links are basePath
// with query (minus any previous page parameters) plus page_num and
// page_size.
func Paginate[T any](items []T, p Params, basePath string, query url.Values) (*Page[T], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	total := len(items)
	start, end := p.Bounds(total)

	page := &Page[T]{
		Data:     make([]T, end-start),
		Total:    total,
		Count:    end - start,
		PageNum:  p.PageNum,
		PageSize: p.PageSize,
	}
	copy(page.Data, items[start:end])

	if p.HasPrevious() {
		link := pageLink(basePath, query, p.PageNum-1, p.PageSize)
		page.Pagination.Previous = &link
	}
	if p.HasNext(total) {
		link := pageLink(basePath, query, p.PageNum+1, p.PageSize)
		page.Pagination.Next = &link
	}
	return page, nil
}

func pageLink(basePath string, query url.Values, pageNum, pageSize int) string {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("page_num", strconv.Itoa(pageNum))
	q.Set("page_size", strconv.Itoa(pageSize))
	return basePath + "?" + q.Encode()
}
