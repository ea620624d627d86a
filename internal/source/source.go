// Package source defines the catalog source contract and the shared HTTP
// plumbing used by the per-site adapters.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// Hit bounds accepted by every item search.
const (
	MinHits = 1
	MaxHits = 30
)

// ErrInvalidQuery is returned when a query violates adapter input constraints.
var ErrInvalidQuery = errors.New("invalid source query")

// Source is a blocking request/response adapter for one catalog site.
type Source interface {
	Site() catalog.Site
	CategoriesSearch(ctx context.Context, cred catalog.Credential, parentID string) (CategoryNode, error)
	ItemSearch(ctx context.Context, cred catalog.Credential, query ItemQuery) (ItemPage, error)
	TagSearch(ctx context.Context, cred catalog.Credential, tagID string) (TagGroup, error)
}

// RemoteID is a remote identifier that may arrive as a JSON string or number.
type RemoteID string

// UnmarshalJSON accepts both numeric and string identifiers.
func (id *RemoteID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode remote id: %w", err)
		}
		*id = RemoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode remote id: %w", err)
	}
	*id = RemoteID(n.String())
	return nil
}

// String returns the identifier text.
func (id RemoteID) String() string {
	return string(id)
}

// RemoteCategory is one category node as reported by a source.
type RemoteCategory struct {
	ID    RemoteID `json:"id"`
	Name  string   `json:"name"`
	Level int      `json:"level"`
}

// CategoryNode is the "current + children" payload of a category search.
type CategoryNode struct {
	Current  RemoteCategory   `json:"current"`
	Children []RemoteCategory `json:"children"`
}

// RemoteTag is a single tag of a tag group.
type RemoteTag struct {
	ID       RemoteID `json:"id"`
	Name     string   `json:"name"`
	ParentID RemoteID `json:"parent_id,omitempty"`
}

// TagGroup is a tag group header with its member tags.
type TagGroup struct {
	ID   RemoteID    `json:"id"`
	Name string      `json:"name"`
	Tags []RemoteTag `json:"tags"`
}

// ItemPage is one page of item search results. Items are kept raw so the
// per-site field map decides how they become products.
type ItemPage struct {
	Items      []json.RawMessage `json:"items"`
	TagGroups  []TagGroup        `json:"tag_groups,omitempty"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// ItemQuery selects items. CategoryID, ItemCode, ProductID and Keyword
// narrow the search; Page and Hits control paging.
type ItemQuery struct {
	CategoryID string
	ItemCode   string
	ProductID  string
	Keyword    string
	Page       int
	Hits       int
}

// Validate enforces the adapter input constraints before any I/O happens.
func (q ItemQuery) Validate() error {
	if q.Hits < MinHits || q.Hits > MaxHits {
		return fmt.Errorf("%w: hits %d outside [%d,%d]", ErrInvalidQuery, q.Hits, MinHits, MaxHits)
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page %d must be >= 1", ErrInvalidQuery, q.Page)
	}
	if q.ItemCode != "" && q.ProductID != "" {
		return fmt.Errorf("%w: item_code and product_id are mutually exclusive", ErrInvalidQuery)
	}
	if (q.ItemCode != "" || q.ProductID != "") && q.Keyword != "" {
		return fmt.Errorf("%w: keyword cannot be combined with an item or product id", ErrInvalidQuery)
	}
	if q.CategoryID == "" && q.ItemCode == "" && q.ProductID == "" && strings.TrimSpace(q.Keyword) == "" {
		return fmt.Errorf("%w: one of category_id, item_code, product_id or keyword is required", ErrInvalidQuery)
	}
	return nil
}

// Itoa formats an int query parameter.
func Itoa(n int) string {
	return strconv.Itoa(n)
}
