// Package uniqlo adapts the operator's Uniqlo crawler service to source.Source.
//
// The crawler service fronts the Uniqlo commerce API and returns category
// nodes already in the "current + children" shape; items are paged by
// offset and limit, which this adapter maps from page and hits.
package uniqlo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

const (
	categoriesPath = "/uniqlo/categories"
	productsPath   = "/uniqlo/products"
)

// RedactedParams lists the credential-bearing query parameters.
var RedactedParams = []string{"clientId"}

// Client queries the crawler service.
type Client struct {
	http    *source.HTTPClient
	baseURL string
}

// New builds a Uniqlo client against the crawler service at baseURL.
func New(httpClient *source.HTTPClient, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

var _ source.Source = (*Client)(nil)

// Site implements source.Source.
func (c *Client) Site() catalog.Site {
	return catalog.SiteUniqlo
}

// CategoriesSearch returns the category parentID with its children.
func (c *Client) CategoriesSearch(ctx context.Context, cred catalog.Credential, parentID string) (source.CategoryNode, error) {
	if parentID == "" {
		parentID = "0"
	}
	params := url.Values{}
	params.Set("clientId", cred.AppID)
	params.Set("parent", parentID)

	var node source.CategoryNode
	if err := c.http.GetJSON(ctx, c.baseURL+categoriesPath, params, &node); err != nil {
		return source.CategoryNode{}, fmt.Errorf("uniqlo category search %s: %w", parentID, err)
	}
	if node.Current.ID == "" {
		node.Current.ID = source.RemoteID(parentID)
	}
	if node.Children == nil {
		node.Children = []source.RemoteCategory{}
	}
	return node, nil
}

type productsResponse struct {
	Result struct {
		Items      []json.RawMessage `json:"items"`
		Pagination struct {
			Total  int `json:"total"`
			Offset int `json:"offset"`
			Count  int `json:"count"`
		} `json:"pagination"`
	} `json:"result"`
}

// ItemSearch runs one page of the product search.
func (c *Client) ItemSearch(ctx context.Context, cred catalog.Credential, query source.ItemQuery) (source.ItemPage, error) {
	if err := query.Validate(); err != nil {
		return source.ItemPage{}, err
	}
	productID := query.ProductID
	if productID == "" {
		productID = query.ItemCode
	}

	params := url.Values{}
	params.Set("clientId", cred.AppID)
	params.Set("categoryId", query.CategoryID)
	params.Set("productIds", productID)
	params.Set("q", query.Keyword)
	params.Set("offset", source.Itoa((query.Page-1)*query.Hits))
	params.Set("limit", source.Itoa(query.Hits))

	var resp productsResponse
	if err := c.http.GetJSON(ctx, c.baseURL+productsPath, params, &resp); err != nil {
		return source.ItemPage{}, fmt.Errorf("uniqlo product search: %w", err)
	}

	total := resp.Result.Pagination.Total
	page := source.ItemPage{
		Items:      resp.Result.Items,
		Page:       query.Page,
		TotalPages: (total + query.Hits - 1) / query.Hits,
	}
	if page.Items == nil {
		page.Items = []json.RawMessage{}
	}
	return page, nil
}

// TagSearch returns an empty group; the Uniqlo catalog has no tag taxonomy.
func (c *Client) TagSearch(context.Context, catalog.Credential, string) (source.TagGroup, error) {
	return source.TagGroup{}, nil
}
