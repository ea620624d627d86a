// Package rakuten adapts the Rakuten Ichiba web service to source.Source.
package rakuten

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// DefaultBaseURL is the public Ichiba API root.
const DefaultBaseURL = "https://app.rakuten.co.jp/services/api"

// MaxPageCount is the deepest page the item search will serve.
const MaxPageCount = 100

const (
	genrePath = "/IchibaGenre/Search/20140222"
	itemPath  = "/IchibaItem/Search/20220601"
	tagPath   = "/IchibaTag/Search/20140222"
)

// RedactedParams lists the credential-bearing query parameters.
var RedactedParams = []string{"applicationId", "affiliateId"}

// Client talks to the Ichiba API using the leased credential on each call.
type Client struct {
	http    *source.HTTPClient
	baseURL string
}

// New builds a Rakuten client. An empty baseURL selects DefaultBaseURL.
func New(httpClient *source.HTTPClient, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

var _ source.Source = (*Client)(nil)

// Site implements source.Source.
func (c *Client) Site() catalog.Site {
	return catalog.SiteRakuten
}

type genre struct {
	ID    source.RemoteID `json:"genreId"`
	Name  string          `json:"genreName"`
	Level int             `json:"genreLevel"`
}

func (g genre) remote() source.RemoteCategory {
	return source.RemoteCategory{ID: g.ID, Name: g.Name, Level: g.Level}
}

type genreResponse struct {
	Current  *genre  `json:"current"`
	Children []genre `json:"children"`
}

// CategoriesSearch returns the genre parentID with its direct children.
func (c *Client) CategoriesSearch(ctx context.Context, cred catalog.Credential, parentID string) (source.CategoryNode, error) {
	if parentID == "" {
		parentID = "0"
	}
	params := c.baseParams(cred)
	params.Set("genreId", parentID)

	var resp genreResponse
	if err := c.http.GetJSON(ctx, c.baseURL+genrePath, params, &resp); err != nil {
		return source.CategoryNode{}, fmt.Errorf("rakuten genre search %s: %w", parentID, err)
	}

	node := source.CategoryNode{
		Current: source.RemoteCategory{ID: source.RemoteID(parentID)},
	}
	if resp.Current != nil && resp.Current.ID != "" {
		node.Current = resp.Current.remote()
	}
	node.Children = make([]source.RemoteCategory, 0, len(resp.Children))
	for _, child := range resp.Children {
		node.Children = append(node.Children, child.remote())
	}
	return node, nil
}

type tagResponse struct {
	ID   source.RemoteID `json:"tagId"`
	Name string          `json:"tagName"`
	// ParentID is the parent tag id; zero means none.
	ParentID source.RemoteID `json:"parentTagId"`
}

type tagGroupResponse struct {
	ID   source.RemoteID `json:"tagGroupId"`
	Name string          `json:"tagGroupName"`
	Tags []tagResponse   `json:"tags"`
}

func (g tagGroupResponse) group() source.TagGroup {
	out := source.TagGroup{ID: g.ID, Name: g.Name, Tags: make([]source.RemoteTag, 0, len(g.Tags))}
	for _, t := range g.Tags {
		parent := t.ParentID
		if parent == "0" {
			parent = ""
		}
		out.Tags = append(out.Tags, source.RemoteTag{ID: t.ID, Name: t.Name, ParentID: parent})
	}
	return out
}

type itemResponse struct {
	Count          int                `json:"count"`
	Page           int                `json:"page"`
	PageCount      int                `json:"pageCount"`
	Items          []json.RawMessage  `json:"Items"`
	TagInformation []tagGroupResponse `json:"TagInformation"`
}

// ItemSearch runs one page of the item search.
func (c *Client) ItemSearch(ctx context.Context, cred catalog.Credential, query source.ItemQuery) (source.ItemPage, error) {
	if err := query.Validate(); err != nil {
		return source.ItemPage{}, err
	}
	if query.ProductID != "" {
		return source.ItemPage{}, fmt.Errorf("%w: rakuten does not search by product_id", source.ErrInvalidQuery)
	}

	params := c.baseParams(cred)
	params.Set("genreId", query.CategoryID)
	params.Set("itemCode", query.ItemCode)
	params.Set("keyword", query.Keyword)
	params.Set("page", source.Itoa(query.Page))
	params.Set("hits", source.Itoa(query.Hits))
	if query.ItemCode == "" {
		params.Set("tagInformationFlag", "1")
	}

	var resp itemResponse
	if err := c.http.GetJSON(ctx, c.baseURL+itemPath, params, &resp); err != nil {
		return source.ItemPage{}, fmt.Errorf("rakuten item search: %w", err)
	}

	page := source.ItemPage{
		Items:      resp.Items,
		Page:       query.Page,
		TotalPages: min(resp.PageCount, MaxPageCount),
	}
	if page.Items == nil {
		page.Items = []json.RawMessage{}
	}
	for _, g := range resp.TagInformation {
		page.TagGroups = append(page.TagGroups, g.group())
	}
	return page, nil
}

type tagSearchResponse struct {
	TagGroups []tagGroupResponse `json:"tagGroups"`
}

// TagSearch returns the group that contains tagID, restricted to that tag.
func (c *Client) TagSearch(ctx context.Context, cred catalog.Credential, tagID string) (source.TagGroup, error) {
	if tagID == "" {
		return source.TagGroup{}, fmt.Errorf("%w: tag id is required", source.ErrInvalidQuery)
	}
	params := c.baseParams(cred)
	params.Set("tagId", tagID)

	var resp tagSearchResponse
	if err := c.http.GetJSON(ctx, c.baseURL+tagPath, params, &resp); err != nil {
		return source.TagGroup{}, fmt.Errorf("rakuten tag search %s: %w", tagID, err)
	}
	for _, g := range resp.TagGroups {
		group := g.group()
		for _, t := range group.Tags {
			if t.ID.String() == tagID {
				group.Tags = []source.RemoteTag{t}
				return group, nil
			}
		}
	}
	return source.TagGroup{}, fmt.Errorf("rakuten tag %s: %w", tagID, catalog.ErrNotFound)
}

func (c *Client) baseParams(cred catalog.Credential) url.Values {
	params := url.Values{}
	params.Set("applicationId", cred.AppID)
	params.Set("affiliateId", cred.PartnerID)
	params.Set("formatVersion", "2")
	return params
}
