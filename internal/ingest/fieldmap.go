package ingest

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// FieldMap maps remote item JSON paths (gjson syntax) onto product columns.
// An empty path means the source does not carry that column.
type FieldMap struct {
	Site catalog.Site
	// LocalID holds an id that may already carry the site prefix.
	LocalID string
	// SiteID holds the remote item code.
	SiteID        string
	Name          string
	Description   string
	Price         string
	Availability  string
	URL           string
	ReviewCount   string
	ReviewAverage string
	TagIDs        string
	// Images lists image list fields in priority order; the first non-empty one wins.
	Images []string
}

// RakutenFields maps Ichiba item search results (formatVersion 2).
var RakutenFields = FieldMap{
	Site:          catalog.SiteRakuten,
	LocalID:       "id",
	SiteID:        "itemCode",
	Name:          "itemName",
	Description:   "itemCaption",
	Price:         "itemPrice",
	Availability:  "availability",
	URL:           "itemUrl",
	ReviewCount:   "reviewCount",
	ReviewAverage: "reviewAverage",
	TagIDs:        "tagIds",
	Images:        []string{"mediumImageUrls", "smallImageUrls"},
}

// UniqloFields maps crawler service product records.
var UniqloFields = FieldMap{
	Site:          catalog.SiteUniqlo,
	LocalID:       "id",
	SiteID:        "productId",
	Name:          "name",
	Description:   "longDescription",
	Price:         "prices.base.value",
	Availability:  "inStock",
	URL:           "url",
	ReviewCount:   "rating.count",
	ReviewAverage: "rating.average",
	Images:        []string{"images.main", "images.sub"},
}

// DefaultFieldMaps returns the field map for every supported site.
func DefaultFieldMaps() map[catalog.Site]FieldMap {
	return map[catalog.Site]FieldMap{
		catalog.SiteRakuten: RakutenFields,
		catalog.SiteUniqlo:  UniqloFields,
	}
}

// Item is one remote record projected through a FieldMap. Pointer fields are
// nil when the record does not carry the column.
type Item struct {
	ID            string
	SiteID        string
	Name          string
	Price         decimal.Decimal
	Description   *string
	URL           *string
	Availability  *bool
	ReviewCount   *int
	ReviewAverage *decimal.Decimal
	// TagIDs are local tag ids. HasTags distinguishes "no tag field" from an empty list.
	TagIDs  []string
	HasTags bool
	Images  []string
	Raw     json.RawMessage
}

// Extract projects raw through the field map. Missing id, name or price
// yields a DataShapeError.
func (m FieldMap) Extract(raw json.RawMessage) (Item, error) {
	if !gjson.ValidBytes(raw) {
		return Item{}, &catalog.DataShapeError{Field: "item", Record: truncate(string(raw), 64)}
	}
	doc := gjson.ParseBytes(raw)
	item := Item{Raw: raw}

	siteID := m.siteID(doc)
	if siteID == "" {
		return Item{}, &catalog.DataShapeError{Field: m.SiteID, Record: truncate(string(raw), 64)}
	}
	item.SiteID = siteID
	item.ID = catalog.LocalID(m.Site, siteID)

	name := get(doc, m.Name)
	if !name.Exists() || strings.TrimSpace(name.String()) == "" {
		return Item{}, &catalog.DataShapeError{Field: m.Name, Record: item.ID}
	}
	item.Name = strings.TrimSpace(name.String())

	price := get(doc, m.Price)
	if !price.Exists() {
		return Item{}, &catalog.DataShapeError{Field: m.Price, Record: item.ID}
	}
	parsed, err := decimal.NewFromString(price.String())
	if err != nil || parsed.IsNegative() {
		return Item{}, &catalog.DataShapeError{Field: m.Price, Record: item.ID}
	}
	item.Price = parsed

	if v := get(doc, m.Description); v.Exists() {
		s := v.String()
		item.Description = &s
	}
	if v := get(doc, m.URL); v.Exists() {
		s := v.String()
		item.URL = &s
	}
	if v := get(doc, m.Availability); v.Exists() {
		b := v.Bool()
		item.Availability = &b
	}
	if v := get(doc, m.ReviewCount); v.Exists() {
		n := int(v.Int())
		item.ReviewCount = &n
	}
	if v := get(doc, m.ReviewAverage); v.Exists() {
		if d, err := decimal.NewFromString(v.String()); err == nil {
			item.ReviewAverage = &d
		}
	}
	if v := get(doc, m.TagIDs); v.Exists() {
		item.HasTags = true
		item.TagIDs = []string{}
		seen := make(map[string]struct{})
		for _, t := range v.Array() {
			id := strings.TrimSpace(t.String())
			if id == "" || id == "0" {
				continue
			}
			local := catalog.LocalID(m.Site, id)
			if _, dup := seen[local]; dup {
				continue
			}
			seen[local] = struct{}{}
			item.TagIDs = append(item.TagIDs, local)
		}
	}
	item.Images = m.images(doc)
	return item, nil
}

func (m FieldMap) siteID(doc gjson.Result) string {
	if v := get(doc, m.LocalID); v.Exists() {
		id := strings.TrimSpace(v.String())
		if rest, ok := strings.CutPrefix(id, string(m.Site)+":"); ok {
			return rest
		}
		if id != "" {
			return id
		}
	}
	return strings.TrimSpace(get(doc, m.SiteID).String())
}

// images returns the URLs of the first non-empty image field, stripped of
// query strings and deduplicated in order.
func (m FieldMap) images(doc gjson.Result) []string {
	for _, path := range m.Images {
		v := get(doc, path)
		if !v.Exists() {
			continue
		}
		var urls []string
		seen := make(map[string]struct{})
		add := func(raw string) {
			u := catalog.StripQuery(raw)
			if u == "" {
				return
			}
			if _, dup := seen[u]; dup {
				return
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		elems := []gjson.Result{v}
		if v.IsArray() {
			elems = v.Array()
		}
		for _, e := range elems {
			switch {
			case e.Type == gjson.String:
				add(e.String())
			case e.IsObject():
				if u := e.Get("imageUrl"); u.Exists() {
					add(u.String())
				} else {
					add(e.Get("url").String())
				}
			}
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func get(doc gjson.Result, path string) gjson.Result {
	if path == "" {
		return gjson.Result{}
	}
	return doc.Get(path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
