// Package tasks names every asynchronous task, encodes their arguments and
// routes them to the services that run them.
package tasks

import (
	"encoding/json"
	"slices"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/ingest"
	"github.com/JakeFAU/catalog-ingest/internal/queue"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// Task names.
const (
	ParseGenres              = "parse_genres"
	SaveGenre                = "save_genre"
	ParseItems               = "parse_items"
	SaveItems                = "save_items"
	UpdateItems              = "update_items"
	SaveTags                 = "save_tags"
	SaveTagsFromGroups       = "save_tags_from_groups"
	UpdateOrCreateTag        = "update_or_create_tag"
	ParseTag                 = "parse_tag"
	CheckProductAvailability = "check_product_availability"
	UpdateProductSalePrice   = "update_product_sale_price"
	RakutenClearProducts     = "rakuten_clear_products"
	DeactivateEmptyCategory  = "deactivate_empty_categories"
	TranslateField           = "translate_field"
	EstimateShipping         = "estimate_shipping"
)

// Names lists every task in submission order of a typical crawl.
var Names = []string{
	ParseGenres, SaveGenre, ParseItems, SaveItems, UpdateItems,
	SaveTags, SaveTagsFromGroups, UpdateOrCreateTag, ParseTag,
	CheckProductAvailability, UpdateProductSalePrice,
	RakutenClearProducts, DeactivateEmptyCategory,
	TranslateField, EstimateShipping,
}

// Known reports whether name is a task.
func Known(name string) bool {
	return slices.Contains(Names, name)
}

// QueueFor returns the queue a task is submitted to.
func QueueFor(name string) string {
	if name == TranslateField {
		return queue.Mailing
	}
	return queue.Default
}

// ParseGenresArgs are the arguments of parse_genres.
type ParseGenresArgs struct {
	Site      catalog.Site `json:"site"`
	GenreID   string       `json:"genre_id,omitempty"`
	ParseMore bool         `json:"parse_more,omitempty"`
}

// SaveGenreArgs are the arguments of save_genre.
type SaveGenreArgs struct {
	Site      catalog.Site        `json:"site"`
	Payload   source.CategoryNode `json:"payload"`
	ParseMore bool                `json:"parse_more,omitempty"`
}

// ParseItemsArgs are the arguments of parse_items.
type ParseItemsArgs struct {
	Site       catalog.Site `json:"site"`
	CategoryID string       `json:"category_id"`
	ParseAll   bool         `json:"parse_all,omitempty"`
	Page       int          `json:"page,omitempty"`
}

// SaveItemsArgs are the arguments of save_items.
type SaveItemsArgs struct {
	Site       catalog.Site      `json:"site"`
	CategoryID string            `json:"category_id"`
	Items      []json.RawMessage `json:"items"`
	TagGroups  []source.TagGroup `json:"tag_groups,omitempty"`
}

// UpdateItemsArgs are the arguments of update_items.
type UpdateItemsArgs struct {
	Site  catalog.Site      `json:"site"`
	Items []json.RawMessage `json:"items"`
}

// SaveTagsArgs are the arguments of save_tags.
type SaveTagsArgs struct {
	Site catalog.Site      `json:"site"`
	Tags []ingest.TagInput `json:"tags"`
}

// SaveTagsFromGroupsArgs are the arguments of save_tags_from_groups.
type SaveTagsFromGroupsArgs struct {
	Site   catalog.Site      `json:"site"`
	Groups []source.TagGroup `json:"groups"`
}

// UpdateOrCreateTagArgs are the arguments of update_or_create_tag.
type UpdateOrCreateTagArgs struct {
	Site    catalog.Site    `json:"site"`
	Payload source.TagGroup `json:"payload"`
}

// ParseTagArgs are the arguments of parse_tag.
type ParseTagArgs struct {
	Site  catalog.Site `json:"site"`
	TagID string       `json:"tag_id"`
}

// ProductArgs address one product.
type ProductArgs struct {
	ProductID string `json:"product_id"`
}

// SiteArgs optionally narrow a maintenance task to one site.
type SiteArgs struct {
	Site catalog.Site `json:"site,omitempty"`
}

// TranslateFieldArgs are the arguments of translate_field.
type TranslateFieldArgs struct {
	Entity catalog.Entity `json:"entity"`
	ID     string         `json:"id"`
	Field  string         `json:"field"`
	Text   string         `json:"text"`
}

// EstimateShippingArgs are the arguments of estimate_shipping.
type EstimateShippingArgs struct {
	CategoryID string `json:"category_id"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}
