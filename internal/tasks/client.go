package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/queue"
	"github.com/JakeFAU/catalog-ingest/internal/source"
)

// ErrUnknownTask is returned when submitting a name that has no handler.
var ErrUnknownTask = errors.New("unknown task")

// Client submits tasks to the queue. It satisfies the submitter interfaces
// of the ingest and pricing packages.
type Client struct {
	queue queue.Queue
	ids   catalog.IDGenerator
	clock catalog.Clock
}

// NewClient builds a Client.
func NewClient(q queue.Queue, ids catalog.IDGenerator, clock catalog.Clock) *Client {
	return &Client{queue: q, ids: ids, clock: clock}
}

// Submit encodes args and enqueues the named task. It returns the task id.
func (c *Client) Submit(ctx context.Context, name string, args any) (string, error) {
	return c.SubmitAt(ctx, name, args, time.Time{})
}

// SubmitAt is Submit with an ETA. A zero eta runs the task immediately.
func (c *Client) SubmitAt(ctx context.Context, name string, args any, eta time.Time) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s args: %w", name, err)
	}
	return c.submit(ctx, name, raw, eta)
}

// SubmitRaw enqueues already-encoded arguments.
func (c *Client) SubmitRaw(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if !json.Valid(raw) {
		return "", &catalog.DataShapeError{Field: "args"}
	}
	return c.submit(ctx, name, raw, time.Time{})
}

func (c *Client) submit(ctx context.Context, name string, raw json.RawMessage, eta time.Time) (string, error) {
	if !Known(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	id, err := c.ids.NewID()
	if err != nil {
		return "", err
	}
	task := queue.Task{
		ID:        id,
		Queue:     QueueFor(name),
		Name:      name,
		Args:      raw,
		ETA:       eta,
		Submitted: c.clock.Now().UTC(),
	}
	if err := c.queue.Submit(ctx, task); err != nil {
		return "", fmt.Errorf("submit %s: %w", name, err)
	}
	metrics.ObserveSubmit(task.Queue, name)
	return id, nil
}

func (c *Client) send(ctx context.Context, name string, args any) error {
	_, err := c.Submit(ctx, name, args)
	return err
}

// ParseGenres submits parse_genres.
func (c *Client) ParseGenres(ctx context.Context, site catalog.Site, genreID string, parseMore bool) error {
	return c.send(ctx, ParseGenres, ParseGenresArgs{Site: site, GenreID: genreID, ParseMore: parseMore})
}

// SaveGenre submits save_genre.
func (c *Client) SaveGenre(ctx context.Context, site catalog.Site, node source.CategoryNode, parseMore bool) error {
	return c.send(ctx, SaveGenre, SaveGenreArgs{Site: site, Payload: node, ParseMore: parseMore})
}

// ParseItems submits parse_items.
func (c *Client) ParseItems(ctx context.Context, site catalog.Site, categoryID string, parseAll bool, page int) error {
	return c.send(ctx, ParseItems, ParseItemsArgs{Site: site, CategoryID: categoryID, ParseAll: parseAll, Page: page})
}

// SaveItems submits save_items.
func (c *Client) SaveItems(ctx context.Context, site catalog.Site, categoryID string, items []json.RawMessage, groups []source.TagGroup) error {
	return c.send(ctx, SaveItems, SaveItemsArgs{Site: site, CategoryID: categoryID, Items: items, TagGroups: groups})
}

// UpdateItems submits update_items.
func (c *Client) UpdateItems(ctx context.Context, site catalog.Site, items []json.RawMessage) error {
	return c.send(ctx, UpdateItems, UpdateItemsArgs{Site: site, Items: items})
}

// ParseTag submits parse_tag.
func (c *Client) ParseTag(ctx context.Context, site catalog.Site, tagID string) error {
	return c.send(ctx, ParseTag, ParseTagArgs{Site: site, TagID: tagID})
}

// UpdateOrCreateTag submits update_or_create_tag.
func (c *Client) UpdateOrCreateTag(ctx context.Context, site catalog.Site, group source.TagGroup) error {
	return c.send(ctx, UpdateOrCreateTag, UpdateOrCreateTagArgs{Site: site, Payload: group})
}

// CheckProductAvailability submits check_product_availability.
func (c *Client) CheckProductAvailability(ctx context.Context, productID string) error {
	return c.send(ctx, CheckProductAvailability, ProductArgs{ProductID: productID})
}

// UpdateProductSalePrice submits update_product_sale_price.
func (c *Client) UpdateProductSalePrice(ctx context.Context, productID string) error {
	return c.send(ctx, UpdateProductSalePrice, ProductArgs{ProductID: productID})
}

// ClearProducts submits rakuten_clear_products.
func (c *Client) ClearProducts(ctx context.Context) error {
	return c.send(ctx, RakutenClearProducts, SiteArgs{Site: catalog.SiteRakuten})
}

// DeactivateEmptyCategories submits deactivate_empty_categories. An empty
// site sweeps every configured site.
func (c *Client) DeactivateEmptyCategories(ctx context.Context, site catalog.Site) error {
	return c.send(ctx, DeactivateEmptyCategory, SiteArgs{Site: site})
}

// TranslateField submits translate_field on the mailing queue.
func (c *Client) TranslateField(ctx context.Context, entity catalog.Entity, id, field, text string) error {
	return c.send(ctx, TranslateField, TranslateFieldArgs{Entity: entity, ID: id, Field: field, Text: text})
}

// EstimateShipping submits estimate_shipping.
func (c *Client) EstimateShipping(ctx context.Context, categoryID, country, postal string) error {
	return c.send(ctx, EstimateShipping, EstimateShippingArgs{CategoryID: categoryID, Country: country, PostalCode: postal})
}
