package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is the set of persistence operations used by the core. All
// batch inserts are idempotent: rows whose key already exists are skipped
// and not counted.
type Repository interface {
	GetCategory(ctx context.Context, id string) (Category, error)
	ExistingCategoryIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	InsertCategories(ctx context.Context, categories []Category) (int, error)
	CategoryChildren(ctx context.Context, parentID string) ([]Category, error)
	CategoriesByLevel(ctx context.Context, site Site, level int) ([]Category, error)
	DeactivateCategories(ctx context.Context, ids []string) error

	GetTags(ctx context.Context, ids []string) (map[string]Tag, error)
	InsertTags(ctx context.Context, tags []Tag) (int, error)
	UpdateTag(ctx context.Context, tag Tag) error

	GetProduct(ctx context.Context, id string) (Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	InsertProducts(ctx context.Context, products []Product) (int, error)
	UpdateProduct(ctx context.Context, patch ProductPatch) error
	AttachCategories(ctx context.Context, links []ProductCategory) (int, error)
	ProductTagIDs(ctx context.Context, productID string) ([]string, error)
	AttachTags(ctx context.Context, links []ProductTag) (int, error)
	DetachTags(ctx context.Context, productID string, tagIDs []string) error
	InsertImages(ctx context.Context, images []ProductImage) (int, error)
	ProductImages(ctx context.Context, productID string) ([]ProductImage, error)
	CountCategoryProducts(ctx context.Context, categoryID string, activeOnly bool) (int, error)
	ReclaimCandidates(ctx context.Context, categoryID string, limit int, protectInventory bool) ([]string, error)
	DeleteProducts(ctx context.Context, ids []string) (int, error)

	ProductInventories(ctx context.Context, productID string) ([]ProductInventory, error)
	SetInventorySalePrice(ctx context.Context, inventoryID int64, price *decimal.Decimal) error
	GetPromotion(ctx context.Context, id int64) (Promotion, error)
	ActivePromotionForProduct(ctx context.Context, productID string, now time.Time) (Promotion, error)
	SaveDiscount(ctx context.Context, discount Discount) error
	DeleteDiscount(ctx context.Context, promotionID int64) error

	LatestConversion(ctx context.Context, from, to Currency) (Conversion, error)
	InsertConversion(ctx context.Context, conversion Conversion) (Conversion, error)

	ActiveCredentials(ctx context.Context, site Site) ([]Credential, error)
	UpsertCredential(ctx context.Context, credential Credential) (Credential, error)

	SetTranslation(ctx context.Context, entity Entity, id, field string, lang Lang, value string) error

	RecordTaskFailure(ctx context.Context, failure TaskFailure) error
}

// Store is the authoritative relational store.
type Store interface {
	Repository
	// InTx runs fn inside one transaction. Any error returned by fn rolls
	// back every write made through the supplied Repository.
	InTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
	Close()
}

// Cache is the shared KV cache used for cross-worker coordination.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
