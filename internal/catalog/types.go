package catalog

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Site identifies an external source ecosystem.
type Site string

// Supported sites.
const (
	SiteRakuten Site = "rakuten"
	SiteUniqlo  Site = "uniqlo"
)

// Sites lists every supported site.
var Sites = []Site{SiteRakuten, SiteUniqlo}

// Valid reports whether s is a supported site.
func (s Site) Valid() bool {
	_, ok := siteCurrency[s]
	return ok
}

// Currency returns the currency the site quotes prices in.
func (s Site) Currency() Currency {
	return siteCurrency[s]
}

// ParseSite converts a raw string into a Site.
func ParseSite(raw string) (Site, error) {
	s := Site(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown site %q", raw)
	}
	return s, nil
}

// Currency is a customer-facing or source currency code.
type Currency string

// Known currencies.
const (
	Yen    Currency = "yen"
	Som    Currency = "som"
	Dollar Currency = "dollar"
	Ruble  Currency = "ruble"
	Lira   Currency = "lira"
	Tenge  Currency = "tenge"
)

var siteCurrency = map[Site]Currency{
	SiteRakuten: Yen,
	SiteUniqlo:  Yen,
}

// ParseCurrency validates a currency code.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case Yen, Som, Dollar, Ruble, Lira, Tenge:
		return c, nil
	default:
		return "", fmt.Errorf("unknown currency %q", raw)
	}
}

// LocalID builds the local primary key for a remote record.
func LocalID(site Site, siteID string) string {
	return string(site) + ":" + siteID
}

// SplitID parses a local primary key back into its site and remote id.
func SplitID(id string) (Site, string, error) {
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("malformed id %q", id)
	}
	site := Site(prefix)
	if !site.Valid() {
		return "", "", fmt.Errorf("id %q has unknown site %q", id, prefix)
	}
	return site, rest, nil
}

// CurrencyOf derives the source currency from a local product id.
func CurrencyOf(id string) (Currency, error) {
	site, _, err := SplitID(id)
	if err != nil {
		return "", err
	}
	return site.Currency(), nil
}

// VirtualRootID is the id of the level-0 placeholder category of a site.
func VirtualRootID(site Site) string {
	return LocalID(site, "0")
}

// StripQuery removes the query string and fragment from an image URL.
func StripQuery(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	return u.String()
}

// Category is a node of a site's category tree.
type Category struct {
	ID          string
	Site        Site
	SiteID      string
	Name        string
	Level       int
	ParentID    *string
	Deactivated bool
	// AvgWeight is the average parcel weight in kilograms, used for shipping estimates.
	AvgWeight *decimal.Decimal
}

// Tag is either a tag group (GroupID nil) or a tag belonging to a group.
type Tag struct {
	ID      string
	Site    Site
	SiteID  string
	Name    string
	GroupID *string
}

// IsGroup reports whether the tag is a group header.
func (t Tag) IsGroup() bool {
	return t.GroupID == nil
}

// Product is a sellable catalog item imported from a site.
type Product struct {
	ID            string
	Site          Site
	SiteID        string
	Name          string
	Description   string
	URL           string
	SitePrice     decimal.Decimal
	IncreasePer   decimal.Decimal
	SalePrice     *decimal.Decimal
	Availability  bool
	IsActive      bool
	ReviewCount   int
	ReviewAverage decimal.Decimal
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// Stale reports whether the product may be mutated at now given the freshness window.
func (p Product) Stale(now time.Time, delta time.Duration) bool {
	return now.Sub(p.ModifiedAt) >= delta
}

// ProductPatch stages changed product columns. Nil fields are untouched.
type ProductPatch struct {
	ID            string
	Name          *string
	Description   *string
	URL           *string
	SitePrice     *decimal.Decimal
	Availability  *bool
	ReviewCount   *int
	ReviewAverage *decimal.Decimal
	ModifiedAt    time.Time
}

// Empty reports whether no content column is staged.
func (p ProductPatch) Empty() bool {
	return len(p.Columns()) == 0
}

// Columns lists the staged column names in a stable order.
func (p ProductPatch) Columns() []string {
	var cols []string
	if p.Name != nil {
		cols = append(cols, "name")
	}
	if p.Description != nil {
		cols = append(cols, "description")
	}
	if p.URL != nil {
		cols = append(cols, "url")
	}
	if p.SitePrice != nil {
		cols = append(cols, "site_price")
	}
	if p.Availability != nil {
		cols = append(cols, "availability")
	}
	if p.ReviewCount != nil {
		cols = append(cols, "review_count")
	}
	if p.ReviewAverage != nil {
		cols = append(cols, "review_average")
	}
	return cols
}

// Apply copies staged values onto p.
func (p ProductPatch) Apply(dst *Product) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Description != nil {
		dst.Description = *p.Description
	}
	if p.URL != nil {
		dst.URL = *p.URL
	}
	if p.SitePrice != nil {
		dst.SitePrice = *p.SitePrice
	}
	if p.Availability != nil {
		dst.Availability = *p.Availability
	}
	if p.ReviewCount != nil {
		dst.ReviewCount = *p.ReviewCount
	}
	if p.ReviewAverage != nil {
		dst.ReviewAverage = *p.ReviewAverage
	}
	if !p.ModifiedAt.IsZero() {
		dst.ModifiedAt = p.ModifiedAt
	}
}

// ProductImage is an image URL owned by a product.
type ProductImage struct {
	ProductID string
	URL       string
}

// ProductCategory links a product to a category.
type ProductCategory struct {
	ProductID  string
	CategoryID string
}

// ProductTag links a product to a tag.
type ProductTag struct {
	ProductID string
	TagID     string
}

// ProductInventory is a purchasable variant of a product.
type ProductInventory struct {
	ID            int64
	ProductID     string
	Color         string
	Size          string
	StatusCode    int
	Quantity      int
	IsActive      bool
	SiteUnitPrice decimal.Decimal
	SalePrice     *decimal.Decimal
}

// Promotion groups products under an optional discount and date window.
type Promotion struct {
	ID          int64
	Site        Site
	ProductIDs  []string
	StartDate   *time.Time
	EndDate     *time.Time
	Deactivated bool
	Discount    *Discount
}

// ActiveAt reports whether the promotion applies at now.
func (p Promotion) ActiveAt(now time.Time) bool {
	if p.Deactivated {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	return true
}

// Discount is the percentage attached one-to-one to a promotion.
type Discount struct {
	PromotionID int64
	Percentage  decimal.Decimal
}

// Conversion is an operator-supplied exchange rate.
type Conversion struct {
	ID        int64
	From      Currency
	To        Currency
	PricePer  decimal.Decimal
	CreatedAt time.Time
}

// Credential is a reusable client identity for one catalog source.
type Credential struct {
	ID        int64
	Site      Site
	AppID     string
	Secret    string
	PartnerID string
	Disabled  bool
}

// BusyKey is the cache key holding the credential's lease marker.
func (c Credential) BusyKey() string {
	return fmt.Sprintf("busy_client:%d_%s", c.ID, c.AppID)
}

// Entity names a translatable table.
type Entity string

// Translatable entities.
const (
	EntityCategory Entity = "category"
	EntityTag      Entity = "tag"
	EntityProduct  Entity = "product"
)

// Lang is a translation target language.
type Lang string

// Source and target languages for translated columns.
const (
	LangJA Lang = "ja"
	LangEN Lang = "en"
	LangRU Lang = "ru"
	LangTR Lang = "tr"
	LangKY Lang = "ky"
	LangKZ Lang = "kz"
)

// TargetLangs lists the languages every translatable field is rendered into.
var TargetLangs = []Lang{LangEN, LangRU, LangTR, LangKY, LangKZ}

// TranslatableFields enumerates the columns that carry language variants.
var TranslatableFields = map[Entity][]string{
	EntityCategory: {"name"},
	EntityTag:      {"name"},
	EntityProduct:  {"name", "description"},
}

// Translatable reports whether field of entity has language-variant columns.
func Translatable(entity Entity, field string) bool {
	for _, f := range TranslatableFields[entity] {
		if f == field {
			return true
		}
	}
	return false
}

// TaskFailure records a task dropped after its retries were exhausted.
type TaskFailure struct {
	TaskID   string
	Name     string
	Queue    string
	Attempt  int
	Error    string
	Args     []byte
	FailedAt time.Time
}
