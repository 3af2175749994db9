package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dealbot/selectors"
)

// Seller-validity predicate: the shipper must exactly match the retailer's own
// domain string, while the seller need only contain the brand token. Shipping
// performed by a third party is disqualifying even when "sold by" looks fine;
// retailer sub-brands (Resale, Warehouse) selling the item are acceptable.
const (
	canonicalShipper = "amazon.com"
	canonicalSeller  = "Amazon.com"
	brandToken       = "amazon"
)

// IsRetailShipper reports whether the item ships from the retailer itself.
// Exact match only, ignoring case and surrounding whitespace.
func (s SellerInfo) IsRetailShipper() bool {
	return strings.EqualFold(strings.TrimSpace(s.ShipsFrom), canonicalShipper)
}

// IsValidSeller reports whether the seller carries the retailer brand token
// (covers first-party and retailer-owned resale/warehouse variants).
func (s SellerInfo) IsValidSeller() bool {
	if s.SoldBy == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s.SoldBy), brandToken)
}

// Valid is the combined seller-validity predicate; both halves must hold.
func (s SellerInfo) Valid() bool {
	return s.IsRetailShipper() && s.IsValidSeller()
}

const noOffersSentinel = "No featured offers available"

// NoOffers reports whether extraction hit the "no offers" sentinel.
func (s SellerInfo) NoOffers() bool {
	return strings.Contains(strings.ToLower(s.RawText), "no featured offers")
}

var priceRe = regexp.MustCompile(`\$?([\d,]+\.?\d*)`)

// ParsePrice extracts a dollar amount from raw element text like "$1,299.99".
func ParsePrice(text string) (float64, bool) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Validator extracts and validates seller identity and displayed price from a
// product page before the flow commits to a purchase.
type Validator struct {
	page       Page
	table      *selectors.Table
	probe      time.Duration // visibility probe for field reads
	expandWait time.Duration // wait after clicking "show more"
	logf       func(step, message string, details map[string]interface{})
}

// NewValidator binds a validator to one page. logf receives debug steps for
// the audit trail and may be nil.
func NewValidator(page Page, table *selectors.Table, probe, expandWait time.Duration, logf func(step, message string, details map[string]interface{})) *Validator {
	if logf == nil {
		logf = func(string, string, map[string]interface{}) {}
	}
	return &Validator{page: page, table: table, probe: probe, expandWait: expandWait, logf: logf}
}

// ExtractSeller reads the seller snapshot, choosing the strategy for the page
// kind. The returned value is immutable for the rest of the attempt.
func (v *Validator) ExtractSeller(multiOffer bool) SellerInfo {
	if multiOffer {
		return v.extractSellerMultiOffer()
	}
	return v.extractSellerStandard()
}

// extractSellerMultiOffer reads ships-from/sold-by from the offer overlay
// panel: sentinel short-circuit, optional list expansion, fixed candidate
// order, then mirroring a lone brand-bearing field into the missing one (the
// UI omits a redundant sold-by label when identical to ships-from).
func (v *Validator) extractSellerMultiOffer() SellerInfo {
	var info SellerInfo

	for _, sel := range v.table.Candidates(selectors.OfferNoOffers) {
		if v.page.Locator(sel).Visible(v.probe) {
			return SellerInfo{RawText: noOffersSentinel}
		}
	}

	v.expandOfferList()

	for _, sel := range v.table.Candidates(selectors.OfferShipsFrom) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		if text, err := el.Text(v.probe); err == nil && strings.TrimSpace(text) != "" {
			info.ShipsFrom = strings.TrimSpace(text)
			v.logf("debug_ships_from", fmt.Sprintf("Found ships_from %q", info.ShipsFrom), map[string]interface{}{"selector": sel})
			break
		}
	}

	for _, sel := range v.table.Candidates(selectors.OfferSoldBy) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		if text, err := el.Text(v.probe); err == nil && strings.TrimSpace(text) != "" {
			info.SoldBy = strings.TrimSpace(text)
			v.logf("debug_sold_by", fmt.Sprintf("Found sold_by %q", info.SoldBy), map[string]interface{}{"selector": sel})
			break
		}
	}

	switch {
	case info.ShipsFrom != "" && info.SoldBy == "":
		if strings.Contains(strings.ToLower(info.ShipsFrom), brandToken) {
			info.SoldBy = info.ShipsFrom
		}
	case info.SoldBy != "" && info.ShipsFrom == "":
		if strings.Contains(strings.ToLower(info.SoldBy), brandToken) {
			info.ShipsFrom = info.SoldBy
		}
	}

	v.logf("debug_offer_extraction", "Offer panel seller extraction complete", map[string]interface{}{
		"ships_from": info.ShipsFrom,
		"sold_by":    info.SoldBy,
	})
	return info
}

// expandOfferList clicks the "show more" control if present and waits briefly
// for the expanded offer cards.
func (v *Validator) expandOfferList() {
	for _, sel := range v.table.Candidates(selectors.OfferSeeMore) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		if err := el.Click(v.expandWait); err != nil {
			return
		}
		if cards := v.table.Candidates(selectors.OfferCards); len(cards) > 0 {
			v.page.Locator(cards[0]).Visible(v.expandWait)
		}
		return
	}
}

// extractSellerStandard reads the seller from a single-offer product page.
// Strategies are tried in priority order, each only when the previous yielded
// nothing: seller-profile link, buybox free text, tabular buybox, page-wide
// text search.
func (v *Validator) extractSellerStandard() SellerInfo {
	var info SellerInfo

	// Strategy 1: direct seller-profile link. Authoritative when present.
	for _, sel := range v.table.Candidates(selectors.SellerLink) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		name, err := el.Text(v.probe)
		if err != nil {
			continue
		}
		name = strings.TrimSpace(name)
		if len(name) <= 1 {
			continue
		}
		v.logf("debug_seller_link_found", fmt.Sprintf("Found seller via link: %s", name), map[string]interface{}{"selector": sel})
		info.ShipsFrom, info.SoldBy = name, name
		if strings.Contains(strings.ToLower(name), brandToken) {
			info.ShipsFrom, info.SoldBy = canonicalSeller, canonicalSeller
		}
		info.RawText = "Seller link: " + name
		return info
	}

	// Strategy 2: buybox free-text parsing.
	var buyboxText string
	for _, sel := range v.table.Candidates(selectors.BuyboxText) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		if text, err := el.Text(v.probe); err == nil && strings.TrimSpace(text) != "" {
			buyboxText = strings.TrimSpace(text)
			v.logf("debug_buybox_found", "Found buybox text", map[string]interface{}{"selector": sel, "preview": preview(buyboxText, 200)})
			break
		}
	}
	if buyboxText != "" {
		info.RawText = buyboxText
		if strings.Contains(strings.ToLower(buyboxText), "ships from and sold by amazon") {
			info.ShipsFrom, info.SoldBy = canonicalSeller, canonicalSeller
			return info
		}
		if name := sellerNameFromBuybox(buyboxText); name != "" {
			v.logf("debug_seller_name_found", fmt.Sprintf("Found seller name: %s", name), nil)
			if strings.Contains(strings.ToLower(name), brandToken) {
				info.ShipsFrom, info.SoldBy = canonicalSeller, canonicalSeller
			} else {
				info.ShipsFrom, info.SoldBy = name, name
			}
			return info
		}
	}

	// Strategy 3: tabular buybox rows.
	if text, ok := v.lastMatchText(selectors.TabularShips); ok {
		info.ShipsFrom = text
	}
	if text, ok := v.lastMatchText(selectors.TabularSold); ok {
		info.SoldBy = text
	}
	if info.ShipsFrom != "" || info.SoldBy != "" {
		return info
	}

	// Strategy 4: page-wide text search, last resort.
	if name, ok := v.labelledValue("text=/Ships from/i", "ships from"); ok {
		info.ShipsFrom = name
	}
	if name, ok := v.labelledValue("text=/Sold by/i", "sold by"); ok {
		info.SoldBy = name
	}

	v.logf("debug_standard_extraction", "Standard seller extraction complete", map[string]interface{}{
		"ships_from": info.ShipsFrom,
		"sold_by":    info.SoldBy,
	})
	return info
}

// lastMatchText returns the trimmed text of the last match for a tabular
// buybox row target.
func (v *Validator) lastMatchText(key string) (string, bool) {
	for _, sel := range v.table.Candidates(key) {
		el := v.page.Locator(sel)
		n := el.Count()
		if n == 0 {
			continue
		}
		last := el.Nth(n - 1)
		if !last.Visible(v.probe) {
			continue
		}
		if text, err := last.Text(v.probe); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), true
		}
	}
	return "", false
}

// labelledValue finds an element matching sel, walks to its enclosing block
// and returns the line following the label line.
func (v *Validator) labelledValue(sel, label string) (string, bool) {
	el := v.page.Locator(sel)
	if !el.Visible(v.probe) {
		return "", false
	}
	parent := el.Locator("xpath=ancestor::div[1]")
	text, err := parent.Text(v.probe)
	if err != nil {
		return "", false
	}
	lines := nonEmptyLines(text)
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), label) && i+1 < len(lines) {
			return lines[i+1], true
		}
	}
	return "", false
}

// ExtractPrice reads the displayed price from the price candidate list for the
// page kind; the first parseable match wins.
func (v *Validator) ExtractPrice(multiOffer bool) PriceInfo {
	key := selectors.StandardPrice
	if multiOffer {
		key = selectors.OfferPrice
	}
	for _, sel := range v.table.Candidates(key) {
		el := v.page.Locator(sel)
		if !el.Visible(v.probe) {
			continue
		}
		text, err := el.Text(v.probe)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if price, ok := ParsePrice(text); ok {
			return PriceInfo{Displayed: &price, RawText: text}
		}
	}
	return PriceInfo{RawText: "Price not found"}
}

// ValidatePrice enforces the exact-equality law: any drift, even one cent,
// fails — a changed price means the deal already moved and buying is unsafe.
func ValidatePrice(info PriceInfo, expected float64) bool {
	return info.Displayed != nil && *info.Displayed == expected
}

// Free-text parsing below is brittle by nature and deliberately isolated: the
// strategy priority and the validity predicate are the contract, these
// blocklists are replaceable data.

var labelKeywords = []string{
	"shipper", "seller", "ships from", "sold by", "returns",
	"delivery", "quantity", "add to cart", "buy now", "customer",
	"service", "see more", "free", "prime", "deliver to", "available",
	"ship", "payment", "secure", "transaction", "protection", "plan",
}

var nonSellerKeywords = []string{
	"in stock", "out of stock", "only", "left", "order soon",
	"refund", "replacement", "add to list", "gift", "qty", "details",
}

// sellerNameFromBuybox strips label lines, price-looking lines and pure
// quantity numbers from the buybox text, then takes the first remaining line
// that plausibly names a seller, preferring one carrying the brand token.
func sellerNameFromBuybox(text string) string {
	var dataLines []string
	for _, line := range nonEmptyLines(text) {
		lower := strings.ToLower(line)
		if containsAny(lower, labelKeywords) || containsAny(lower, nonSellerKeywords) {
			continue
		}
		if lower == "." || lower == ".." || lower == "..." {
			continue
		}
		if isPureNumber(line) || looksLikePrice(line) {
			continue
		}
		dataLines = append(dataLines, line)
	}

	for _, line := range dataLines {
		if len(line) < 3 || isPureNumber(line) {
			continue
		}
		if strings.Contains(strings.ToLower(line), brandToken) {
			return line
		}
	}
	for _, line := range dataLines {
		if len(line) < 3 || isPureNumber(line) {
			continue
		}
		return line
	}
	return ""
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isPureNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksLikePrice(s string) bool {
	if strings.Contains(s, "$") {
		return true
	}
	hasDigit := strings.ContainsAny(s, "0123456789")
	return hasDigit && strings.Contains(s, ".")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
