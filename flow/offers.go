package flow

import (
	"fmt"
	"strings"

	"dealbot/selectors"
)

// Offer is one offer card in the overlay panel that passed seller validation,
// together with its own add-to-cart control. Clicking any other button would
// buy a different offer than the one validated.
type Offer struct {
	Index     int
	Pinned    bool
	Seller    SellerInfo
	AddButton Element
}

// OfferScan is the outcome of walking the offer panel.
type OfferScan struct {
	Offer    *Offer // nil when nothing qualified
	Scanned  int
	NoOffers bool
}

// ScanOffers walks the multi-offer panel in display order and returns the
// first offer whose seller snapshot passes the validity predicate: the
// sentinel first, then the pinned (featured) offer, then the expanded offer
// list top to bottom. Scanning stops at the first qualifying offer.
func (v *Validator) ScanOffers() OfferScan {
	var scan OfferScan

	for _, sel := range v.table.Candidates(selectors.OfferNoOffers) {
		if v.page.Locator(sel).Visible(v.probe) {
			scan.NoOffers = true
			return scan
		}
	}

	for _, sel := range v.table.Candidates(selectors.PinnedOffer) {
		card := v.page.Locator(sel)
		if !card.Visible(v.probe) {
			continue
		}
		scan.Scanned++
		seller := v.offerSeller(card)
		v.logf("debug_pinned_offer", "Inspected pinned offer", sellerDetails(seller))
		if seller.Valid() {
			if btn, ok := v.offerButton(card); ok {
				scan.Offer = &Offer{Index: 0, Pinned: true, Seller: seller, AddButton: btn}
				return scan
			}
		}
		break
	}

	v.expandOfferList()

	for _, sel := range v.table.Candidates(selectors.OfferCards) {
		list := v.page.Locator(sel)
		n := list.Count()
		if n == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			card := list.Nth(i)
			scan.Scanned++
			seller := v.offerSeller(card)
			v.logf("debug_offer_card", fmt.Sprintf("Inspected offer %d/%d", i+1, n), sellerDetails(seller))
			if !seller.Valid() {
				continue
			}
			btn, ok := v.offerButton(card)
			if !ok {
				continue
			}
			scan.Offer = &Offer{Index: i, Seller: seller, AddButton: btn}
			return scan
		}
		break // one card list matched; alternates are layout fallbacks
	}

	return scan
}

// offerSeller extracts the seller snapshot scoped to one offer card, with the
// same lone-field mirroring rule as the panel-level extraction.
func (v *Validator) offerSeller(card Element) SellerInfo {
	var info SellerInfo
	info.ShipsFrom = v.offerField(card, selectors.OfferCardShip)
	info.SoldBy = v.offerField(card, selectors.OfferCardSold)

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
	return info
}

func (v *Validator) offerField(card Element, key string) string {
	for _, sel := range v.table.Candidates(key) {
		el := card.Locator(sel)
		if el.Count() == 0 {
			continue
		}
		first := el.Nth(0)
		if !first.Visible(v.probe) {
			continue
		}
		text, err := first.Text(v.probe)
		if err != nil {
			continue
		}
		if value := offerFieldValue(text); value != "" {
			return value
		}
	}
	return ""
}

// offerFieldValue strips the label line and rating noise from an offer card
// field and returns the value line.
func offerFieldValue(text string) string {
	for _, line := range nonEmptyLines(text) {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "ships from") || strings.Contains(lower, "sold by") {
			continue
		}
		if strings.Contains(lower, "rating") || strings.Contains(line, "%") {
			continue
		}
		return line
	}
	return ""
}

func (v *Validator) offerButton(card Element) (Element, bool) {
	for _, sel := range v.table.Candidates(selectors.OfferCardButton) {
		el := card.Locator(sel)
		if el.Count() == 0 {
			continue
		}
		first := el.Nth(0)
		if first.Visible(v.probe) {
			return first, true
		}
	}
	return nil, false
}

func sellerDetails(s SellerInfo) map[string]interface{} {
	return map[string]interface{}{
		"ships_from": s.ShipsFrom,
		"sold_by":    s.SoldBy,
		"valid":      s.Valid(),
	}
}
