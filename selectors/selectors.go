// Package selectors holds the UI strategy table: every logical page target maps
// to an ordered list of selector candidates. Layout drift on the retail site is
// handled by editing the table (or shipping a YAML override), not by code changes.
package selectors

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Logical target keys recognized by the flow.
const (
	AddToCart       = "add_to_cart"
	BuyNow          = "buy_now"
	SidePanel       = "side_panel"
	CartConfirm     = "cart_confirmation"
	SidePanelPTC    = "side_panel_checkout"
	GoToCart        = "go_to_cart"
	CartCheckout    = "cart_checkout"
	PlaceOrder      = "place_order"
	OrderConfirm    = "order_confirmation"
	Unavailable     = "currently_unavailable"
	SeeAllOptions   = "see_all_buying_options"
	OfferNoOffers   = "offer_no_offers"
	OfferCards      = "offer_cards"
	OfferSeeMore    = "offer_see_more"
	OfferShipsFrom  = "offer_ships_from"
	OfferSoldBy     = "offer_sold_by"
	OfferPrice      = "offer_price"
	OfferCardShip   = "offer_card_ships_from"
	OfferCardSold   = "offer_card_sold_by"
	OfferCardButton = "offer_card_add_button"
	SellerLink      = "seller_link"
	BuyboxText      = "buybox_text"
	TabularShips    = "tabular_ships_from"
	TabularSold     = "tabular_sold_by"
	StandardPrice   = "standard_price"
	BuyboxReady     = "buybox_ready"
	CheckoutReady   = "checkout_ready"
	PinnedOffer     = "pinned_offer"
)

// Table is a versioned mapping from logical target to ordered selector candidates.
type Table struct {
	Version int                 `yaml:"version"`
	Targets map[string][]string `yaml:"targets"`
}

// Candidates returns the ordered candidate list for a logical target. A missing
// key returns nil; callers treat that as "target cannot be resolved".
func (t *Table) Candidates(key string) []string {
	if t == nil || t.Targets == nil {
		return nil
	}
	return t.Targets[key]
}

// Load reads a YAML table from path. Targets present in the file replace the
// built-in candidate lists wholesale; absent targets keep the defaults, so an
// override file only needs the lists that drifted.
func Load(path string) (*Table, error) {
	table := Default()
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector table: %w", err)
	}
	var override Table
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse selector table: %w", err)
	}
	if override.Version != 0 {
		table.Version = override.Version
	}
	for key, list := range override.Targets {
		table.Targets[key] = list
	}
	return table, nil
}

// Default returns the built-in table for the current retail site layout.
//
// Ordering is load-bearing: the multi-offer overlay panel selectors come before
// the plain add-to-cart button because both can be visible at once and only the
// overlay's own button targets the validated offer.
func Default() *Table {
	return &Table{
		Version: 1,
		Targets: map[string][]string{
			AddToCart: {
				".aod-clear-float input[name='submit.addToCart']",
				"#aod-pinned-offer input[name='submit.addToCart']",
				"#aod-offer-list input[name='submit.addToCart']",
				".aod-clear-float .a-button-input",
				"#aod-pinned-offer .a-button-input",
				"#add-to-cart-button",
				"input[name='submit.add-to-cart']",
				".asin-container-padding input[name='submit.addToCart']",
				"#aod-offer-list .a-button-input",
				"#aod-offer input[name='submit.addToCart']",
				"[data-aod-atc-action] input",
				"#aod-offer .a-button-input",
				"#all-offers-display .a-button-input",
				"#aod-container .a-button-input",
				"[data-feature-id='addToCart'] button",
				"#desktop_qualifiedBuyBox input[name='submit.add-to-cart']",
				"#qualifiedBuybox input[name='submit.add-to-cart']",
				"input[data-action='add-to-cart']",
				"[data-feature-id='desktop-action-panel'] input[name='submit.add-to-cart']",
			},
			BuyNow: {
				"#buy-now-button",
				"input[name='submit.buy-now']",
				"[data-feature-id='buy-now'] input",
				".a-button-input[aria-labelledby='buy-now-button-announce']",
			},
			SidePanel: {
				"#attach-sidesheet",
				"#attach-accessory-pane",
				"[data-feature-id='attach-accessory-pane']",
				"#huc-v2-order-row-container",
				"#sw-atc-details-single-container",
			},
			CartConfirm: {
				"#huc-v2-order-row-confirm-text",
				"#hlb-view-cart-announce",
				"[data-feature-id='huc-v2-order-row']",
				"#NATC_SMART_WAGON_CONF_MSG_SUCCESS",
			},
			SidePanelPTC: {
				"#attach-sidesheet-checkout-button",
				"#hlb-ptc-btn-native",
				"input[name='proceedToRetailCheckout']",
				"#sc-buy-box-ptc-button input",
				"[data-feature-id='proceed-to-checkout-action'] input",
			},
			GoToCart: {
				"#hlb-view-cart",
				"#nav-cart",
				"a[href*='/cart']",
				"#sw-gtc",
			},
			CartCheckout: {
				"input[name='proceedToRetailCheckout']",
				"#sc-buy-box-ptc-button input",
				"[data-feature-id='proceed-to-checkout-action'] input",
				"#sc-buy-box-ptc-button",
			},
			PlaceOrder: {
				"input[name='placeYourOrder1']",
				"#submitOrderButtonId input",
				"#bottomSubmitOrderButtonId input",
				"[name='placeYourOrder1']",
				"#turbo-checkout-pyo-button",
			},
			OrderConfirm: {
				"#checkoutThankYouHeader",
				"[data-testid='order-confirmation']",
				".a-box-inner h1:has-text('Order placed')",
				"#widget-purchaseSummary",
			},
			Unavailable: {
				"#availability span:has-text('Currently unavailable')",
				".a-size-medium:has-text('Currently unavailable')",
				"text='Currently unavailable'",
			},
			SeeAllOptions: {
				"#buybox-see-all-buying-choices",
				"a:has-text('See All Buying Options')",
				"#desktop_buybox_content a:has-text('See All Buying Options')",
			},
			OfferNoOffers: {
				"text='No featured offers available'",
			},
			OfferCards: {
				"#aod-offer",
				".aod-offer-container",
			},
			OfferSeeMore: {
				"#aod-pinned-offer-show-more-link",
				".aod-see-more-link",
			},
			PinnedOffer: {
				"#aod-pinned-offer",
			},
			OfferShipsFrom: {
				"#aod-offer-shipsFrom .a-row .a-size-small:last-child",
				"#aod-offer-shipsFrom span:last-child",
				"#aod-pinned-offer .aod-ship-from span.a-size-small",
				"div:has-text('Ships from') + div",
				"[id*='shipFrom'] span",
			},
			OfferSoldBy: {
				"#aod-offer-soldBy .a-row a",
				"#aod-offer-soldBy a",
				"#aod-pinned-offer .aod-sold-by a",
				"div:has-text('Sold by') + div a",
				"div:has-text('Sold by') + div",
				"[id*='soldBy'] a",
			},
			// Scoped within a single offer card.
			OfferCardShip: {
				"[id*='shipsFrom']",
				".aod-ship-from",
			},
			OfferCardSold: {
				"[id*='soldBy'] a",
				".aod-sold-by a",
				"[id*='soldBy']",
				".aod-sold-by",
			},
			OfferCardButton: {
				"input[name='submit.addToCart']",
				".a-button-input",
			},
			OfferPrice: {
				"#aod-pinned-offer .a-price .a-offscreen",
				".aod-pinned-offer-price .a-offscreen",
			},
			SellerLink: {
				"#sellerProfileTriggerId",
				"a[href*='/seller/']",
				"#tabular-buybox a[href*='/seller/']",
				"#desktop_buybox a[href*='/seller/']",
			},
			BuyboxText: {
				"#merchant-info",
				"#desktop_buybox",
				"#buybox",
				"#apex_desktop",
				".celwidget[data-feature-name='desktop-buybox']",
			},
			TabularShips: {
				"#tabular-buybox .tabular-buybox-text:has-text('Ships from') span",
			},
			TabularSold: {
				"#tabular-buybox .tabular-buybox-text:has-text('Sold by') span, #tabular-buybox .tabular-buybox-text:has-text('Sold by') a",
			},
			StandardPrice: {
				"#corePrice_feature_div .a-price .a-offscreen",
				"#apex_desktop .a-price .a-offscreen",
				".a-price.aok-align-center .a-offscreen",
			},
			BuyboxReady: {
				"#add-to-cart-button",
				"#buy-now-button",
				"#buybox-see-all-buying-choices",
				"#desktop_buybox",
				"#aod-pinned-offer",
			},
			CheckoutReady: {
				"input[name='placeYourOrder1']",
				"#submitOrderButtonId",
				"#turbo-checkout-pyo-button",
				"#checkout-main",
				"[data-feature-id='checkout']",
			},
		},
	}
}
