package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dealbot/config"
	"dealbot/events"
	"dealbot/selectors"
)

const cartURL = "https://www.amazon.com/gp/cart/view.html"

// Flow drives one purchase attempt through the state machine. A Flow is
// single-use: construct, Execute once, discard.
type Flow struct {
	page  Page
	diag  Diagnostics
	sink  EventSink
	trail Trail
	table *selectors.Table
	cfg   *config.Config

	resolver  *Resolver
	validator *Validator

	state  State
	item   WorkItem
	seller SellerInfo
	price  PriceInfo
}

// New builds a flow bound to one page. trail may be nil when no audit store is
// configured.
func New(page Page, diag Diagnostics, sink EventSink, trail Trail, table *selectors.Table, cfg *config.Config) *Flow {
	f := &Flow{
		page:  page,
		diag:  diag,
		sink:  sink,
		trail: trail,
		table: table,
		cfg:   cfg,
		state: StateIdle,
	}
	f.resolver = NewResolver(page, sink, cfg.SelectorCheckTimeout(), cfg.WaitPoll())
	f.validator = NewValidator(page, table, cfg.WaitProbe(), cfg.OfferPanelTimeout(), func(step, message string, details map[string]interface{}) {
		f.logStep(context.Background(), step, message, details)
	})
	return f
}

// State returns the flow's current state.
func (f *Flow) State() State { return f.state }

// Execute runs the whole purchase attempt for one work item. Business failures
// come back in the Result; the returned Result is never nil-equivalent and the
// flow never panics past this boundary.
func (f *Flow) Execute(ctx context.Context, item WorkItem) (res Result) {
	f.item = item
	f.diag.StartTrace()
	defer func() {
		if r := recover(); r != nil {
			res = f.fail(ctx, "panic", fmt.Sprintf("purchase flow panicked: %v", r), nil)
		}
	}()

	f.sink.SetCurrentURLs([]string{item.URL})
	defer f.sink.SetCurrentURLs(nil)

	res = f.run(ctx)
	if res.Success || res.State == StateOrderPendingConf {
		f.diag.StopTrace(string(res.State))
	}
	return res
}

func (f *Flow) run(ctx context.Context) Result {
	multiOffer := IsMultiOfferURL(f.item.URL)

	// Stage 1: open the product page.
	f.setState(ctx, StateOpeningProduct)
	if !f.openProduct(ctx) {
		return f.fail(ctx, "opening_product", "Failed to open product page", map[string]interface{}{"url": f.item.URL})
	}
	if !f.onRetailHost() {
		return f.fail(ctx, "opening_product", "Navigation landed off the retail site", map[string]interface{}{"landed_url": f.page.URL()})
	}
	if f.anyVisible(selectors.Unavailable) {
		return f.fail(ctx, "availability_check", "Product is currently unavailable", nil)
	}

	// A page with only a "See All Buying Options" link has no featured offer;
	// pivot into the offer panel and continue as multi-offer.
	if !multiOffer {
		if f.resolver.FindAndClick(f.table.Candidates(selectors.SeeAllOptions), "see_all_buying_options", f.cfg.ElementVisibleTimeout()) {
			panel := append(f.table.Candidates(selectors.PinnedOffer), f.table.Candidates(selectors.OfferCards)...)
			if _, ok := f.resolver.WaitForAny(ctx, panel, f.cfg.OfferPanelTimeout()); !ok {
				return f.fail(ctx, "see_all_buying_options", "Offer panel did not open", nil)
			}
			multiOffer = true
		}
	}

	// Stage 2: seller validation. One snapshot per attempt; the same snapshot
	// feeds the decision, the events and the result.
	var offer *Offer
	if multiOffer {
		scan := f.validator.ScanOffers()
		if scan.NoOffers {
			return f.fail(ctx, "seller_validation", "No offers available for this product", nil)
		}
		if scan.Offer == nil {
			return f.fail(ctx, "seller_validation", "No offer ships from and is sold by the retailer", map[string]interface{}{"offers_scanned": scan.Scanned})
		}
		offer = scan.Offer
		f.seller = offer.Seller
	} else {
		f.seller = f.validator.ExtractSeller(false)
		if !f.seller.Valid() {
			return f.fail(ctx, "seller_validation", "Seller validation failed", map[string]interface{}{
				"ships_from": f.seller.ShipsFrom,
				"sold_by":    f.seller.SoldBy,
			})
		}
	}
	f.logStep(ctx, "seller_validated", fmt.Sprintf("Seller OK: ships from %q, sold by %q", f.seller.ShipsFrom, f.seller.SoldBy), sellerDetails(f.seller))

	// Stage 3: price validation, only when the deal carries an expected price.
	if f.item.ExpectedPrice != nil {
		f.price = f.validator.ExtractPrice(multiOffer)
		if !ValidatePrice(f.price, *f.item.ExpectedPrice) {
			details := map[string]interface{}{"expected": *f.item.ExpectedPrice, "raw": f.price.RawText}
			if f.price.Displayed != nil {
				details["displayed"] = *f.price.Displayed
			}
			return f.fail(ctx, "price_validation", "Displayed price does not match the deal price", details)
		}
		f.logStep(ctx, "price_validated", fmt.Sprintf("Price OK: %s", f.price.RawText), nil)
	}

	// Stage 4: add to cart. A validated offer's own button is the only safe
	// target on a multi-offer page. On the standard page buy-now is its own
	// step, tried before add-to-cart: it lands directly on checkout.
	f.setState(ctx, StateAddingToCart)
	viaBuyNow := false
	if offer != nil {
		if !f.clickOfferButton(ctx, offer) {
			return f.fail(ctx, "adding_to_cart", "Could not add the validated offer to the cart", map[string]interface{}{"offer_index": offer.Index})
		}
	} else if f.resolver.FindAndClick(f.table.Candidates(selectors.BuyNow), "buy_now", f.cfg.ElementVisibleTimeout()) {
		viaBuyNow = true
	} else if !f.clickAddToCart(ctx) {
		return f.fail(ctx, "adding_to_cart", "No add-to-cart control found", nil)
	}

	// Stage 5: cart confirmation. Buy-now lands directly on checkout, so there
	// is nothing to confirm; otherwise a missed confirmation is logged and the
	// flow proceeds, because checkout itself re-verifies the cart.
	if !viaBuyNow {
		f.setState(ctx, StateWaitingCartConf)
		confirm := append(append([]string(nil), f.table.Candidates(selectors.SidePanel)...), f.table.Candidates(selectors.CartConfirm)...)
		if sel, ok := f.resolver.WaitForAny(ctx, confirm, f.cfg.CartConfirmTimeout()); ok {
			f.logStep(ctx, "cart_confirmed", "Item added to cart", map[string]interface{}{"selector": sel})
		} else {
			f.logStep(ctx, "cart_confirm_timeout", "No cart confirmation seen, proceeding to checkout anyway", nil)
		}

		// Stage 6: proceed to checkout.
		f.setState(ctx, StateProceedingToCkt)
		if !f.proceedToCheckout(ctx) {
			return f.fail(ctx, "proceeding_to_checkout", "Could not reach the checkout page", nil)
		}
	} else {
		f.logStep(ctx, "buy_now_shortcut", "Buy-now path taken, skipping cart", nil)
		f.setState(ctx, StateProceedingToCkt)
	}

	if _, ok := f.resolver.WaitForAny(ctx, f.table.Candidates(selectors.CheckoutReady), f.cfg.CheckoutReadyTimeout()); !ok {
		return f.fail(ctx, "checkout_load", "Checkout page never became ready", map[string]interface{}{"landed_url": f.page.URL()})
	}
	f.setState(ctx, StateOnCheckoutPage)

	// Stage 7: place the order.
	return f.placeOrder(ctx)
}

// openProduct navigates to the product URL and waits for the buybox, retrying
// per policy.
func (f *Flow) openProduct(ctx context.Context) bool {
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		err := f.page.Navigate(f.item.URL, f.cfg.PageLoadTimeout())
		if err == nil {
			if _, ok := f.resolver.WaitForAny(ctx, f.table.Candidates(selectors.BuyboxReady), f.cfg.BuyboxReadyTimeout()); ok {
				f.logStep(ctx, "product_opened", "Product page loaded", map[string]interface{}{"attempt": attempt})
				return true
			}
			err = fmt.Errorf("buybox not ready")
		}
		f.logStep(ctx, "open_retry", fmt.Sprintf("Open attempt %d/%d failed: %v", attempt, f.cfg.MaxRetries, err), nil)
		if !f.sleep(ctx, f.cfg.RetryDelay()) {
			return false
		}
	}
	return false
}

func (f *Flow) onRetailHost() bool {
	u, err := url.Parse(f.page.URL())
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.Contains(host, "amazon.") || strings.Contains(host, "amzn")
}

// clickOfferButton clicks the validated offer's own add button, retrying per
// policy.
func (f *Flow) clickOfferButton(ctx context.Context, offer *Offer) bool {
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := offer.AddButton.Click(f.cfg.ElementVisibleTimeout()); err == nil {
			f.logStep(ctx, "adding_to_cart", "Clicked the validated offer's add-to-cart button", map[string]interface{}{"offer_index": offer.Index, "pinned": offer.Pinned})
			return true
		}
		if !f.sleep(ctx, f.cfg.RetryDelay()) {
			return false
		}
	}
	return false
}

func (f *Flow) clickAddToCart(ctx context.Context) bool {
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if f.resolver.FindAndClick(f.table.Candidates(selectors.AddToCart), "adding_to_cart", f.cfg.ElementVisibleTimeout()) {
			return true
		}
		if !f.sleep(ctx, f.cfg.RetryDelay()) {
			return false
		}
	}
	return false
}

// proceedToCheckout tries the side-panel checkout button first, then falls
// back to the cart page, navigating there directly when no cart link works.
func (f *Flow) proceedToCheckout(ctx context.Context) bool {
	if f.resolver.FindAndClick(f.table.Candidates(selectors.SidePanelPTC), "proceeding_to_checkout", f.cfg.ElementVisibleTimeout()) {
		return true
	}

	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if !f.resolver.FindAndClick(f.table.Candidates(selectors.GoToCart), "go_to_cart", f.cfg.ElementVisibleTimeout()) {
			if err := f.page.Navigate(cartURL, f.cfg.PageLoadTimeout()); err != nil {
				f.logStep(ctx, "go_to_cart_retry", fmt.Sprintf("Cart navigation failed: %v", err), nil)
				if !f.sleep(ctx, f.cfg.RetryDelay()) {
					return false
				}
				continue
			}
			f.logStep(ctx, "go_to_cart", "Navigated to the cart page directly", nil)
		}
		if f.resolver.FindAndClick(f.table.Candidates(selectors.CartCheckout), "cart_checkout", f.cfg.ElementVisibleTimeout()) {
			return true
		}
		if !f.sleep(ctx, f.cfg.RetryDelay()) {
			return false
		}
	}
	return false
}

// placeOrder runs the final stage. With the confirmation gate on (the default)
// the flow never clicks the final submit itself: it hands control to the
// operator and waits for the confirmation page to appear. A gate timeout is an
// expired handoff, not an error.
func (f *Flow) placeOrder(ctx context.Context) Result {
	f.setState(ctx, StatePlacingOrder)

	// The checkout-ready markers can match a page whose submit button never
	// rendered; summoning the operator to an unsubmittable page is useless, so
	// the control must exist before the handoff.
	if _, ok := f.resolver.WaitForAny(ctx, f.table.Candidates(selectors.PlaceOrder), f.cfg.CheckoutLoadTimeout()); !ok {
		return f.fail(ctx, "placing_order", "Place-order button not found on checkout page", map[string]interface{}{"landed_url": f.page.URL()})
	}

	if f.cfg.ConfirmFinalOrder {
		f.setState(ctx, StateOrderPendingConf)
		details := map[string]interface{}{
			"message_id": f.item.Buyer.MessageID,
			"url":        f.page.URL(),
			"timeout_s":  f.cfg.OrderConfirmSeconds,
		}
		f.sink.Publish(events.TypeOrderPending, "order_pending_confirmation", f.page.URL(), details)
		f.sink.Publish(events.TypeActionRequired, "confirm_order", f.page.URL(), map[string]interface{}{
			"message": "Review the checkout page and place the order manually",
		})
		f.appendTrail(ctx, "order_pending_confirmation", "Waiting for manual order confirmation", details)

		if _, ok := f.resolver.WaitForAny(ctx, f.table.Candidates(selectors.OrderConfirm), f.cfg.OrderConfirmTimeout()); !ok {
			f.setLastAction("order_confirmation_timeout")
			return Result{
				Success: false,
				State:   StateOrderPendingConf,
				Message: "Order was staged but not confirmed in time",
				Details: map[string]interface{}{"checkout_url": f.page.URL()},
			}
		}
		return f.orderPlaced(ctx)
	}

	if !f.resolver.FindAndClick(f.table.Candidates(selectors.PlaceOrder), "placing_order", f.cfg.ElementVisibleTimeout()) {
		return f.fail(ctx, "placing_order", "Place-order button not found on checkout page", nil)
	}
	if _, ok := f.resolver.WaitForAny(ctx, f.table.Candidates(selectors.OrderConfirm), f.cfg.CheckoutLoadTimeout()); !ok {
		return f.fail(ctx, "order_confirmation", "No order confirmation after submitting", map[string]interface{}{"landed_url": f.page.URL()})
	}
	return f.orderPlaced(ctx)
}

func (f *Flow) orderPlaced(ctx context.Context) Result {
	f.setState(ctx, StateOrderPlaced)
	details := map[string]interface{}{
		"url":        f.page.URL(),
		"ships_from": f.seller.ShipsFrom,
		"sold_by":    f.seller.SoldBy,
	}
	f.sink.Publish(events.TypeOrderPlaced, "order_placed", f.page.URL(), details)
	f.appendTrail(ctx, "order_placed", "Order placed", details)
	f.setLastAction("order_placed")
	f.setState(ctx, StateComplete)
	return Result{Success: true, State: StateOrderPlaced, Message: "Order placed", Details: details}
}

// fail captures diagnostics, emits the error event and returns the terminal
// failure result. Every business failure funnels through here.
func (f *Flow) fail(ctx context.Context, stage, message string, details map[string]interface{}) Result {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["stage"] = stage
	if shot := f.diag.Screenshot(stage); shot != "" {
		details["screenshot"] = shot
	}
	if trace := f.diag.StopTrace(stage); trace != "" {
		details["trace"] = trace
	}

	f.setState(ctx, StateError)
	f.sink.Publish(events.TypeError, stage, f.page.URL(), details)
	f.appendTrail(ctx, stage, message, details)
	f.setLastAction(stage + "_failed")
	return Result{Success: false, State: StateError, Message: message, Details: details}
}

func (f *Flow) setState(ctx context.Context, s State) {
	prev := f.state
	f.state = s
	f.sink.SetState(botState(s))
	f.sink.Publish(events.TypeStateChange, string(s), f.page.URL(), map[string]interface{}{"from": string(prev)})
}

// logStep emits a step event and mirrors it into the audit trail.
func (f *Flow) logStep(ctx context.Context, step, message string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["message"] = message
	f.sink.Publish(events.TypeStep, step, f.page.URL(), details)
	f.appendTrail(ctx, step, message, details)
}

func (f *Flow) appendTrail(ctx context.Context, step, message string, details map[string]interface{}) {
	if f.trail == nil || f.item.Buyer.MessageID == "" {
		return
	}
	if err := f.trail.AppendStep(ctx, f.item.Buyer.MessageID, step, message, details); err != nil {
		f.sink.Publish(events.TypeMessage, "trail_write_failed", "", map[string]interface{}{"error": err.Error()})
	}
}

func (f *Flow) setLastAction(action string) {
	f.sink.SetLastAction(map[string]interface{}{
		"action":     action,
		"message_id": f.item.Buyer.MessageID,
		"url":        f.item.URL,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (f *Flow) anyVisible(key string) bool {
	for _, sel := range f.table.Candidates(key) {
		if f.page.Locator(sel).Visible(f.cfg.SelectorCheckTimeout()) {
			return true
		}
	}
	return false
}

// sleep waits for the retry delay, returning false when the context is gone.
func (f *Flow) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// IsMultiOfferURL reports whether the URL targets the offer overlay panel
// (aod=1 query flag or the legacy offer-listing path).
func IsMultiOfferURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Query().Get("aod") == "1" {
		return true
	}
	return strings.Contains(u.Path, "/gp/offer-listing")
}

func botState(s State) events.BotState {
	switch s {
	case StateOpeningProduct:
		return events.StateOpening
	case StateAddingToCart, StateWaitingCartConf:
		return events.StateAddToCart
	case StateProceedingToCkt, StateOnCheckoutPage, StatePlacingOrder:
		return events.StateCheckout
	case StateOrderPendingConf:
		return events.StateOrderPending
	case StateOrderPlaced, StateComplete:
		return events.StateOrderPlaced
	case StateError:
		return events.StateError
	default:
		return events.StateMonitoring
	}
}
