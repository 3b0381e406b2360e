// Package pricing computes checkout totals: per-shop item cost, shop and
// platform voucher discounts, and final payable amounts. All money is int64
// Vietnamese đồng; the only rounding happens in the proportional platform
// allocation, where each shop gets the floored share and the last contributing
// shop absorbs the remainder so shares always sum to the platform amount.
package pricing

import (
	"context"

	"github.com/example/fulfillment/pkg/models"
)

// DiscountSource supplies discount definitions and usage counters. The engine
// itself performs no writes.
type DiscountSource interface {
	// FindByCodes returns only ACTIVE, non-expired, non-deleted discounts
	// matching the codes, filtered to platform or shop scope.
	FindByCodes(ctx context.Context, codes []string, platform bool) ([]models.Discount, error)
	// UserUsage returns how many times the user has redeemed the discount.
	UserUsage(ctx context.Context, userID, discountID string) (int64, error)
}

type LineItem struct {
	SKUID       string
	ProductID   string
	BrandID     string
	CategoryIDs []string
	Price       int64
	Quantity    int64
}

type ShopCart struct {
	ShopID       string
	ShippingFee  int64
	VoucherCodes []string
	Items        []LineItem
}

type ShopTotal struct {
	ShopID          string
	ItemCost        int64
	ShippingFee     int64
	ShopVoucher     int64
	PlatformVoucher int64
	TotalPayment    int64
}

type CheckoutTotal struct {
	Shops           []ShopTotal
	ItemCost        int64
	ShippingFee     int64
	VoucherDiscount int64
	TotalPayment    int64
}

type Engine struct {
	discounts DiscountSource
}

func NewEngine(discounts DiscountSource) *Engine {
	return &Engine{discounts: discounts}
}

// Quote computes itemized and aggregate totals for a multi-shop checkout.
func (e *Engine) Quote(ctx context.Context, userID string, carts []ShopCart, platformCodes []string) (*CheckoutTotal, error) {
	total := &CheckoutTotal{}
	if len(carts) == 0 {
		return total, nil
	}

	shops := make([]ShopTotal, len(carts))
	var sumItemCost int64
	for i, cart := range carts {
		itemCost := cart.itemCost()
		shopVoucher, err := e.shopVoucher(ctx, userID, cart, itemCost)
		if err != nil {
			return nil, err
		}
		if shopVoucher > itemCost {
			shopVoucher = itemCost
		}
		shops[i] = ShopTotal{
			ShopID:      cart.ShopID,
			ItemCost:    itemCost,
			ShippingFee: cart.ShippingFee,
			ShopVoucher: shopVoucher,
		}
		sumItemCost += itemCost
	}

	platformAbs, err := e.platformVoucher(ctx, userID, carts, platformCodes, sumItemCost)
	if err != nil {
		return nil, err
	}

	allocatePlatform(shops, platformAbs, sumItemCost)

	for i := range shops {
		s := &shops[i]
		payable := s.ItemCost - s.ShopVoucher + s.ShippingFee
		if payable < 0 {
			payable = 0
		}
		// The platform share never pushes a shop below zero.
		if s.PlatformVoucher > payable {
			s.PlatformVoucher = payable
		}
		s.TotalPayment = payable - s.PlatformVoucher

		total.ItemCost += s.ItemCost
		total.ShippingFee += s.ShippingFee
		total.VoucherDiscount += s.ShopVoucher + s.PlatformVoucher
		total.TotalPayment += s.TotalPayment
	}
	total.Shops = shops
	return total, nil
}

func (c *ShopCart) itemCost() int64 {
	var cost int64
	for _, it := range c.Items {
		cost += it.Price * it.Quantity
	}
	return cost
}

func (e *Engine) shopVoucher(ctx context.Context, userID string, cart ShopCart, itemCost int64) (int64, error) {
	if len(cart.VoucherCodes) == 0 {
		return 0, nil
	}
	discounts, err := e.discounts.FindByCodes(ctx, cart.VoucherCodes, false)
	if err != nil {
		return 0, err
	}
	var sum int64
	for i := range discounts {
		d := &discounts[i]
		ok, err := e.eligible(ctx, userID, d, itemCost, cart.Items)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		sum += d.AmountFor(itemCost)
	}
	return sum, nil
}

func (e *Engine) platformVoucher(ctx context.Context, userID string, carts []ShopCart, codes []string, sumItemCost int64) (int64, error) {
	if len(codes) == 0 || sumItemCost <= 0 {
		return 0, nil
	}
	discounts, err := e.discounts.FindByCodes(ctx, codes, true)
	if err != nil {
		return 0, err
	}
	var allItems []LineItem
	for _, c := range carts {
		allItems = append(allItems, c.Items...)
	}
	var sum int64
	for i := range discounts {
		d := &discounts[i]
		ok, err := e.eligible(ctx, userID, d, sumItemCost, allItems)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		sum += d.AmountFor(sumItemCost)
	}
	if sum > sumItemCost {
		sum = sumItemCost
	}
	return sum, nil
}

// eligible applies the per-user usage cap, the minimum order value, and the
// SPECIFIC apply-type intersection. Ineligible discounts are skipped, not
// reported as errors.
func (e *Engine) eligible(ctx context.Context, userID string, d *models.Discount, baseAmount int64, items []LineItem) (bool, error) {
	if d.MaxUsesPerUser > 0 {
		used, err := e.discounts.UserUsage(ctx, userID, d.ID)
		if err != nil {
			return false, err
		}
		if used >= d.MaxUsesPerUser {
			return false, nil
		}
	}
	if d.MinOrderValue > 0 && baseAmount < d.MinOrderValue {
		return false, nil
	}
	if d.ApplyType == models.DiscountApplySpecific {
		elig, err := d.Eligibility()
		if err != nil {
			return false, err
		}
		if !intersects(elig, items) {
			return false, nil
		}
	}
	return true, nil
}

func intersects(e models.Eligibility, items []LineItem) bool {
	products := toSet(e.ProductIDs)
	brands := toSet(e.BrandIDs)
	categories := toSet(e.CategoryIDs)
	for _, it := range items {
		if products[it.ProductID] || brands[it.BrandID] {
			return true
		}
		for _, c := range it.CategoryIDs {
			if categories[c] {
				return true
			}
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// allocatePlatform splits the platform discount across shops proportionally
// to their share of the summed item cost. A shop with zero item cost receives
// nothing. Floor division would leave đồng on the table, so the remainder
// goes to the last shop that contributed item cost.
func allocatePlatform(shops []ShopTotal, platformAbs, sumItemCost int64) {
	if platformAbs <= 0 || sumItemCost <= 0 {
		return
	}
	var allocated int64
	last := -1
	for i := range shops {
		if shops[i].ItemCost <= 0 {
			continue
		}
		share := platformAbs * shops[i].ItemCost / sumItemCost
		shops[i].PlatformVoucher = share
		allocated += share
		last = i
	}
	if last >= 0 {
		shops[last].PlatformVoucher += platformAbs - allocated
	}
}
