// Package stock holds the ledger rules that keep warehouse stock, cart
// stock and order sourcing mutually consistent. The functions are pure
// in-memory mutations; the store backends call them inside their
// transaction envelopes and persist the results atomically.
package stock

import (
	"fmt"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
)

// AdjustDrugStock applies a warehouse delta and a cart delta to a drug.
// Positive deltas add, negative subtract. Either counter going negative
// rejects the whole adjustment; nothing is mutated on failure.
func AdjustDrugStock(d *domain.Drug, warehouseDelta int, cartDelta int, now time.Time) error {
	if warehouseDelta < 0 && -warehouseDelta > d.Stock {
		return fmt.Errorf("%w for %s: available %d, requested %d",
			store.ErrInsufficientStock, d.Name, d.Stock, -warehouseDelta)
	}
	if cartDelta < 0 && -cartDelta > d.CartStock {
		return fmt.Errorf("%w for %s: available %d, requested %d",
			store.ErrInsufficientCartQuantity, d.Name, d.CartStock, -cartDelta)
	}
	d.Stock += warehouseDelta
	d.CartStock += cartDelta
	d.UpdatedAt = now
	return nil
}

// AddCartItem merges the quantity into an existing line for the drug or
// appends a new line with the drug's current price snapshotted. Totals
// and load timestamps are refreshed.
func AddCartItem(c *domain.Cart, drug domain.Drug, quantity int, now time.Time) {
	for i := range c.Items {
		if c.Items[i].DrugID == drug.ID {
			c.Items[i].Quantity += quantity
			c.Items[i].LoadedAt = now
			touchLoaded(c, now)
			return
		}
	}
	c.Items = append(c.Items, domain.CartItem{
		DrugID:     drug.ID,
		Quantity:   quantity,
		PriceCents: drug.PriceCents,
		LoadedAt:   now,
	})
	touchLoaded(c, now)
}

// RemoveCartItem reduces a line's quantity, dropping the line entirely
// when it reaches zero.
func RemoveCartItem(c *domain.Cart, drugID string, quantity int, now time.Time) error {
	idx := -1
	for i := range c.Items {
		if c.Items[i].DrugID == drugID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: drug %s", store.ErrItemNotFound, drugID)
	}
	if c.Items[idx].Quantity < quantity {
		return fmt.Errorf("%w for drug %s: available %d, requested %d",
			store.ErrInsufficientCartQuantity, drugID, c.Items[idx].Quantity, quantity)
	}
	c.Items[idx].Quantity -= quantity
	if c.Items[idx].Quantity <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	}
	RecalcCartTotals(c)
	c.UpdatedAt = now
	return nil
}

// ClearCart empties all items and stamps the unload time. Used only by
// the full-unload operation alongside a transfer record.
func ClearCart(c *domain.Cart, now time.Time) {
	c.Items = nil
	c.LastUnloadedAt = &now
	RecalcCartTotals(c)
	c.UpdatedAt = now
}

func CartItemQuantity(c domain.Cart, drugID string) int {
	for _, item := range c.Items {
		if item.DrugID == drugID {
			return item.Quantity
		}
	}
	return 0
}

// RecalcCartTotals rederives the denormalized totals from the item
// list. The stored totals are a cache; this is the source of truth.
func RecalcCartTotals(c *domain.Cart) {
	totalItems := 0
	totalValue := int64(0)
	for _, item := range c.Items {
		totalItems += item.Quantity
		totalValue += int64(item.Quantity) * item.PriceCents
	}
	c.TotalItems = totalItems
	c.TotalValueCents = totalValue
}

func touchLoaded(c *domain.Cart, now time.Time) {
	c.LastLoadedAt = &now
	RecalcCartTotals(c)
	c.UpdatedAt = now
}

// TransferSnapshot freezes a cart's current items into an immutable
// transfer record. Totals are computed from the snapshot itself.
func TransferSnapshot(id string, c domain.Cart, notes string, now time.Time) domain.CartTransfer {
	items := make([]domain.TransferItem, 0, len(c.Items))
	totalItems := 0
	totalValue := int64(0)
	for _, item := range c.Items {
		items = append(items, domain.TransferItem{
			DrugID:     item.DrugID,
			Quantity:   item.Quantity,
			PriceCents: item.PriceCents,
		})
		totalItems += item.Quantity
		totalValue += int64(item.Quantity) * item.PriceCents
	}
	return domain.CartTransfer{
		ID:              id,
		CartID:          c.ID,
		Items:           items,
		TotalItems:      totalItems,
		TotalValueCents: totalValue,
		Notes:           notes,
		TransferredAt:   now,
	}
}

// PlanSourcing decides, line by line, which pool supplies an order.
// Priority: a specified cart with enough cart stock takes the whole
// line; otherwise the warehouse if it can cover it alone; otherwise the
// line is split, cart first, with the warehouse remainder appended as a
// new line. The returned slice can therefore be longer than the input.
//
// Planning reads each drug's counters independently per line; ordering
// the same drug twice can over-commit a pool here, which the per-line
// application then rejects, aborting the enclosing transaction.
func PlanSourcing(items []domain.OrderItem, drugs map[string]*domain.Drug, cartSpecified bool) ([]domain.OrderItem, error) {
	planned := make([]domain.OrderItem, len(items))
	copy(planned, items)

	for i := 0; i < len(planned); i++ {
		item := &planned[i]
		drug, ok := drugs[item.DrugID]
		if !ok || drug == nil {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive for %s", store.ErrValidation, drug.Name)
		}
		if item.PriceCents <= 0 {
			item.PriceCents = drug.PriceCents
		}
		if item.Source != "" {
			continue
		}

		total := drug.TotalStock()
		if total < item.Quantity {
			return nil, fmt.Errorf("%w for %s: total available %d, requested %d",
				store.ErrInsufficientStock, drug.Name, total, item.Quantity)
		}

		switch {
		case cartSpecified && drug.CartStock >= item.Quantity:
			item.Source = domain.SourceCart
		case drug.Stock >= item.Quantity:
			item.Source = domain.SourceWarehouse
		default:
			fromCart := item.Quantity
			if drug.CartStock < fromCart {
				fromCart = drug.CartStock
			}
			fromWarehouse := item.Quantity - fromCart
			if fromCart > 0 {
				item.Source = domain.SourceCart
				item.Quantity = fromCart
				if fromWarehouse > 0 {
					planned = append(planned, domain.OrderItem{
						DrugID:     item.DrugID,
						Quantity:   fromWarehouse,
						PriceCents: item.PriceCents,
						Source:     domain.SourceWarehouse,
					})
				}
			} else {
				item.Source = domain.SourceWarehouse
			}
		}
	}

	return planned, nil
}

// ApplyOrderLine consumes one planned line: the supplying pool on the
// drug is decremented and, for cart-sourced lines with a cart attached,
// the cart's item list is reduced in step.
func ApplyOrderLine(d *domain.Drug, c *domain.Cart, item domain.OrderItem, now time.Time) error {
	if item.Source == domain.SourceCart {
		if err := AdjustDrugStock(d, 0, -item.Quantity, now); err != nil {
			return err
		}
		if c != nil {
			return RemoveCartItem(c, item.DrugID, item.Quantity, now)
		}
		return nil
	}
	return AdjustDrugStock(d, -item.Quantity, 0, now)
}

// RestoreOrderLine is the inverse of ApplyOrderLine: the quantity goes
// back to whichever pool supplied it. Cart-sourced quantities rejoin the
// cart's item list at the order line's price, not the drug's current
// price, so a price change between sale and restore cannot alter the
// cart's value.
func RestoreOrderLine(d *domain.Drug, c *domain.Cart, item domain.OrderItem, now time.Time) {
	if item.Source == domain.SourceCart {
		d.CartStock += item.Quantity
		d.UpdatedAt = now
		if c != nil {
			restoreCartLine(c, item, now)
		}
		return
	}
	d.Stock += item.Quantity
	d.UpdatedAt = now
}

func restoreCartLine(c *domain.Cart, item domain.OrderItem, now time.Time) {
	for i := range c.Items {
		if c.Items[i].DrugID == item.DrugID {
			c.Items[i].Quantity += item.Quantity
			touchLoaded(c, now)
			return
		}
	}
	c.Items = append(c.Items, domain.CartItem{
		DrugID:     item.DrugID,
		Quantity:   item.Quantity,
		PriceCents: item.PriceCents,
		LoadedAt:   now,
	})
	touchLoaded(c, now)
}

// OrderTotal sums quantity times price across lines. A split leaves the
// total unchanged because both halves carry the same price.
func OrderTotal(items []domain.OrderItem) int64 {
	total := int64(0)
	for _, item := range items {
		total += int64(item.Quantity) * item.PriceCents
	}
	return total
}
