package world

import "sort"

// sortBookLive imposes the documented price-time priority ordering:
// bids price descending then sequence ascending; asks price ascending
// then sequence ascending. Hash-map iteration order never influences this
// result — it is always re-derived from the live order set.
func sortBookLive(orders []*Order, side Side) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		cmp := a.Price.Cmp(b.Price)
		if cmp != 0 {
			if side == SideBid {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.Sequence < b.Sequence
	})
}

func sortOrdersBySequence(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].Sequence < orders[j].Sequence })
}
