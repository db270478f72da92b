package ranking

import (
	"sort"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
)

// BandDays is how much slower than the fastest quote the cheapest quote may be
// and still be recommended.
const BandDays = 1

// Rank recomputes the flags of the whole set. Ready, unexpired quotes come
// first, ordered by total price, then transit days, then id; the rest follow
// unflagged in their original order.
func Rank(quotes []model.PricedQuote, now time.Time) []model.PricedQuote {
	var eligible, rest []model.PricedQuote
	for _, q := range quotes {
		q.Flags = model.RankFlags{}
		if q.Quote.Status == model.QuoteStatusReady && !q.Quote.Expired(now) {
			eligible = append(eligible, q)
		} else {
			rest = append(rest, q)
		}
	}
	if len(eligible) == 0 {
		return rest
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if c := a.Pricing.Total.Cmp(b.Pricing.Total); c != 0 {
			return c < 0
		}
		if a.Quote.TransitDays != b.Quote.TransitDays {
			return a.Quote.TransitDays < b.Quote.TransitDays
		}
		return a.Quote.ID < b.Quote.ID
	})

	minPrice := eligible[0].Pricing.Total
	minTransit := eligible[0].Quote.TransitDays
	for _, q := range eligible[1:] {
		if q.Quote.TransitDays < minTransit {
			minTransit = q.Quote.TransitDays
		}
	}

	for i := range eligible {
		eligible[i].Flags.Cheapest = eligible[i].Pricing.Total.Equal(minPrice)
		eligible[i].Flags.Fastest = eligible[i].Quote.TransitDays == minTransit
	}

	if idx := recommend(eligible, minTransit); idx >= 0 {
		eligible[idx].Flags.Recommended = true
	}

	return append(eligible, rest...)
}

// recommend returns the index of the single recommended quote or -1.
func recommend(sorted []model.PricedQuote, minTransit int) int {
	if len(sorted) == 1 {
		return 0
	}
	for i, q := range sorted {
		if q.Flags.Cheapest && q.Flags.Fastest {
			return i
		}
	}
	// первый в порядке сортировки - самый дешевый (и самый быстрый среди равных по цене)
	if sorted[0].Quote.TransitDays-minTransit <= BandDays {
		return 0
	}
	return -1
}
