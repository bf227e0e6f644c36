package routing

import "github.com/alanyoungcy/swaprouter/internal/domain"

// fillTolerance absorbs float noise when deciding whether a ladder ran dry.
const fillTolerance = 1e-12

// Fill is the outcome of walking an order book ladder.
type Fill struct {
	FilledInput    float64
	GrossOutput    float64
	NetOutput      float64
	AvgPrice       float64
	LevelsConsumed int
	Exhausted      bool
}

// SimulateCLOBFill walks the side of the book consumed by direction level by
// level until amount is filled or the ladder runs out. Levels are consumed in
// the order given, so callers pass best-first ladders (see
// domain.Orderbook.Sanitized). Unusable levels are skipped.
//
// sell_base consumes bids: input is base, output is Σ price·size.
// buy_base consumes asks: input is quote, output is Σ spent/price.
// The taker fee is charged on the output.
func SimulateCLOBFill(bids, asks []domain.PriceLevel, direction domain.BookDirection, amount, takerFeeBps float64) Fill {
	var f Fill
	if amount <= 0 {
		return f
	}

	levels := bids
	if direction == domain.BuyBase {
		levels = asks
	}

	remaining := amount
	for _, lvl := range levels {
		if remaining <= fillTolerance*amount {
			break
		}
		if !lvl.Usable() {
			continue
		}
		var capacity float64
		if direction == domain.BuyBase {
			capacity = lvl.Price * lvl.Size
		} else {
			capacity = lvl.Size
		}
		take := min(remaining, capacity)
		if direction == domain.BuyBase {
			f.GrossOutput += take / lvl.Price
		} else {
			f.GrossOutput += take * lvl.Price
		}
		f.FilledInput += take
		f.LevelsConsumed++
		remaining -= take
	}

	f.Exhausted = remaining > fillTolerance*amount
	f.NetOutput = f.GrossOutput * (1 - takerFeeBps/10_000)
	if f.FilledInput > 0 {
		f.AvgPrice = f.GrossOutput / f.FilledInput
	}
	return f
}

// simulateBook is SimulateCLOBFill over a domain.Orderbook.
func simulateBook(book *domain.Orderbook, amount float64) Fill {
	return SimulateCLOBFill(book.Bids, book.Asks, book.Direction, amount, book.TakerFeeBps)
}

// topOfBook is the gross output per unit input at the best consumed level.
func topOfBook(book *domain.Orderbook) float64 {
	for _, lvl := range book.Levels() {
		if !lvl.Usable() {
			continue
		}
		if book.Direction == domain.BuyBase {
			return 1 / lvl.Price
		}
		return lvl.Price
	}
	return 0
}
