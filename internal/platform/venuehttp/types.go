package venuehttp

import (
	"strconv"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// APILevel is one price level. Numbers arrive as strings to keep precision.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is a CLOB venue's ladder for the requested pair.
type APIBook struct {
	Bids        []APILevel `json:"bids"`
	Asks        []APILevel `json:"asks"`
	Direction   string     `json:"direction"`
	TakerFeeBps float64    `json:"taker_fee_bps"`
}

// APIReserves is an AMM pool oriented to the requested swap.
type APIReserves struct {
	In     string  `json:"in"`
	Out    string  `json:"out"`
	FeeBps float64 `json:"fee_bps"`
}

// APIQuote is the body returned by GET /v1/quote.
type APIQuote struct {
	Available      bool              `json:"available"`
	Kind           string            `json:"kind"`
	Depth          string            `json:"depth"`
	EffectivePrice string            `json:"effective_price"`
	FeeAmount      string            `json:"fee_amount"`
	SlippagePct    float64           `json:"slippage_pct"`
	Timestamp      int64             `json:"timestamp_ms"`
	Book           *APIBook          `json:"book,omitempty"`
	Reserves       *APIReserves      `json:"reserves,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ToDomainSource converts the quote. venue and fallbackKind fill fields the
// venue may omit; now stamps quotes that carry no timestamp.
func (q *APIQuote) ToDomainSource(venue string, fallbackKind domain.VenueKind, now time.Time) *domain.LiquiditySource {
	src := &domain.LiquiditySource{
		Venue:          venue,
		Kind:           domain.VenueKind(q.Kind),
		Depth:          parseFloat(q.Depth),
		EffectivePrice: parseFloat(q.EffectivePrice),
		FeeAmount:      parseFloat(q.FeeAmount),
		SlippagePct:    q.SlippagePct,
		Timestamp:      now,
		Metadata:       q.Metadata,
	}
	if src.Kind == "" {
		src.Kind = fallbackKind
	}
	if q.Timestamp > 0 {
		src.Timestamp = time.UnixMilli(q.Timestamp).UTC()
	}
	if q.Book != nil {
		src.Orderbook = &domain.Orderbook{
			Bids:        toLevels(q.Book.Bids),
			Asks:        toLevels(q.Book.Asks),
			Direction:   domain.BookDirection(q.Book.Direction),
			TakerFeeBps: q.Book.TakerFeeBps,
		}
		if src.Orderbook.Direction == "" {
			src.Orderbook.Direction = domain.SellBase
		}
	}
	if q.Reserves != nil {
		src.Reserves = &domain.Reserves{
			In:     parseFloat(q.Reserves.In),
			Out:    parseFloat(q.Reserves.Out),
			FeeBps: q.Reserves.FeeBps,
		}
	}
	return src
}

func toLevels(in []APILevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: parseFloat(l.Price), Size: parseFloat(l.Size)})
	}
	return out
}

// parseFloat parses a numeric string, returning 0 on failure.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
