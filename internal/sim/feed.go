package sim

// PricePoint is one mark price observation.
type PricePoint struct {
	Timestamp int64 // Epoch micros
	MarkPrice int64 // Fixed-point: price scale
}

// PriceFeed is a lazy, finite sequence of mark prices. Next returns
// false when the feed is exhausted; Restart rewinds to the beginning,
// after which the feed yields the same sequence again.
type PriceFeed interface {
	Next() (PricePoint, bool)
	Restart()
}

// SliceFeed replays a fixed slice of price points.
type SliceFeed struct {
	points []PricePoint
	pos    int
}

func NewSliceFeed(points []PricePoint) *SliceFeed {
	return &SliceFeed{points: points}
}

func (f *SliceFeed) Next() (PricePoint, bool) {
	if f.pos >= len(f.points) {
		return PricePoint{}, false
	}
	p := f.points[f.pos]
	f.pos++
	return p, true
}

func (f *SliceFeed) Restart() {
	f.pos = 0
}

// FeedFromScenario extracts the price events of a scenario into a
// replayable feed.
func FeedFromScenario(s *Scenario) *SliceFeed {
	var points []PricePoint
	for _, evt := range s.Events {
		if evt.Kind == EventKindPrice {
			points = append(points, PricePoint{Timestamp: evt.Timestamp, MarkPrice: evt.MarkPrice})
		}
	}
	return NewSliceFeed(points)
}

// RampFeed generates n evenly spaced prices lazily, stepping both price
// and timestamp. Useful for synthetic stress runs without a scenario
// file.
type RampFeed struct {
	startPrice int64
	priceStep  int64
	startTs    int64
	tsStep     int64
	n          int
	pos        int
}

func NewRampFeed(startPrice, priceStep, startTs, tsStep int64, n int) *RampFeed {
	return &RampFeed{
		startPrice: startPrice,
		priceStep:  priceStep,
		startTs:    startTs,
		tsStep:     tsStep,
		n:          n,
	}
}

func (f *RampFeed) Next() (PricePoint, bool) {
	if f.pos >= f.n {
		return PricePoint{}, false
	}
	i := int64(f.pos)
	f.pos++
	return PricePoint{
		Timestamp: f.startTs + i*f.tsStep,
		MarkPrice: f.startPrice + i*f.priceStep,
	}, true
}

func (f *RampFeed) Restart() {
	f.pos = 0
}
