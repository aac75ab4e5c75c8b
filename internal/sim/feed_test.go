package sim

import "testing"

func drain(f PriceFeed) []PricePoint {
	var out []PricePoint
	for {
		p, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

func TestSliceFeedExhaustsAndRestarts(t *testing.T) {
	points := []PricePoint{
		{Timestamp: 100, MarkPrice: 5_950_000},
		{Timestamp: 200, MarkPrice: 5_400_000},
	}
	f := NewSliceFeed(points)

	first := drain(f)
	if len(first) != 2 {
		t.Fatalf("first pass = %d points, want 2", len(first))
	}
	if _, ok := f.Next(); ok {
		t.Error("exhausted feed must keep returning false")
	}

	f.Restart()
	second := drain(f)
	if len(second) != 2 || second[0] != first[0] || second[1] != first[1] {
		t.Errorf("restart did not replay the same sequence: %v vs %v", second, first)
	}
}

func TestFeedFromScenarioPicksPriceEvents(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}

	f := FeedFromScenario(s)
	points := drain(f)
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if points[0].MarkPrice != 5_400_000 || points[0].Timestamp != 200 {
		t.Errorf("point = %+v", points[0])
	}
}

func TestRampFeedGeneratesLazily(t *testing.T) {
	f := NewRampFeed(6_000_000, -100_000, 1000, 10, 3)

	points := drain(f)
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if points[2].MarkPrice != 5_800_000 || points[2].Timestamp != 1020 {
		t.Errorf("last point = %+v", points[2])
	}

	f.Restart()
	if p, ok := f.Next(); !ok || p.MarkPrice != 6_000_000 {
		t.Errorf("restart point = %+v ok=%v", p, ok)
	}
}
