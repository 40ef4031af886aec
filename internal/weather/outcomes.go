package weather

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// OutcomeKind is the shape of a market outcome over settlement integers.
type OutcomeKind string

const (
	OutcomeExact     OutcomeKind = "exact"       // "8°C"
	OutcomeRange     OutcomeKind = "range"       // "80-81°F"
	OutcomeAtOrBelow OutcomeKind = "at-or-below" // "6°C or below"
	OutcomeAtOrAbove OutcomeKind = "at-or-above" // "12°C or higher"
)

// Outcome is a set of settlement integers named by a market label.
// Low and High are inclusive; open ends use math.MinInt / math.MaxInt.
type Outcome struct {
	Label string      `json:"label"`
	Kind  OutcomeKind `json:"kind"`
	Low   int         `json:"low"`
	High  int         `json:"high"`
	Unit  Unit        `json:"unit,omitempty"`
}

var (
	rangePattern  = regexp.MustCompile(`(-?\d+)\s*(?:-|–|to)\s*(-?\d+)`)
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	unitPattern   = regexp.MustCompile(`\d\s*(?:°|º|degrees?)?\s*([cf])\b`)
)

// ParseOutcome reads labels such as "8°C", "80-81°F", "6°C or below",
// "between 20 and 21" or "12ºC or higher".
func ParseOutcome(label string) (Outcome, error) {
	q := strings.ToLower(strings.TrimSpace(label))
	if q == "" {
		return Outcome{}, fmt.Errorf("empty outcome label")
	}
	o := Outcome{Label: label}
	if m := unitPattern.FindStringSubmatch(q); m != nil {
		o.Unit = Unit(strings.ToUpper(m[1]))
	}
	q = strings.Replace(q, " and ", " to ", 1)

	if m := rangePattern.FindStringSubmatch(q); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if hi < lo {
			return Outcome{}, fmt.Errorf("outcome %q: range %d-%d is inverted", label, lo, hi)
		}
		o.Kind, o.Low, o.High = OutcomeRange, lo, hi
		return o, nil
	}

	nums := numberPattern.FindAllString(q, -1)
	if len(nums) != 1 {
		return Outcome{}, fmt.Errorf("outcome %q: expected one temperature, found %d", label, len(nums))
	}
	if strings.Contains(nums[0], ".") {
		return Outcome{}, fmt.Errorf("outcome %q: settlement values are whole degrees", label)
	}
	n, _ := strconv.Atoi(nums[0])

	switch {
	case containsAny(q, "or below", "or lower", "or less", "or under"):
		o.Kind, o.Low, o.High = OutcomeAtOrBelow, math.MinInt, n
	case containsAny(q, "or higher", "or above", "or more", "or over"):
		o.Kind, o.Low, o.High = OutcomeAtOrAbove, n, math.MaxInt
	default:
		o.Kind, o.Low, o.High = OutcomeExact, n, n
	}
	return o, nil
}

// Contains reports whether settlement value n resolves the outcome to yes.
func (o Outcome) Contains(n int) bool {
	return n >= o.Low && n <= o.High
}

// OutcomeProb returns the probability that the day settles inside o.
func (d *Distribution) OutcomeProb(o Outcome) float64 {
	total := 0.0
	for _, b := range d.Buckets {
		if o.Contains(b.Value) {
			total += b.Prob
		}
	}
	return total
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
