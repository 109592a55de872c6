// Package windcourse implements arcs of wind courses on the compass circle.
//
// A wind course is the direction the wind blows toward, i.e. the true wind
// direction (TWD) rotated by 180°. A Range starts at its portside boundary
// and extends clockwise (toward starboard) by Span degrees, wrapping past 360.
package windcourse

import (
	"fmt"
	"math"
)

// FullCircle is the span of a range that admits every wind course.
const FullCircle = 360.0

// CombinationMode selects the arc returned by Merge.
type CombinationMode int

const (
	// RangeOfNext returns the next range unchanged; only the violation is computed.
	RangeOfNext CombinationMode = iota
	// Intersection returns the overlap, or the gap between the two ranges when
	// they do not overlap.
	Intersection
	// Expansion returns the union of both ranges plus the gap between them.
	Expansion
)

// Normalize maps any angle in degrees to [0, 360).
func Normalize(degrees float64) float64 {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// Difference returns the signed shortest rotation from a to b in (-180, 180].
func Difference(a, b float64) float64 {
	d := Normalize(b - a)
	if d > 180 {
		d -= 360
	}
	return d
}

// TWDFromCourse converts a wind course (blowing toward) into a wind direction
// (blowing from).
func TWDFromCourse(course float64) float64 {
	return Normalize(course + 180)
}

// CourseFromTWD converts a true wind direction into a wind course.
func CourseFromTWD(twd float64) float64 {
	return Normalize(twd + 180)
}

// Range is a clockwise arc [From, From+Span] of wind courses.
type Range struct {
	From float64 // portside boundary, degrees in [0, 360)
	Span float64 // angle toward starboard, degrees in [0, 360]
}

// NewRange returns a normalized range. Negative spans collapse to a single
// bearing and spans beyond a full circle are clamped.
func NewRange(from, span float64) Range {
	if span < 0 || math.IsNaN(span) {
		span = 0
	}
	if span > FullCircle {
		span = FullCircle
	}
	return Range{From: Normalize(from), Span: span}
}

// Centered returns a range of width 2*halfWidth around course.
func Centered(course, halfWidth float64) Range {
	return NewRange(course-halfWidth, 2*halfWidth)
}

// To returns the starboard boundary of the range.
func (r Range) To() float64 {
	return Normalize(r.From + r.Span)
}

// Middle returns the wind course in the middle of the range.
func (r Range) Middle() float64 {
	return Normalize(r.From + r.Span/2)
}

// IsFullCircle reports whether the range carries no directional information.
func (r Range) IsFullCircle() bool {
	return r.Span >= FullCircle
}

// Contains reports whether course lies within the range. Both boundaries are
// inclusive: Range{350, 20} contains 350, 0 and 10 but neither 349 nor 11.
func (r Range) Contains(course float64) bool {
	deviation := Normalize(course) - r.From
	if deviation < 0 {
		deviation += 360
	}
	return deviation-r.Span <= 0
}

// Invert returns the complementary arc. Invert(Invert(r)) == r.
func (r Range) Invert() Range {
	return Range{From: Normalize(r.From + r.Span), Span: FullCircle - r.Span}
}

// ToIntersected lifts r into an IntersectedRange without violation.
func (r Range) ToIntersected() IntersectedRange {
	return IntersectedRange{Range: r}
}

// Intersect returns the overlapping sub-arc of r and next with zero
// Violation. Ranges that do not overlap yield the arc of next and the angular
// gap between both as Violation. a.Intersect(b).Violation equals
// b.Intersect(a).Violation.
func (r Range) Intersect(next Range) IntersectedRange {
	if ir := r.Merge(next, RangeOfNext); ir.Violation > 0 {
		return ir
	}
	return r.Merge(next, Intersection)
}

// Merge combines r with the next range using mode. Violation always reports
// the gap in degrees between non-overlapping ranges.
func (r Range) Merge(next Range, mode CombinationMode) IntersectedRange {
	towardStarboard := next.From - r.From
	if towardStarboard < 0 {
		towardStarboard += 360
	}
	// <= 0 means next.From lies within r.
	beyondStarboard := towardStarboard - r.Span

	from, span, violation := next.From, next.Span, 0.0
	if beyondStarboard <= 0 {
		switch mode {
		case Intersection:
			if beyondStarboard+next.Span < 0 {
				span = next.Span
			} else {
				span = math.Abs(beyondStarboard)
			}
		case Expansion:
			from = r.From
			span = r.Span + beyondStarboard + next.Span
		}
		return newIntersected(from, span, violation)
	}

	towardPortside := 360 - towardStarboard
	// <= 0 means r.From lies within next.
	beyondPortside := towardPortside - next.Span
	if beyondPortside <= 0 {
		switch mode {
		case Intersection:
			from = r.From
			if beyondPortside+r.Span < 0 {
				span = r.Span
			} else {
				span = math.Abs(beyondPortside)
			}
		case Expansion:
			from = next.From
			span = r.Span + beyondPortside + next.Span
		}
		return newIntersected(from, span, violation)
	}

	if beyondStarboard < beyondPortside {
		violation = beyondStarboard
		switch mode {
		case Intersection:
			from = r.From + r.Span
			span = beyondStarboard
		case Expansion:
			from = r.From
			span = r.Span + beyondStarboard + next.Span
		}
	} else {
		violation = beyondPortside
		switch mode {
		case Intersection:
			from = next.From + next.Span
			span = beyondPortside
		case Expansion:
			from = next.From
			span = r.Span + beyondPortside + next.Span
		}
	}
	return newIntersected(from, span, violation)
}

func (r Range) String() string {
	if r.Span == 0 {
		return fmt.Sprintf("wind from %.1f°", TWDFromCourse(r.From))
	}
	return fmt.Sprintf("wind from %.1f-%.1f° (%.1f°)", TWDFromCourse(r.From), TWDFromCourse(r.To()), r.Span)
}

// IntersectedRange is the result of combining two ranges.
type IntersectedRange struct {
	Range
	// Violation is the gap in degrees when the combined ranges did not
	// overlap. It is a soft penalty, never a rejection.
	Violation float64
}

func newIntersected(from, span, violation float64) IntersectedRange {
	return IntersectedRange{Range: NewRange(from, span), Violation: violation}
}

// Extend merges next into ir with Expansion semantics, accumulating the
// violation carried so far.
func (ir IntersectedRange) Extend(next Range) IntersectedRange {
	merged := ir.Range.Merge(next, Expansion)
	merged.Violation += ir.Violation
	return merged
}
