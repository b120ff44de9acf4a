package merge

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"pyxis/internal/field"
)

// Sample is one observation's contribution to a rule: the attribute value and,
// for volume weighting, the aligned weight. Samples are in observation order.
type Sample struct {
	Value  field.Value
	Weight field.Value
}

// Reduce collapses samples with method. Null samples are ignored; a null
// result means nothing usable was observed.
func Reduce(method Method, samples []Sample, currentYear int) field.Value {
	values := make([]field.Value, 0, len(samples))
	for _, s := range samples {
		if !s.Value.IsNull() {
			values = append(values, s.Value)
		}
	}
	if len(values) == 0 {
		return field.Null()
	}

	switch method {
	case MethodAverage:
		return average(numbers(values))
	case MethodMedian:
		return median(numbers(values))
	case MethodMostFrequent:
		return mostFrequent(values)
	case MethodSum:
		nums := numbers(values)
		if len(nums) == 0 {
			return field.Null()
		}
		var total float64
		for _, n := range nums {
			total += n
		}
		return numeric(total, allIntegers(values))
	case MethodMin:
		nums := numbers(values)
		if len(nums) == 0 {
			return field.Null()
		}
		return numeric(slices.Min(nums), allIntegers(values))
	case MethodMax:
		nums := numbers(values)
		if len(nums) == 0 {
			return field.Null()
		}
		return numeric(slices.Max(nums), allIntegers(values))
	case MethodFirst:
		return values[0]
	case MethodLast:
		return values[len(values)-1]
	case MethodVolumeWeighted:
		return volumeWeighted(samples, values)
	case MethodAvgAge:
		mean := average(numbers(values))
		year, ok := mean.Float()
		if !ok {
			return field.Null()
		}
		return field.Integer(int64(currentYear) - int64(math.Round(year)))
	default:
		return field.Null()
	}
}

// ApplyRounding truncates numeric results toward zero for RoundInt.
func ApplyRounding(v field.Value, r Rounding) field.Value {
	if r != RoundInt || !v.IsNumeric() {
		return v
	}
	i, _ := v.Int()
	return field.Integer(i)
}

// asNumber accepts numeric values, booleans as 0/1, and numeric text.
func asNumber(v field.Value) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	if b, ok := v.BoolValue(); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	if s, ok := v.Str(); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func numbers(values []field.Value) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := asNumber(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func allIntegers(values []field.Value) bool {
	for _, v := range values {
		if v.Kind() != field.KindInteger {
			return false
		}
	}
	return true
}

func numeric(f float64, integer bool) field.Value {
	if integer && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return field.Integer(int64(f))
	}
	return field.Number(f)
}

func average(nums []float64) field.Value {
	if len(nums) == 0 {
		return field.Null()
	}
	var total float64
	for _, n := range nums {
		total += n
	}
	return field.Number(total / float64(len(nums)))
}

func median(nums []float64) field.Value {
	if len(nums) == 0 {
		return field.Null()
	}
	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return field.Number(sorted[mid])
	}
	return field.Number((sorted[mid-1] + sorted[mid]) / 2)
}

// mostFrequent returns the modal value; ties resolve to the smallest value.
func mostFrequent(values []field.Value) field.Value {
	type bucket struct {
		value field.Value
		count int
	}
	var buckets []bucket
	for _, v := range values {
		found := false
		for i := range buckets {
			if buckets[i].value.Equal(v) {
				buckets[i].count++
				found = true
				break
			}
		}
		if !found {
			buckets = append(buckets, bucket{value: v, count: 1})
		}
	}
	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.count > best.count || (b.count == best.count && field.Compare(b.value, best.value) < 0) {
			best = b
		}
	}
	return best.value
}

func volumeWeighted(samples []Sample, values []field.Value) field.Value {
	var weightedSum, totalWeight float64
	pairs := 0
	for _, s := range samples {
		if s.Value.IsNull() || s.Weight.IsNull() {
			continue
		}
		v, okV := asNumber(s.Value)
		w, okW := asNumber(s.Weight)
		if !okV || !okW {
			continue
		}
		weightedSum += v * w
		totalWeight += w
		pairs++
	}
	if pairs == 0 || totalWeight == 0 {
		return average(numbers(values))
	}
	return field.Number(weightedSum / totalWeight)
}
