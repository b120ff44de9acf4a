package merge

import (
	"fmt"
	"strings"
)

// Method is the closed set of reductions a rule may apply.
type Method uint8

const (
	MethodAverage Method = iota + 1
	MethodMedian
	MethodMostFrequent
	MethodSum
	MethodMin
	MethodMax
	MethodFirst
	MethodLast
	MethodVolumeWeighted
	MethodAvgAge
)

var methodNames = map[Method]string{
	MethodAverage:        "average",
	MethodMedian:         "median",
	MethodMostFrequent:   "most_frequent",
	MethodSum:            "sum",
	MethodMin:            "min",
	MethodMax:            "max",
	MethodFirst:          "first",
	MethodLast:           "last",
	MethodVolumeWeighted: "volume_weighted",
	MethodAvgAge:         "avg_age",
}

// AllMethods lists every method in declaration order.
func AllMethods() []Method {
	return []Method{
		MethodAverage, MethodMedian, MethodMostFrequent, MethodSum, MethodMin,
		MethodMax, MethodFirst, MethodLast, MethodVolumeWeighted, MethodAvgAge,
	}
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// ParseMethod converts a configuration name into a Method.
func ParseMethod(value string) (Method, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for m, name := range methodNames {
		if name == normalized {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown merge method %q", value)
}

// NumericOnly reports methods that require numeric values.
func (m Method) NumericOnly() bool {
	switch m {
	case MethodAverage, MethodMedian, MethodSum, MethodMin, MethodMax, MethodVolumeWeighted, MethodAvgAge:
		return true
	case MethodMostFrequent, MethodFirst, MethodLast:
		return false
	default:
		return false
	}
}

// Rounding is the optional post-step applied to numeric results.
type Rounding uint8

const (
	RoundNone Rounding = iota
	RoundInt
)

func (r Rounding) String() string {
	if r == RoundInt {
		return "int"
	}
	return "none"
}

// ParseRounding accepts "", "none", "int", and "integer".
func ParseRounding(value string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return RoundNone, nil
	case "int", "integer":
		return RoundInt, nil
	default:
		return RoundNone, fmt.Errorf("unknown rounding %q", value)
	}
}
