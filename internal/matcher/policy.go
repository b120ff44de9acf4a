package matcher

// Policy centralizes identity matching weights and thresholds.
type Policy struct {
	NameWeight       float64
	GeoWeight        float64
	Threshold        float64
	MaxGridDistance  int
	DecayFactor      float64
	FarPenalty       float64
	CountryPrefilter bool
}

// DefaultPolicy returns the weights used for cross-source field deduplication.
func DefaultPolicy() Policy {
	return Policy{
		NameWeight:       0.7,
		GeoWeight:        0.3,
		Threshold:        60,
		MaxGridDistance:  50,
		DecayFactor:      0.1,
		FarPenalty:       -40,
		CountryPrefilter: true,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()

	if p.NameWeight <= 0 && p.GeoWeight <= 0 {
		p.NameWeight = d.NameWeight
		p.GeoWeight = d.GeoWeight
	}
	if p.NameWeight < 0 {
		p.NameWeight = d.NameWeight
	}
	if p.GeoWeight < 0 {
		p.GeoWeight = d.GeoWeight
	}
	if p.Threshold <= 0 || p.Threshold > 100 {
		p.Threshold = d.Threshold
	}
	if p.MaxGridDistance <= 0 {
		p.MaxGridDistance = d.MaxGridDistance
	}
	if p.DecayFactor <= 0 {
		p.DecayFactor = d.DecayFactor
	}
	switch {
	case p.FarPenalty == 0:
		p.FarPenalty = d.FarPenalty
	case p.FarPenalty > 0:
		p.FarPenalty = -p.FarPenalty
	}
	return p
}
