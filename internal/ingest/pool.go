package ingest

import (
	"context"
	"strings"

	"pyxis/internal/field"
	"pyxis/internal/registry"
)

// allCountries keys the unfiltered bucket.
const allCountries = ""

// candidatePool caches match candidates per country for one batch. Buckets
// are loaded from the batch transaction on first use and extended with the
// identities the batch creates, so later rows can match earlier ones.
type candidatePool struct {
	tx        *registry.Tx
	prefilter bool
	buckets   map[string][]field.Identity
}

func newCandidatePool(tx *registry.Tx, prefilter bool) *candidatePool {
	return &candidatePool{tx: tx, prefilter: prefilter, buckets: map[string][]field.Identity{}}
}

func (p *candidatePool) key(country string) string {
	if !p.prefilter {
		return allCountries
	}
	return strings.TrimSpace(country)
}

// For returns the candidates for an observation from country.
func (p *candidatePool) For(ctx context.Context, country string) ([]field.Identity, error) {
	key := p.key(country)
	if bucket, ok := p.buckets[key]; ok {
		return bucket, nil
	}
	loaded, err := p.tx.Candidates(ctx, key)
	if err != nil {
		return nil, err
	}
	p.buckets[key] = loaded
	return loaded, nil
}

// Add records an identity created during the batch in every loaded bucket it
// belongs to.
func (p *candidatePool) Add(identity field.Identity) {
	if bucket, ok := p.buckets[allCountries]; ok {
		p.buckets[allCountries] = append(bucket, identity)
	}
	key := p.key(identity.Country)
	if key == allCountries {
		return
	}
	if bucket, ok := p.buckets[key]; ok {
		p.buckets[key] = append(bucket, identity)
	}
}
