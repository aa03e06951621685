package catalog

import "github.com/smarttrash/classifier/internal/domain"

// Resolve maps a class index to a caller-facing result. Confidence is left
// at zero for the caller to fill in. Indexes outside the catalog resolve to
// DefaultEntry; that is a degraded result, not an error.
func (c *Catalog) Resolve(index int) domain.Result {
	e, _ := c.Entry(index)
	return e.result()
}

// Lookup resolves by raw label instead of index.
func (c *Catalog) Lookup(rawLabel string) domain.Result {
	i, ok := c.byLabel[rawLabel]
	if !ok {
		return DefaultEntry.result()
	}
	return c.entries[i].result()
}

func (e Entry) result() domain.Result {
	return domain.Result{
		Material: e.DisplayName,
		Bin:      e.Bin,
		Tip:      e.Hint,
		Color:    e.Color,
	}
}
