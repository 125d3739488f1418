// Package roadump loads ROA dump files named by the broker into prefix tables.
package roadump

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"roafetch/pkg/metrics"
	"roafetch/pkg/model"
	"roafetch/pkg/pfxtable"
)

// Importer fetches, parses and inserts ROA dumps
type Importer struct {
	fetcher *Fetcher
	cache   *Cache
	logger  zerolog.Logger
}

// NewImporter creates an importer. cache may be nil.
func NewImporter(fetcher *Fetcher, cache *Cache, logger zerolog.Logger) *Importer {
	return &Importer{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger.With().Str("component", "roadump").Logger(),
	}
}

// Load returns the records of the dump at url, from the cache when possible
func (im *Importer) Load(ctx context.Context, url string) ([]model.ROA, error) {
	if im.cache != nil {
		roas, ok, err := im.cache.Get(url)
		if err != nil {
			im.logger.Warn().Err(err).Str("url", url).Msg("dump cache read failed")
		} else if ok {
			metrics.DumpImports.WithLabelValues("cache").Inc()
			im.logger.Debug().Str("url", url).Int("records", len(roas)).Msg("dump cache hit")
			return roas, nil
		}
	}

	body, err := im.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	roas, err := Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}
	metrics.DumpImports.WithLabelValues("fetch").Inc()

	if im.cache != nil {
		if err := im.cache.Put(url, roas); err != nil {
			im.logger.Warn().Err(err).Str("url", url).Msg("failed to cache dump")
		}
	}
	return roas, nil
}

// ImportURL loads the dump at url into table and returns the number of records
func (im *Importer) ImportURL(ctx context.Context, url string, table *pfxtable.Table) (int, error) {
	roas, err := im.Load(ctx, url)
	if err != nil {
		return 0, err
	}

	for i, roa := range roas {
		if err := table.Add(roa); err != nil {
			return i, fmt.Errorf("%s: %w", url, &model.CorruptRecordError{Index: i + 1, Err: err})
		}
	}
	metrics.DumpRecords.Add(float64(len(roas)))
	im.logger.Debug().Str("url", url).Int("records", len(roas)).Msg("imported ROA dump")
	return len(roas), nil
}

// ImportSlots loads the comma-joined dump URLs of one archive slice. Slot i belongs
// to collectors[i]; a slot of at most one character has no dump and stays inactive.
// Every table is reset first. In unified mode all dumps go into tables[0].
// The returned flags mark which slots received a dump.
func (im *Importer) ImportSlots(ctx context.Context, urls string, collectors []string, tables []*pfxtable.Table, unified bool) ([]bool, error) {
	if len(tables) == 0 || (!unified && len(tables) < len(collectors)) {
		return nil, fmt.Errorf("%w: %d tables for %d collectors", model.ErrInvalidInput, len(tables), len(collectors))
	}
	for _, table := range tables {
		table.Reset()
	}

	active := make([]bool, len(collectors))
	for i, slot := range strings.Split(urls, ",") {
		slot = strings.TrimSpace(slot)
		if len(slot) <= 1 {
			continue
		}
		if i >= len(collectors) {
			return nil, fmt.Errorf("%w: unexpected dump %s beyond %d collectors", model.ErrOrderMismatch, slot, len(collectors))
		}
		if !strings.Contains(slot, collectors[i]) {
			return nil, fmt.Errorf("%w: %s is not a dump of %s", model.ErrOrderMismatch, slot, collectors[i])
		}

		target := tables[0]
		if !unified {
			target = tables[i]
		}
		if _, err := im.ImportURL(ctx, slot, target); err != nil {
			return nil, err
		}
		active[i] = true
	}
	return active, nil
}
