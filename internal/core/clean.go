package core

import (
	"context"
	"fmt"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// CleanResult contains the outcome of a consistency pass
type CleanResult struct {
	Checked       int
	Removed       int // records whose archive is gone
	StatesDropped int
}

// Clean drops catalog claims the filesystem no longer backs. A record whose
// archive is gone is removed entirely; a state whose file under
// <root>/<state>/ is gone is dropped from the record.
func (c *Catalog) Clean(ctx context.Context) (*CleanResult, error) {
	result := &CleanResult{}

	records, err := c.store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var revised []*models.ContentRecord
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Checked++

		if !resolvesToFile(c.ArchivePath(rec)) {
			c.logger.Warn("archive missing, removing catalog entry",
				"key", rec.Key().String(), "archive", rec.Archive)
			if err := c.store.Remove(rec); err != nil {
				return nil, fmt.Errorf("remove %s: %w", rec.Key(), err)
			}
			result.Removed++
			continue
		}

		home := rec.HomeState()
		changed := false
		for _, state := range rec.State.Values() {
			if state == home {
				continue
			}
			if resolvesToFile(c.statePath(rec, state)) {
				continue
			}
			c.logger.Warn("dropping dangling state",
				"key", rec.Key().String(), "state", state)
			rec.State.Remove(state)
			result.StatesDropped++
			changed = true
		}
		if changed {
			revised = append(revised, rec)
		}
	}

	if len(revised) > 0 {
		if err := c.store.Upsert(revised); err != nil {
			return nil, fmt.Errorf("update catalog: %w", err)
		}
	}

	c.logger.Info("catalog clean complete",
		"checked", result.Checked,
		"removed", result.Removed,
		"states_dropped", result.StatesDropped,
	)
	return result, nil
}
