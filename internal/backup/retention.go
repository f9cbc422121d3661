package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
	"github.com/sqlkeep/sqlkeep/internal/logger"
	"github.com/sqlkeep/sqlkeep/internal/storage"
)

// EnforceRetention prunes the artifacts under one key down to the keep
// newest, ordered by the timestamp embedded in each name (ties broken by
// descending name, so the artifact just written always sorts first). It
// returns the deleted set. A failed delete is recorded and enforcement
// continues; the stragglers are retried on the next run.
//
// keep == 0 deletes every artifact under the key, including the one from the
// current run. That is a deliberate configuration outcome, not a defect.
func EnforceRetention(ctx context.Context, backend storage.Backend, key string, keep int, log *logger.Logger) ([]storage.ObjectInfo, error) {
	if keep < 0 {
		return nil, apperrors.New(apperrors.TypeConfig, fmt.Sprintf("retention count must be non-negative, got %d", keep), "")
	}

	objects, err := backend.List(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(objects) <= keep {
		return nil, nil
	}

	// Newest first.
	sort.Slice(objects, func(i, j int) bool {
		ti, _ := ArtifactTimestamp(objects[i].Name)
		tj, _ := ArtifactTimestamp(objects[j].Name)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return objects[i].Name > objects[j].Name
	})

	var deleted []storage.ObjectInfo
	var deleteErrs []error
	for _, obj := range objects[keep:] {
		if log != nil {
			log.Info("Pruning old backup", "key", key, "file", obj.Name)
		}
		if err := backend.Delete(ctx, key, obj.Name); err != nil {
			if log != nil {
				log.Warn("Failed to prune backup", "key", key, "file", obj.Name, "error", err)
			}
			deleteErrs = append(deleteErrs, fmt.Errorf("%s: %w", obj.Name, err))
			continue
		}
		deleted = append(deleted, obj)
	}

	if len(deleteErrs) > 0 {
		return deleted, apperrors.Wrap(errors.Join(deleteErrs...), apperrors.TypeRetention,
			fmt.Sprintf("failed to prune %d of %d artifacts under %s", len(deleteErrs), len(objects)-keep, key),
			"The remaining artifacts will be retried on the next run.")
	}
	return deleted, nil
}
