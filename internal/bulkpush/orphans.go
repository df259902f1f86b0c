package bulkpush

import (
	"context"
	"fmt"

	"github.com/matchops/local-sync/internal/entity"
	"github.com/matchops/local-sync/internal/localstore"
	"github.com/matchops/local-sync/internal/metrics"
)

// fkSpec names a foreign-key field a kind's payload may carry, and the
// parent kind that field references.
type fkSpec struct {
	field  string
	parent entity.Kind
}

// orphanChecks lists, per dependent kind, the FK fields that must resolve
// to a live parent or be nulled out. Kinds not listed here carry no FK
// fields the bulk pusher repairs.
var orphanChecks = map[entity.Kind][]fkSpec{
	entity.KindGame: {
		{field: "seasonId", parent: entity.KindSeason},
		{field: "tournamentId", parent: entity.KindTournament},
	},
	entity.KindTeam: {
		{field: "tournamentSeriesId", parent: entity.KindTournament},
	},
	entity.KindPlayerAdjustment: {
		{field: "teamId", parent: entity.KindTeam},
	},
}

// repairOrphans scans every dependent entity for dangling foreign-key
// references into a parent kind that no longer exists locally, clears the
// offending field to the empty string, persists the repaired entity, and records a
// human-readable warning for each repair. TeamRoster entries whose team
// has vanished are dropped from the push entirely (there is no "roster of
// nobody" to send) and are removed from the in-memory all map so pushKind
// never sees them.
func repairOrphans(ctx context.Context, local localstore.Store, all map[entity.Kind][]entity.Entity, metricsManager metrics.Manager) []string {
	var warnings []string

	liveIDs := make(map[entity.Kind]map[string]bool, len(all))
	for kind, entities := range all {
		ids := make(map[string]bool, len(entities))
		for _, e := range entities {
			ids[e.ID] = true
		}
		liveIDs[kind] = ids
	}

	for kind, checks := range orphanChecks {
		entities := all[kind]
		for i, e := range entities {
			m, ok := e.Payload.(map[string]interface{})
			if !ok {
				continue
			}
			changed := false
			for _, chk := range checks {
				raw, present := m[chk.field]
				if !present || raw == nil {
					continue
				}
				refID, ok := raw.(string)
				if !ok || refID == "" {
					continue
				}
				if !liveIDs[chk.parent][refID] {
					m[chk.field] = ""
					changed = true
					warnings = append(warnings, fmt.Sprintf(
						"%s %s: dropped dangling reference %s=%s (parent %s no longer exists)",
						kind, e.ID, chk.field, refID, chk.parent))
					if metricsManager != nil {
						metricsManager.RecordBulkPushOrphanRepair(string(kind))
					}
				}
			}
			if changed {
				e.Payload = m
				entities[i] = e
				if _, err := local.Update(ctx, kind, e); err != nil {
					warnings = append(warnings, fmt.Sprintf(
						"%s %s: failed to persist orphan repair: %v", kind, e.ID, err))
				}
			}
		}
		all[kind] = entities
	}

	// TeamRoster rows reference their owning team by ID (the roster's own
	// ID); if the team is gone, the roster has nothing to attach to.
	if rosters, ok := all[entity.KindTeamRoster]; ok {
		teams := liveIDs[entity.KindTeam]
		kept := rosters[:0]
		for _, r := range rosters {
			if teams[r.ID] {
				kept = append(kept, r)
				continue
			}
			warnings = append(warnings, fmt.Sprintf(
				"TeamRoster %s: skipped, owning team no longer exists", r.ID))
		}
		all[entity.KindTeamRoster] = kept
	}

	return warnings
}
