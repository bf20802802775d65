package collab

import (
	"errors"

	"gridwell/internal/domain"
)

// ConflictResolver decides which of a conflict's changes wins. The policy is
// pluggable: last-write-wins is a known-lossy default, and a deployment that
// needs stronger guarantees can swap in an operational-transform or
// CRDT-based merge without touching the engine.
type ConflictResolver interface {
	Resolve(conflict domain.EditConflict) (domain.ConflictResolution, error)
}

// LastWriteWins keeps the change with the greatest timestamp. Two changes
// with the same timestamp tie-break on the greater user id, then the greater
// change id, so any two resolvers given the same conflict set pick the same
// winner regardless of list order. The losing, earlier-timestamped edit is
// silently dropped; that is the documented cost of this policy.
type LastWriteWins struct{}

func (LastWriteWins) Resolve(conflict domain.EditConflict) (domain.ConflictResolution, error) {
	if len(conflict.ConflictingChanges) == 0 {
		return domain.ConflictResolution{}, errors.New("conflict has no changes")
	}
	winner := conflict.ConflictingChanges[0]
	for _, c := range conflict.ConflictingChanges[1:] {
		if beats(c, winner) {
			winner = c
		}
	}
	return domain.ConflictResolution{
		ConflictID:    conflict.ID,
		Resolution:    domain.ResolutionAcceptLocal,
		ResolvedValue: winner.NewValue,
	}, nil
}

func beats(a, b domain.GridChange) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	if a.UserID != b.UserID {
		return a.UserID > b.UserID
	}
	return a.ID > b.ID
}
