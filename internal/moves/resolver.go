// Package moves computes where an orderable item lands when it is created or
// moved inside a sibling list.
package moves

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"corkboard/internal/ordering"
	"corkboard/internal/store"
)

var (
	ErrAnchorNotFound   = errors.New("anchor not found")
	ErrWipLimitExceeded = errors.New("wip limit exceeded")
	ErrScopeNotFound    = errors.New("target scope not found")
)

// WipViolation describes a rejected entry into a WIP-limited column.
type WipViolation struct {
	ColumnID string `json:"columnId"`
	Limit    int    `json:"limit"`
	Count    int    `json:"count"`
}

func (v *WipViolation) Error() string {
	return fmt.Sprintf("%s: column %s holds %d of %d", ErrWipLimitExceeded, v.ColumnID, v.Count, v.Limit)
}

func (v *WipViolation) Unwrap() error { return ErrWipLimitExceeded }

// Reader is the slice of a store transaction the resolver needs.
type Reader interface {
	LockScope(ctx context.Context, kind store.ItemKind, scopeID string) error
	ListScope(ctx context.Context, kind store.ItemKind, scopeID string) ([]store.Positioned, error)
	GetColumn(ctx context.Context, columnID string) (store.Column, error)
}

// Request places ItemID into TargetScopeID right after AfterID. An empty
// AfterID means the head of the list. An empty SourceScopeID means the item is
// being created. Archived cards never count against WIP limits.
type Request struct {
	Kind          store.ItemKind
	ItemID        string
	SourceScopeID string
	TargetScopeID string
	AfterID       string
	Archived      bool
}

// Placement is the resolved slot. The caller persists it in the same transaction.
type Placement struct {
	ScopeID  string
	Position ordering.Key
}

// Resolve locks the target scope, re-reads its current order, and computes a
// position for the item. It never retries; every failure goes back to the caller.
func Resolve(ctx context.Context, r Reader, req Request) (Placement, error) {
	if err := r.LockScope(ctx, req.Kind, req.TargetScopeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Placement{}, fmt.Errorf("%w: %s %s", ErrScopeNotFound, req.Kind, req.TargetScopeID)
		}
		return Placement{}, err
	}

	siblings, err := r.ListScope(ctx, req.Kind, req.TargetScopeID)
	if err != nil {
		return Placement{}, err
	}
	siblings = without(siblings, req.ItemID)

	if err := checkWip(ctx, r, req, siblings); err != nil {
		return Placement{}, err
	}

	lower, upper, err := neighbors(siblings, req.AfterID)
	if err != nil {
		return Placement{}, err
	}
	position, err := ordering.KeyBetween(lower, upper)
	if err != nil {
		return Placement{}, err
	}
	return Placement{ScopeID: req.TargetScopeID, Position: position}, nil
}

func without(items []store.Positioned, itemID string) []store.Positioned {
	out := items[:0:0]
	for _, item := range items {
		if item.ID != itemID {
			out = append(out, item)
		}
	}
	return out
}

// neighbors returns the keys bounding the gap right after afterID.
func neighbors(siblings []store.Positioned, afterID string) (ordering.Key, ordering.Key, error) {
	if afterID == "" {
		if len(siblings) == 0 {
			return "", "", nil
		}
		return "", siblings[0].Position, nil
	}
	for i, item := range siblings {
		if item.ID != afterID {
			continue
		}
		if i+1 < len(siblings) {
			return item.Position, siblings[i+1].Position, nil
		}
		return item.Position, "", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrAnchorNotFound, afterID)
}

// checkWip applies only to non-archived cards entering a column: creation, or
// a move from another column. Reordering within a column never trips it.
func checkWip(ctx context.Context, r Reader, req Request, siblings []store.Positioned) error {
	if req.Kind != store.KindCard || req.Archived || req.SourceScopeID == req.TargetScopeID {
		return nil
	}
	return capacity(ctx, r, req.TargetScopeID, siblings)
}

// CheckCapacity reports whether one more active card fits in columnID, not
// counting itemID itself. Callers must already hold the column's scope lock.
func CheckCapacity(ctx context.Context, r Reader, columnID, itemID string) error {
	siblings, err := r.ListScope(ctx, store.KindCard, columnID)
	if err != nil {
		return err
	}
	return capacity(ctx, r, columnID, without(siblings, itemID))
}

func capacity(ctx context.Context, r Reader, columnID string, siblings []store.Positioned) error {
	column, err := r.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}
	if column.WipLimit == nil {
		return nil
	}
	active := 0
	for _, item := range siblings {
		if !item.Archived {
			active++
		}
	}
	if active+1 > *column.WipLimit {
		return &WipViolation{ColumnID: column.ID, Limit: *column.WipLimit, Count: active}
	}
	return nil
}
