package territory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/grid"
)

// Status is the state of a cell in the ownership table.
type Status string

const (
	// StatusUnclaimed marks a cell without an owner.
	StatusUnclaimed Status = "unclaimed"
	// StatusClaimed marks a cell held by exactly one owner.
	StatusClaimed Status = "claimed"
	// StatusContested is a display label only and is never stored.
	StatusContested Status = "contested"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("territory: invalid user id")
	// ErrInvalidCategoryID indicates that a category identifier is empty or exceeds storage bounds.
	ErrInvalidCategoryID = errors.New("territory: invalid category id")
	// ErrInvalidStatus indicates an unknown status filter value.
	ErrInvalidStatus = errors.New("territory: invalid status")
	// ErrRecordInvariant indicates a mutation that would leave a record in an impossible state.
	ErrRecordInvariant = errors.New("territory: record invariant violated")
)

// UserID represents a validated actor identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying identifier.
func (id UserID) String() string {
	return string(id)
}

// CategoryID represents a validated claim category tag.
type CategoryID string

// NewCategoryID validates raw input and returns a CategoryID.
func NewCategoryID(rawInput string) (CategoryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCategoryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCategoryID, maxIdentifierLength)
	}
	return CategoryID(trimmed), nil
}

// String returns the underlying identifier.
func (id CategoryID) String() string {
	return string(id)
}

// ParseStatus validates a status filter. Empty input yields an empty status, meaning any.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case "":
		return "", nil
	case StatusUnclaimed:
		return StatusUnclaimed, nil
	case StatusClaimed:
		return StatusClaimed, nil
	case StatusContested:
		return StatusContested, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// Record is one row of the ownership table.
type Record struct {
	CellID         grid.CellID `json:"cellId"`
	CategoryID     string      `json:"categoryId,omitempty"`
	Status         Status      `json:"status"`
	OwnerID        string      `json:"ownerId,omitempty"`
	ClaimedAt      time.Time   `json:"claimedAt,omitzero"`
	LastActivityAt time.Time   `json:"lastActivityAt,omitzero"`
	ActivityCount  int64       `json:"activityCount"`
	UpdatedAt      time.Time   `json:"updatedAt,omitzero"`
	Version        int64       `json:"version"`
}

// UnclaimedRecord is the implicit record of a cell that has never been written.
func UnclaimedRecord(cellID grid.CellID) Record {
	return Record{CellID: cellID, Status: StatusUnclaimed}
}

func (r Record) checkInvariants() error {
	switch r.Status {
	case StatusClaimed:
		if r.OwnerID == "" {
			return fmt.Errorf("%w: claimed without owner", ErrRecordInvariant)
		}
	case StatusUnclaimed:
		if r.OwnerID != "" {
			return fmt.Errorf("%w: unclaimed with owner %q", ErrRecordInvariant, r.OwnerID)
		}
		if r.ActivityCount != 0 {
			return fmt.Errorf("%w: unclaimed with activity count %d", ErrRecordInvariant, r.ActivityCount)
		}
	default:
		return fmt.Errorf("%w: status %q cannot be stored", ErrRecordInvariant, r.Status)
	}
	if r.ActivityCount < 0 {
		return fmt.Errorf("%w: negative activity count", ErrRecordInvariant)
	}
	return nil
}

// Near restricts a listing to cells whose center lies within RadiusMeters of Point.
type Near struct {
	Point        geo.Point
	RadiusMeters float64
}

// Filter selects records from the ownership table. Zero-valued fields match everything.
type Filter struct {
	CategoryID string
	Status     Status
	OwnerID    string
	Near       *Near
}

// Matches reports whether the record satisfies every populated field of the filter.
func (f Filter) Matches(record Record) bool {
	if f.CategoryID != "" && record.CategoryID != f.CategoryID {
		return false
	}
	if f.Status != "" && record.Status != f.Status {
		return false
	}
	if f.OwnerID != "" && record.OwnerID != f.OwnerID {
		return false
	}
	if f.Near != nil {
		cell, err := grid.Parse(record.CellID.String())
		if err != nil {
			return false
		}
		if !grid.WithinRadius(cell, f.Near.Point, f.Near.RadiusMeters) {
			return false
		}
	}
	return true
}

// Cover returns the lattice block a store may use to narrow a Near lookup.
func (f Filter) Cover() (grid.Range, bool) {
	if f.Near == nil {
		return grid.Range{}, false
	}
	return grid.CoverCircle(f.Near.Point, f.Near.RadiusMeters), true
}
