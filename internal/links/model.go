package links

import "time"

// Link is the persisted short link. ShortCode is lowercase and immutable once created.
type Link struct {
	ID             int64
	ShortCode      string
	TargetURL      string
	Title          string
	Description    *string
	IsActive       bool
	OwnerID        int64
	CreatedAt      time.Time
	UpdatedAt      *time.Time
	LastAccessedAt *time.Time
	AccessCount    int64
}

// CreateSpec holds the fields accepted when creating a link.
// An empty ShortCode asks the manager to generate one.
type CreateSpec struct {
	ShortCode   string
	TargetURL   string
	Title       string
	Description *string
}

// UpdateSpec is a partial update: nil fields are left untouched. A non-nil
// empty Description clears the stored description.
type UpdateSpec struct {
	TargetURL   *string
	Title       *string
	Description *string
	IsActive    *bool
}

// SearchParams selects a page of links, optionally filtered by a
// case-insensitive substring of title, description or short code.
type SearchParams struct {
	Skip  int
	Limit int
	Term  string
}

// ListResult is one page of links plus the size of the full filtered set.
type ListResult struct {
	Links   []Link
	Total   int64
	Page    int
	PerPage int
}

// Stats summarizes how often a link has been resolved.
type Stats struct {
	ShortCode      string
	OwnerID        int64
	AccessCount    int64
	LastAccessedAt *time.Time
	CreatedAt      time.Time
}
