package store

import (
	"time"

	"corkboard/internal/ordering"
)

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	// Role is the caller's membership role when listed for a user.
	Role string `json:"role,omitempty"`
}

type TeamMember struct {
	TeamID   string `json:"teamId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Role     string `json:"role"`
}

type Board struct {
	ID          string    `json:"id"`
	TeamID      string    `json:"teamId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Archived    bool      `json:"archived"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Column struct {
	ID        string       `json:"id"`
	BoardID   string       `json:"boardId"`
	Title     string       `json:"title"`
	Position  ordering.Key `json:"position"`
	WipLimit  *int         `json:"wipLimit"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Swimlane struct {
	ID        string       `json:"id"`
	BoardID   string       `json:"boardId"`
	Title     string       `json:"title"`
	Position  ordering.Key `json:"position"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Card struct {
	ID          string       `json:"id"`
	BoardID     string       `json:"boardId"`
	ColumnID    string       `json:"columnId"`
	SwimlaneID  *string      `json:"swimlaneId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Position    ordering.Key `json:"position"`
	Archived    bool         `json:"archived"`
	DueAt       *time.Time   `json:"dueAt"`
	CreatedBy   string       `json:"createdBy"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Label struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

type CardLabel struct {
	CardID  string `json:"cardId"`
	LabelID string `json:"labelId"`
}

type CardAssignee struct {
	CardID     string    `json:"cardId"`
	UserID     string    `json:"userId"`
	AssignedAt time.Time `json:"assignedAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	CardID     string    `json:"cardId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Attachment struct {
	ID          string    `json:"id"`
	CardID      string    `json:"cardId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	ObjectKey   string    `json:"-"`
	UploadedBy  string    `json:"uploadedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Share grants board access outside team membership. Link shares carry a
// token hash; user shares carry a user id. A nil BoardID covers every board
// of the team.
type Share struct {
	ID           string     `json:"id"`
	TeamID       string     `json:"teamId"`
	BoardID      *string    `json:"boardId"`
	TokenHash    string     `json:"-"`
	UserID       *string    `json:"userId"`
	Permission   string     `json:"permission"`
	PasswordHash string     `json:"-"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	CreatedBy    string     `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	RevokedAt    *time.Time `json:"revokedAt"`
}

// HasPassword reports whether the share link is password protected.
func (s Share) HasPassword() bool {
	return s.PasswordHash != ""
}

// Covers reports whether the share applies to a board of teamID.
func (s Share) Covers(boardID, teamID string) bool {
	if s.BoardID != nil {
		return *s.BoardID == boardID
	}
	return s.TeamID == teamID
}

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Kind      string     `json:"kind"`
	BoardID   string     `json:"boardId"`
	CardID    *string    `json:"cardId"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt"`
}

// ItemKind names an orderable entity and, by extension, its parent scope.
type ItemKind string

const (
	KindCard     ItemKind = "card"
	KindColumn   ItemKind = "column"
	KindSwimlane ItemKind = "swimlane"
)

// Positioned is the ordering view of an orderable item inside its scope.
type Positioned struct {
	ID       string
	Position ordering.Key
	Archived bool
}

// CardSearchRecord is a card row prepared for full-text indexing.
type CardSearchRecord struct {
	ID          string `json:"id"`
	BoardID     string `json:"boardId"`
	ColumnID    string `json:"columnId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Archived    bool   `json:"archived"`
}

func orderingKey(position string) ordering.Key {
	return ordering.Key(position)
}
