package store

import (
	"context"
	"time"
)

// Tx is the unit of persistence work. Every read and write runs against a Tx;
// writes that must commit together share one.
type Tx interface {
	EnsureUserByName(ctx context.Context, name string) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateTeam(ctx context.Context, team Team) error
	GetTeam(ctx context.Context, teamID string) (Team, error)
	ListTeamsForUser(ctx context.Context, userID string) ([]Team, error)
	UpsertTeamMember(ctx context.Context, member TeamMember) error
	GetTeamMember(ctx context.Context, teamID, userID string) (TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error)

	CreateBoard(ctx context.Context, board Board) error
	GetBoard(ctx context.Context, boardID string) (Board, error)
	ListBoards(ctx context.Context, teamID string) ([]Board, error)
	UpdateBoard(ctx context.Context, board Board) error
	DeleteBoard(ctx context.Context, boardID string) error

	// LockScope takes a transaction-scoped lock on the parent row of a sibling
	// list: the column for cards, the board for columns and swimlanes.
	LockScope(ctx context.Context, kind ItemKind, scopeID string) error
	// ListScope returns the items of a sibling list ordered by position.
	ListScope(ctx context.Context, kind ItemKind, scopeID string) ([]Positioned, error)

	CreateColumn(ctx context.Context, column Column) error
	GetColumn(ctx context.Context, columnID string) (Column, error)
	ListColumns(ctx context.Context, boardID string) ([]Column, error)
	UpdateColumn(ctx context.Context, column Column) error
	DeleteColumn(ctx context.Context, columnID string) error
	CountColumnCards(ctx context.Context, columnID string) (int, error)

	CreateSwimlane(ctx context.Context, lane Swimlane) error
	GetSwimlane(ctx context.Context, laneID string) (Swimlane, error)
	ListSwimlanes(ctx context.Context, boardID string) ([]Swimlane, error)
	UpdateSwimlane(ctx context.Context, lane Swimlane) error
	DeleteSwimlane(ctx context.Context, laneID string) error

	CreateCard(ctx context.Context, card Card) error
	GetCard(ctx context.Context, cardID string) (Card, error)
	ListCards(ctx context.Context, boardID string) ([]Card, error)
	UpdateCard(ctx context.Context, card Card) error
	DeleteCard(ctx context.Context, cardID string) error
	SearchCards(ctx context.Context, boardID, text string, limit int) ([]Card, error)
	ListCardSearchRecords(ctx context.Context) ([]CardSearchRecord, error)

	CreateLabel(ctx context.Context, label Label) error
	GetLabel(ctx context.Context, labelID string) (Label, error)
	ListLabels(ctx context.Context, boardID string) ([]Label, error)
	DeleteLabel(ctx context.Context, labelID string) error
	AddCardLabel(ctx context.Context, link CardLabel) error
	RemoveCardLabel(ctx context.Context, cardID, labelID string) error
	ListCardLabels(ctx context.Context, boardID string) ([]CardLabel, error)

	AddAssignee(ctx context.Context, assignee CardAssignee) error
	RemoveAssignee(ctx context.Context, cardID, userID string) error
	ListAssignees(ctx context.Context, boardID string) ([]CardAssignee, error)
	ListCardAssignees(ctx context.Context, cardID string) ([]CardAssignee, error)

	CreateComment(ctx context.Context, comment Comment) error
	GetComment(ctx context.Context, commentID string) (Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	ListComments(ctx context.Context, boardID string) ([]Comment, error)

	CreateAttachment(ctx context.Context, attachment Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (Attachment, error)
	ListAttachments(ctx context.Context, cardID string) ([]Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error

	CreateShare(ctx context.Context, share Share) error
	GetShare(ctx context.Context, shareID string) (Share, error)
	GetShareByTokenHash(ctx context.Context, tokenHash string) (Share, error)
	ListShares(ctx context.Context, teamID, boardID string) ([]Share, error)
	ListUserShares(ctx context.Context, userID string) ([]Share, error)
	RevokeShare(ctx context.Context, shareID string, at time.Time) error

	CreateNotification(ctx context.Context, notification Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error
}

// Store runs Tx work against a backend. Missing rows surface as sql.ErrNoRows.
type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
	// View runs read-only fn without opening a transaction.
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memState)(nil)
)
