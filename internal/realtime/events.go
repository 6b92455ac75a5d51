package realtime

import "corkboard/internal/store"

// Event is the closed set of messages pushed to clients. Each variant carries
// its own typed payload plus the scope ids a client needs to patch local state.
type Event interface {
	Name() string
	isEvent()
}

type BoardUpdated struct {
	Board store.Board `json:"board"`
}

type BoardDeleted struct {
	BoardID string `json:"boardId"`
}

type ColumnCreated struct {
	Column store.Column `json:"column"`
}

type ColumnUpdated struct {
	Column store.Column `json:"column"`
}

type ColumnMoved struct {
	Column store.Column `json:"column"`
}

type ColumnDeleted struct {
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
}

type SwimlaneCreated struct {
	Swimlane store.Swimlane `json:"swimlane"`
}

type SwimlaneUpdated struct {
	Swimlane store.Swimlane `json:"swimlane"`
}

type SwimlaneMoved struct {
	Swimlane store.Swimlane `json:"swimlane"`
}

type SwimlaneDeleted struct {
	BoardID    string `json:"boardId"`
	SwimlaneID string `json:"swimlaneId"`
}

type CardCreated struct {
	Card store.Card `json:"card"`
}

type CardUpdated struct {
	Card store.Card `json:"card"`
}

// CardMoved carries the source column so clients can remove the card there.
type CardMoved struct {
	Card         store.Card `json:"card"`
	FromColumnID string     `json:"fromColumnId"`
}

type CardDeleted struct {
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	CardID   string `json:"cardId"`
}

type CommentAdded struct {
	BoardID string        `json:"boardId"`
	Comment store.Comment `json:"comment"`
}

type CommentRemoved struct {
	BoardID   string `json:"boardId"`
	CardID    string `json:"cardId"`
	CommentID string `json:"commentId"`
}

type AssigneeAdded struct {
	BoardID  string             `json:"boardId"`
	Assignee store.CardAssignee `json:"assignee"`
}

type AssigneeRemoved struct {
	BoardID string `json:"boardId"`
	CardID  string `json:"cardId"`
	UserID  string `json:"userId"`
}

type LabelCreated struct {
	Label store.Label `json:"label"`
}

type LabelDeleted struct {
	BoardID string `json:"boardId"`
	LabelID string `json:"labelId"`
}

type CardLabelAdded struct {
	BoardID string `json:"boardId"`
	CardID  string `json:"cardId"`
	LabelID string `json:"labelId"`
}

type CardLabelRemoved struct {
	BoardID string `json:"boardId"`
	CardID  string `json:"cardId"`
	LabelID string `json:"labelId"`
}

type AttachmentAdded struct {
	BoardID    string           `json:"boardId"`
	Attachment store.Attachment `json:"attachment"`
}

type AttachmentRemoved struct {
	BoardID      string `json:"boardId"`
	CardID       string `json:"cardId"`
	AttachmentID string `json:"attachmentId"`
}

type ShareRevoked struct {
	BoardID string `json:"boardId"`
	ShareID string `json:"shareId"`
}

// NotificationCreated goes to a user channel, never to a board room.
type NotificationCreated struct {
	Notification store.Notification `json:"notification"`
}

// RoomLeft tells a connection it is no longer a member of a board room.
type RoomLeft struct {
	BoardID string `json:"boardId"`
	Reason  string `json:"reason"`
}

const (
	LeaveRequested    = "requested"
	LeaveShareExpired = "share_expired"
	LeaveShareRevoked = "share_revoked"
	LeaveBoardDeleted = "board_deleted"
)

func (BoardUpdated) Name() string        { return "board.updated" }
func (BoardDeleted) Name() string        { return "board.deleted" }
func (ColumnCreated) Name() string       { return "column.created" }
func (ColumnUpdated) Name() string       { return "column.updated" }
func (ColumnMoved) Name() string         { return "column.moved" }
func (ColumnDeleted) Name() string       { return "column.deleted" }
func (SwimlaneCreated) Name() string     { return "swimlane.created" }
func (SwimlaneUpdated) Name() string     { return "swimlane.updated" }
func (SwimlaneMoved) Name() string       { return "swimlane.moved" }
func (SwimlaneDeleted) Name() string     { return "swimlane.deleted" }
func (CardCreated) Name() string         { return "card.created" }
func (CardUpdated) Name() string         { return "card.updated" }
func (CardMoved) Name() string           { return "card.moved" }
func (CardDeleted) Name() string         { return "card.deleted" }
func (CommentAdded) Name() string        { return "comment.added" }
func (CommentRemoved) Name() string      { return "comment.removed" }
func (AssigneeAdded) Name() string       { return "assignee.added" }
func (AssigneeRemoved) Name() string     { return "assignee.removed" }
func (LabelCreated) Name() string        { return "label.created" }
func (LabelDeleted) Name() string        { return "label.deleted" }
func (CardLabelAdded) Name() string      { return "card_label.added" }
func (CardLabelRemoved) Name() string    { return "card_label.removed" }
func (AttachmentAdded) Name() string     { return "attachment.added" }
func (AttachmentRemoved) Name() string   { return "attachment.removed" }
func (ShareRevoked) Name() string        { return "share.revoked" }
func (NotificationCreated) Name() string { return "notification.created" }
func (RoomLeft) Name() string            { return "room.left" }

func (BoardUpdated) isEvent()        {}
func (BoardDeleted) isEvent()        {}
func (ColumnCreated) isEvent()       {}
func (ColumnUpdated) isEvent()       {}
func (ColumnMoved) isEvent()         {}
func (ColumnDeleted) isEvent()       {}
func (SwimlaneCreated) isEvent()     {}
func (SwimlaneUpdated) isEvent()     {}
func (SwimlaneMoved) isEvent()       {}
func (SwimlaneDeleted) isEvent()     {}
func (CardCreated) isEvent()         {}
func (CardUpdated) isEvent()         {}
func (CardMoved) isEvent()           {}
func (CardDeleted) isEvent()         {}
func (CommentAdded) isEvent()        {}
func (CommentRemoved) isEvent()      {}
func (AssigneeAdded) isEvent()       {}
func (AssigneeRemoved) isEvent()     {}
func (LabelCreated) isEvent()        {}
func (LabelDeleted) isEvent()        {}
func (CardLabelAdded) isEvent()      {}
func (CardLabelRemoved) isEvent()    {}
func (AttachmentAdded) isEvent()     {}
func (AttachmentRemoved) isEvent()   {}
func (ShareRevoked) isEvent()        {}
func (NotificationCreated) isEvent() {}
func (RoomLeft) isEvent()            {}
