package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"corkboard/internal/access"
	"corkboard/internal/attachments"
	"corkboard/internal/realtime"
	"corkboard/internal/store"
	"corkboard/internal/util"
)

const (
	NotificationAssigned = "assigned"
	NotificationComment  = "comment"
	NotificationShared   = "shared"
)

// labels

func (s *Service) CreateLabel(ctx context.Context, caller Caller, boardID, name, color string) (store.Label, error) {
	labelName, err := requireTitle(name, "name")
	if err != nil {
		return store.Label{}, err
	}
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.Label{}, err
	}
	label := store.Label{ID: util.NewID("lbl"), BoardID: boardID, Name: labelName, Color: strings.TrimSpace(color)}
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if err := tx.CreateLabel(ctx, label); err != nil {
			return nil, err
		}
		return realtime.LabelCreated{Label: label}, nil
	})
	if err != nil {
		return store.Label{}, err
	}
	return label, nil
}

func (s *Service) DeleteLabel(ctx context.Context, caller Caller, boardID, labelID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := labelOnBoard(ctx, tx, boardID, labelID); err != nil {
			return nil, err
		}
		if err := tx.DeleteLabel(ctx, labelID); err != nil {
			return nil, err
		}
		return realtime.LabelDeleted{BoardID: boardID, LabelID: labelID}, nil
	})
}

func labelOnBoard(ctx context.Context, tx store.Tx, boardID, labelID string) (store.Label, error) {
	label, err := tx.GetLabel(ctx, labelID)
	if err != nil {
		return store.Label{}, err
	}
	if label.BoardID != boardID {
		return store.Label{}, sql.ErrNoRows
	}
	return label, nil
}

func (s *Service) AddCardLabel(ctx context.Context, caller Caller, boardID, cardID, labelID string) (store.CardLabel, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return store.CardLabel{}, err
	}
	link := store.CardLabel{CardID: cardID, LabelID: labelID}
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		if _, err := labelOnBoard(ctx, tx, boardID, labelID); err != nil {
			return nil, err
		}
		if err := tx.AddCardLabel(ctx, link); err != nil {
			return nil, err
		}
		return realtime.CardLabelAdded{BoardID: boardID, CardID: cardID, LabelID: labelID}, nil
	})
	if err != nil {
		return store.CardLabel{}, err
	}
	return link, nil
}

func (s *Service) RemoveCardLabel(ctx context.Context, caller Caller, boardID, cardID, labelID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		if err := tx.RemoveCardLabel(ctx, cardID, labelID); err != nil {
			return nil, err
		}
		return realtime.CardLabelRemoved{BoardID: boardID, CardID: cardID, LabelID: labelID}, nil
	})
}

// comments

// AddComment posts a comment and notifies the card's assignees other than
// the author.
func (s *Service) AddComment(ctx context.Context, caller Caller, boardID, cardID, body string) (store.Comment, error) {
	text := strings.TrimSpace(body)
	if text == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	grant, err := s.authorize(ctx, caller, boardID, access.PermComment)
	if err != nil {
		return store.Comment{}, err
	}

	authorID, authorName := actorOf(grant)
	comment := store.Comment{
		ID:         util.NewID("cmt"),
		CardID:     cardID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       text,
		CreatedAt:  s.now(),
	}
	var notifications []store.Notification
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		card, err := cardOnBoard(ctx, tx, boardID, cardID)
		if err != nil {
			return nil, err
		}
		if err := tx.CreateComment(ctx, comment); err != nil {
			return nil, err
		}
		assignees, err := tx.ListCardAssignees(ctx, cardID)
		if err != nil {
			return nil, err
		}
		for _, assignee := range assignees {
			if assignee.UserID == authorID {
				continue
			}
			n, err := s.createNotification(ctx, tx, assignee.UserID, NotificationComment, boardID, &card.ID,
				fmt.Sprintf("%s commented on %q", authorName, card.Title))
			if err != nil {
				return nil, err
			}
			notifications = append(notifications, n)
		}
		return realtime.CommentAdded{BoardID: boardID, Comment: comment}, nil
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.notify(notifications)
	return comment, nil
}

// DeleteComment is allowed for the comment's author and for editors.
func (s *Service) DeleteComment(ctx context.Context, caller Caller, boardID, cardID, commentID string) error {
	grant, err := s.authorize(ctx, caller, boardID, access.PermComment)
	if err != nil {
		return err
	}
	actorID, _ := actorOf(grant)
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		comment, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return nil, err
		}
		if comment.CardID != cardID {
			return nil, sql.ErrNoRows
		}
		if comment.AuthorID != actorID && grant.Permission() < access.PermEdit {
			return nil, access.ErrForbidden
		}
		if err := tx.DeleteComment(ctx, commentID); err != nil {
			return nil, err
		}
		return realtime.CommentRemoved{BoardID: boardID, CardID: cardID, CommentID: commentID}, nil
	})
}

// assignees

// AddAssignee assigns a team member to a card and notifies them unless they
// assigned themselves.
func (s *Service) AddAssignee(ctx context.Context, caller Caller, boardID, cardID, userID string) (store.CardAssignee, error) {
	if strings.TrimSpace(userID) == "" {
		return store.CardAssignee{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	grant, err := s.authorize(ctx, caller, boardID, access.PermEdit)
	if err != nil {
		return store.CardAssignee{}, err
	}
	actorID, actorName := actorOf(grant)

	assignee := store.CardAssignee{CardID: cardID, UserID: userID, AssignedAt: s.now()}
	var notifications []store.Notification
	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		card, err := cardOnBoard(ctx, tx, boardID, cardID)
		if err != nil {
			return nil, err
		}
		if _, err := tx.GetTeamMember(ctx, grant.Team(), userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusUnprocessableEntity, "NOT_A_MEMBER", "Assignee must be a member of the board's team", nil)
			}
			return nil, err
		}
		if err := tx.AddAssignee(ctx, assignee); err != nil {
			return nil, err
		}
		if userID != actorID {
			n, err := s.createNotification(ctx, tx, userID, NotificationAssigned, boardID, &card.ID,
				fmt.Sprintf("%s assigned you to %q", actorName, card.Title))
			if err != nil {
				return nil, err
			}
			notifications = append(notifications, n)
		}
		return realtime.AssigneeAdded{BoardID: boardID, Assignee: assignee}, nil
	})
	if err != nil {
		return store.CardAssignee{}, err
	}
	s.notify(notifications)
	return assignee, nil
}

func (s *Service) RemoveAssignee(ctx context.Context, caller Caller, boardID, cardID, userID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	return s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		if err := tx.RemoveAssignee(ctx, cardID, userID); err != nil {
			return nil, err
		}
		return realtime.AssigneeRemoved{BoardID: boardID, CardID: cardID, UserID: userID}, nil
	})
}

// attachments

type AttachmentInput struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type AttachmentView struct {
	store.Attachment
	UploadURL   string `json:"uploadUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// AddAttachment records the attachment and returns a presigned URL the client
// uploads the file to directly.
func (s *Service) AddAttachment(ctx context.Context, caller Caller, boardID, cardID string, input AttachmentInput) (AttachmentView, error) {
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return AttachmentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fileName is required", nil)
	}
	if input.SizeBytes < 0 {
		return AttachmentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sizeBytes must not be negative", nil)
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	grant, err := s.authorize(ctx, caller, boardID, access.PermEdit)
	if err != nil {
		return AttachmentView{}, err
	}
	actorID, _ := actorOf(grant)

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		CardID:      cardID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   input.SizeBytes,
		UploadedBy:  actorID,
		CreatedAt:   s.now(),
	}
	attachment.ObjectKey = attachments.ObjectKey(boardID, cardID, attachment.ID, fileName)
	uploadURL, err := s.attachments.PresignUpload(ctx, attachment.ObjectKey, contentType)
	if err != nil {
		return AttachmentView{}, err
	}

	err = s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		if err := tx.CreateAttachment(ctx, attachment); err != nil {
			return nil, err
		}
		return realtime.AttachmentAdded{BoardID: boardID, Attachment: attachment}, nil
	})
	if err != nil {
		return AttachmentView{}, err
	}
	return AttachmentView{Attachment: attachment, UploadURL: uploadURL}, nil
}

// ListAttachments returns the card's attachments with presigned download URLs
// when object storage is configured.
func (s *Service) ListAttachments(ctx context.Context, caller Caller, boardID, cardID string) ([]AttachmentView, error) {
	if _, err := s.authorize(ctx, caller, boardID, access.PermRead); err != nil {
		return nil, err
	}
	var files []store.Attachment
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return err
		}
		var err error
		files, err = tx.ListAttachments(ctx, cardID)
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]AttachmentView, 0, len(files))
	for _, file := range files {
		view := AttachmentView{Attachment: file}
		downloadURL, err := s.attachments.PresignDownload(ctx, file.ObjectKey, file.FileName)
		switch {
		case err == nil:
			view.DownloadURL = downloadURL
		case errors.Is(err, attachments.ErrDisabled):
		default:
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, caller Caller, boardID, cardID, attachmentID string) error {
	if _, err := s.authorize(ctx, caller, boardID, access.PermEdit); err != nil {
		return err
	}
	var objectKey string
	err := s.mutate(ctx, caller, boardID, func(ctx context.Context, tx store.Tx) (realtime.Event, error) {
		if _, err := cardOnBoard(ctx, tx, boardID, cardID); err != nil {
			return nil, err
		}
		attachment, err := tx.GetAttachment(ctx, attachmentID)
		if err != nil {
			return nil, err
		}
		if attachment.CardID != cardID {
			return nil, sql.ErrNoRows
		}
		objectKey = attachment.ObjectKey
		if err := tx.DeleteAttachment(ctx, attachmentID); err != nil {
			return nil, err
		}
		return realtime.AttachmentRemoved{BoardID: boardID, CardID: cardID, AttachmentID: attachmentID}, nil
	})
	if err != nil {
		return err
	}
	s.removeObjects(context.WithoutCancel(ctx), objectKey)
	return nil
}

// removeObjects deletes stored files after their rows are gone. Failures
// leave orphaned objects behind and are only logged.
func (s *Service) removeObjects(ctx context.Context, objectKeys ...string) {
	for _, key := range objectKeys {
		if err := s.attachments.Remove(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("object_key", key).Msg("remove attachment object")
		}
	}
}
