package app

import (
	"net/http"
	"testing"
	"time"

	"corkboard/internal/store"
)

func TestBoardPermissionMatrix(t *testing.T) {
	h := newHarness(t)
	todo := h.createColumn("Todo", nil, h.admin)
	card := h.createCard(todo.ID, "A", "", h.admin)

	viewer := h.member("Vic", "viewer")
	commenter := h.member("Cora", "commenter")
	editor := h.member("Eve", "editor")
	outsider := h.outsider("Otto")

	cases := []struct {
		name       string
		session    Session
		read       int
		comment    int
		edit       int
		permission string
	}{
		{name: "viewer", session: viewer, read: http.StatusOK, comment: http.StatusForbidden, edit: http.StatusForbidden, permission: "read"},
		{name: "commenter", session: commenter, read: http.StatusOK, comment: http.StatusCreated, edit: http.StatusForbidden, permission: "comment"},
		{name: "editor", session: editor, read: http.StatusOK, comment: http.StatusCreated, edit: http.StatusCreated, permission: "edit"},
		{name: "admin", session: h.admin, read: http.StatusOK, comment: http.StatusCreated, edit: http.StatusCreated, permission: "edit"},
		{name: "outsider", session: outsider, read: http.StatusForbidden, comment: http.StatusForbidden, edit: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := h.do(http.MethodGet, h.boardPath(""), nil, bearer(tc.session))
			expectStatus(t, rr, tc.read)
			if tc.read == http.StatusOK {
				if got := decode[BoardSnapshot](t, rr).Permission; got != tc.permission {
					t.Fatalf("expected permission %s, got %s", tc.permission, got)
				}
			}

			rr = h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/comments"), map[string]any{"body": "hi from " + tc.name}, bearer(tc.session))
			expectStatus(t, rr, tc.comment)

			rr = h.do(http.MethodPost, h.boardPath("/cards"), map[string]any{"columnId": todo.ID, "title": "by " + tc.name}, bearer(tc.session))
			expectStatus(t, rr, tc.edit)
		})
	}
}

func TestOnlyAdminsManageTeamAndShares(t *testing.T) {
	h := newHarness(t)
	editor := h.member("Eve", "editor")

	rr := h.do(http.MethodPost, "/api/teams/"+h.teamID+"/members", map[string]any{"userName": "Zed", "role": "viewer"}, bearer(editor))
	expectError(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = h.do(http.MethodPost, h.boardPath("/shares"), map[string]any{"permission": "read"}, bearer(editor))
	expectError(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = h.do(http.MethodPost, "/api/teams/"+h.teamID+"/members", map[string]any{"userName": "Zed", "role": "owner"}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = h.do(http.MethodPost, "/api/teams/"+h.teamID+"/members", map[string]any{"userName": "Zed", "role": "viewer"}, bearer(h.admin))
	expectStatus(t, rr, http.StatusOK)

	rr = h.do(http.MethodGet, "/api/teams/"+h.teamID+"/members", nil, bearer(editor))
	expectStatus(t, rr, http.StatusOK)
	members := decode[map[string][]store.TeamMember](t, rr)["members"]
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %+v", members)
	}
}

func TestTeamsListOnlyMemberships(t *testing.T) {
	h := newHarness(t)
	outsider := h.outsider("Otto")

	rr := h.do(http.MethodGet, "/api/teams", nil, bearer(outsider))
	expectStatus(t, rr, http.StatusOK)
	if teams := decode[map[string][]store.Team](t, rr)["teams"]; len(teams) != 0 {
		t.Fatalf("expected no teams, got %+v", teams)
	}
	expectError(t, h.do(http.MethodGet, "/api/teams/"+h.teamID+"/boards", nil, bearer(outsider)), http.StatusForbidden, "FORBIDDEN")

	rr = h.do(http.MethodGet, "/api/teams", nil, bearer(h.admin))
	teams := decode[map[string][]store.Team](t, rr)["teams"]
	if len(teams) != 1 || teams[0].Role != "admin" {
		t.Fatalf("expected admin membership, got %+v", teams)
	}
}

func (h *harness) createShare(body map[string]any) ShareView {
	h.t.Helper()
	rr := h.do(http.MethodPost, h.boardPath("/shares"), body, bearer(h.admin))
	expectStatus(h.t, rr, http.StatusCreated)
	return decode[ShareView](h.t, rr)
}

func TestReadOnlyShareLink(t *testing.T) {
	h := newHarness(t)
	todo := h.createColumn("Todo", nil, h.admin)
	share := h.createShare(map[string]any{"permission": "read"})
	if share.Token == "" || share.URL != "/share/"+share.Token {
		t.Fatalf("expected link token and url, got %+v", share)
	}

	rr := h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": share.Token})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[BoardSnapshot](t, rr).Permission; got != "read" {
		t.Fatalf("expected read permission, got %s", got)
	}

	rr = h.do(http.MethodGet, h.boardPath("?share="+share.Token), nil, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = h.do(http.MethodPost, h.boardPath("/cards"), map[string]any{"columnId": todo.ID, "title": "nope"}, header{"X-Share-Token": share.Token})
	expectError(t, rr, http.StatusForbidden, "FORBIDDEN")

	rr = h.do(http.MethodGet, "/share/"+share.Token, nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[BoardSnapshot](t, rr).Board.ID; got != h.boardID {
		t.Fatalf("expected board %s, got %s", h.boardID, got)
	}

	rr = h.do(http.MethodGet, h.boardPath("/shares"), nil, bearer(h.admin))
	expectStatus(t, rr, http.StatusOK)
	shares := decode[map[string][]ShareView](t, rr)["shares"]
	if len(shares) != 1 || shares[0].Token != "" {
		t.Fatalf("expected one share without clear token, got %+v", shares)
	}
}

func TestCommentShareAuthorsAsGuest(t *testing.T) {
	h := newHarness(t)
	todo := h.createColumn("Todo", nil, h.admin)
	card := h.createCard(todo.ID, "A", "", h.admin)
	share := h.createShare(map[string]any{"permission": "comment"})

	rr := h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/comments"), map[string]any{"body": "nice"}, header{"X-Share-Token": share.Token})
	expectStatus(t, rr, http.StatusCreated)
	comment := decode[store.Comment](t, rr)
	if comment.AuthorName != "Guest" || comment.AuthorID != "share:"+share.ID {
		t.Fatalf("unexpected guest author %+v", comment)
	}
}

func TestPasswordProtectedShare(t *testing.T) {
	h := newHarness(t)
	share := h.createShare(map[string]any{"permission": "read", "password": "hunter2"})
	if !share.HasPassword {
		t.Fatalf("expected hasPassword")
	}

	expectError(t, h.do(http.MethodGet, "/share/"+share.Token, nil, nil), http.StatusUnauthorized, "UNAUTHORIZED")
	expectError(t, h.do(http.MethodGet, "/share/"+share.Token, nil, header{"X-Share-Password": "wrong"}), http.StatusUnauthorized, "UNAUTHORIZED")
	expectStatus(t, h.do(http.MethodGet, "/share/"+share.Token, nil, header{"X-Share-Password": "hunter2"}), http.StatusOK)
}

func TestExpiredShareIsDistinctFromUnknownToken(t *testing.T) {
	h := newHarness(t)
	share := h.createShare(map[string]any{"permission": "read", "expiresAt": h.clock.Now().Add(time.Hour)})

	expectStatus(t, h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": share.Token}), http.StatusOK)

	h.clock.Advance(2 * time.Hour)
	expectError(t, h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": share.Token}), http.StatusForbidden, "SHARE_EXPIRED")
	expectError(t, h.do(http.MethodGet, "/share/"+share.Token, nil, nil), http.StatusForbidden, "SHARE_EXPIRED")
	expectError(t, h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": "not-a-share"}), http.StatusUnauthorized, "UNAUTHORIZED")
	expectError(t, h.do(http.MethodGet, "/share/not-a-share", nil, nil), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestShareValidation(t *testing.T) {
	h := newHarness(t)
	outsider := h.outsider("Otto")

	rr := h.do(http.MethodPost, h.boardPath("/shares"), map[string]any{"permission": "owner"}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = h.do(http.MethodPost, h.boardPath("/shares"), map[string]any{"permission": "read", "expiresAt": h.clock.Now().Add(-time.Minute)}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = h.do(http.MethodPost, h.boardPath("/shares"), map[string]any{"permission": "read", "userId": outsider.UserID, "password": "x"}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = h.do(http.MethodPost, h.boardPath("/shares"), map[string]any{"permission": "read", "userId": "usr_missing"}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestRevokedShareStopsWorking(t *testing.T) {
	h := newHarness(t)
	share := h.createShare(map[string]any{"permission": "edit"})
	expectStatus(t, h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": share.Token}), http.StatusOK)

	expectStatus(t, h.do(http.MethodDelete, h.boardPath("/shares/"+share.ID), nil, bearer(h.admin)), http.StatusOK)
	expectError(t, h.do(http.MethodGet, h.boardPath(""), nil, header{"X-Share-Token": share.Token}), http.StatusUnauthorized, "UNAUTHORIZED")
	expectError(t, h.do(http.MethodDelete, h.boardPath("/shares/"+share.ID), nil, bearer(h.admin)), http.StatusNotFound, "NOT_FOUND")

	rr := h.do(http.MethodGet, h.boardPath("/shares"), nil, bearer(h.admin))
	if shares := decode[map[string][]ShareView](t, rr)["shares"]; len(shares) != 0 {
		t.Fatalf("expected revoked share hidden, got %+v", shares)
	}
}

func TestTeamWideShareNeedsBoard(t *testing.T) {
	h := newHarness(t)
	share := h.createShare(map[string]any{"permission": "read", "teamWide": true})
	if share.BoardID != nil {
		t.Fatalf("expected team-wide share, got board %s", *share.BoardID)
	}

	expectError(t, h.do(http.MethodGet, "/share/"+share.Token, nil, nil), http.StatusUnprocessableEntity, "BOARD_REQUIRED")
	expectStatus(t, h.do(http.MethodGet, "/share/"+share.Token+"?board="+h.boardID, nil, nil), http.StatusOK)

	rr := h.do(http.MethodPost, "/api/teams/"+h.teamID+"/boards", map[string]any{"title": "Second"}, bearer(h.admin))
	expectStatus(t, rr, http.StatusCreated)
	second := decode[store.Board](t, rr)
	expectStatus(t, h.do(http.MethodGet, "/api/boards/"+second.ID, nil, header{"X-Share-Token": share.Token}), http.StatusOK)
}

func TestUserShareGrantsAccessAndNotifies(t *testing.T) {
	h := newHarness(t)
	guest := h.outsider("Gus")
	expectError(t, h.do(http.MethodGet, h.boardPath(""), nil, bearer(guest)), http.StatusForbidden, "FORBIDDEN")

	h.createShare(map[string]any{"permission": "comment", "userId": guest.UserID})

	rr := h.do(http.MethodGet, h.boardPath(""), nil, bearer(guest))
	expectStatus(t, rr, http.StatusOK)
	if got := decode[BoardSnapshot](t, rr).Permission; got != "comment" {
		t.Fatalf("expected comment permission, got %s", got)
	}

	rr = h.do(http.MethodGet, "/api/notifications", nil, bearer(guest))
	expectStatus(t, rr, http.StatusOK)
	items := decode[map[string][]store.Notification](t, rr)["notifications"]
	if len(items) != 1 || items[0].Kind != NotificationShared || items[0].BoardID != h.boardID {
		t.Fatalf("expected a shared notification, got %+v", items)
	}
}

func TestAssignmentNotifications(t *testing.T) {
	h := newHarness(t)
	todo := h.createColumn("Todo", nil, h.admin)
	card := h.createCard(todo.ID, "Ship it", "", h.admin)
	eve := h.member("Eve", "editor")
	outsider := h.outsider("Otto")

	rr := h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/assignees"), map[string]any{"userId": outsider.UserID}, bearer(h.admin))
	expectError(t, rr, http.StatusUnprocessableEntity, "NOT_A_MEMBER")

	rr = h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/assignees"), map[string]any{"userId": eve.UserID}, bearer(h.admin))
	expectStatus(t, rr, http.StatusCreated)

	rr = h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/comments"), map[string]any{"body": "status?"}, bearer(h.admin))
	expectStatus(t, rr, http.StatusCreated)

	rr = h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/comments"), map[string]any{"body": "done"}, bearer(eve))
	expectStatus(t, rr, http.StatusCreated)

	rr = h.do(http.MethodGet, "/api/notifications", nil, bearer(eve))
	expectStatus(t, rr, http.StatusOK)
	items := decode[map[string][]store.Notification](t, rr)["notifications"]
	if len(items) != 2 {
		t.Fatalf("expected assignment and comment notifications, got %+v", items)
	}
	kinds := map[string]bool{}
	for _, item := range items {
		kinds[item.Kind] = true
		if item.CardID == nil || *item.CardID != card.ID {
			t.Fatalf("expected notification for card %s, got %+v", card.ID, item)
		}
	}
	if !kinds[NotificationAssigned] || !kinds[NotificationComment] {
		t.Fatalf("unexpected kinds %v", kinds)
	}

	rr = h.do(http.MethodPost, "/api/notifications/"+items[0].ID+"/read", nil, bearer(h.admin))
	expectError(t, rr, http.StatusNotFound, "NOT_FOUND")
	rr = h.do(http.MethodPost, "/api/notifications/"+items[0].ID+"/read", nil, bearer(eve))
	expectStatus(t, rr, http.StatusOK)

	rr = h.do(http.MethodGet, "/api/notifications", nil, bearer(h.admin))
	if adminItems := decode[map[string][]store.Notification](t, rr)["notifications"]; len(adminItems) != 0 {
		t.Fatalf("expected admin to get nothing for own actions, got %+v", adminItems)
	}
}

func TestDeleteCommentByAuthorOrEditor(t *testing.T) {
	h := newHarness(t)
	todo := h.createColumn("Todo", nil, h.admin)
	card := h.createCard(todo.ID, "A", "", h.admin)
	cora := h.member("Cora", "commenter")
	vic := h.member("Vic", "commenter")

	rr := h.do(http.MethodPost, h.boardPath("/cards/"+card.ID+"/comments"), map[string]any{"body": "mine"}, bearer(cora))
	expectStatus(t, rr, http.StatusCreated)
	comment := decode[store.Comment](t, rr)

	path := h.boardPath("/cards/" + card.ID + "/comments/" + comment.ID)
	expectError(t, h.do(http.MethodDelete, path, nil, bearer(vic)), http.StatusForbidden, "FORBIDDEN")
	expectStatus(t, h.do(http.MethodDelete, path, nil, bearer(cora)), http.StatusOK)
}
