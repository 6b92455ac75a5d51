package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"corkboard/internal/util"
)

// ErrConflict reports a uniqueness or reference violation in the memory store.
var ErrConflict = errors.New("store conflict")

// MemoryStore keeps everything in process memory. Transactions are fully
// serialized and roll back by restoring a snapshot.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.state); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

type memRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memberKey struct{ teamID, userID string }

type assigneeKey struct{ cardID, userID string }

type memState struct {
	users         map[string]User
	userNames     map[string]string
	refresh       map[string]memRefresh
	revokedTokens map[string]time.Time
	teams         map[string]Team
	members       map[memberKey]TeamMember
	boards        map[string]Board
	columns       map[string]Column
	swimlanes     map[string]Swimlane
	cards         map[string]Card
	labels        map[string]Label
	cardLabels    map[CardLabel]struct{}
	assignees     map[assigneeKey]CardAssignee
	comments      map[string]Comment
	attachments   map[string]Attachment
	shares        map[string]Share
	notifications map[string]Notification
}

func newMemState() *memState {
	return &memState{
		users:         map[string]User{},
		userNames:     map[string]string{},
		refresh:       map[string]memRefresh{},
		revokedTokens: map[string]time.Time{},
		teams:         map[string]Team{},
		members:       map[memberKey]TeamMember{},
		boards:        map[string]Board{},
		columns:       map[string]Column{},
		swimlanes:     map[string]Swimlane{},
		cards:         map[string]Card{},
		labels:        map[string]Label{},
		cardLabels:    map[CardLabel]struct{}{},
		assignees:     map[assigneeKey]CardAssignee{},
		comments:      map[string]Comment{},
		attachments:   map[string]Attachment{},
		shares:        map[string]Share{},
		notifications: map[string]Notification{},
	}
}

func (m *memState) clone() *memState {
	return &memState{
		users:         maps.Clone(m.users),
		userNames:     maps.Clone(m.userNames),
		refresh:       maps.Clone(m.refresh),
		revokedTokens: maps.Clone(m.revokedTokens),
		teams:         maps.Clone(m.teams),
		members:       maps.Clone(m.members),
		boards:        maps.Clone(m.boards),
		columns:       maps.Clone(m.columns),
		swimlanes:     maps.Clone(m.swimlanes),
		cards:         maps.Clone(m.cards),
		labels:        maps.Clone(m.labels),
		cardLabels:    maps.Clone(m.cardLabels),
		assignees:     maps.Clone(m.assignees),
		comments:      maps.Clone(m.comments),
		attachments:   maps.Clone(m.attachments),
		shares:        maps.Clone(m.shares),
		notifications: maps.Clone(m.notifications),
	}
}

func lookup[K comparable, V any](items map[K]V, key K) (V, error) {
	item, ok := items[key]
	if !ok {
		var zero V
		return zero, sql.ErrNoRows
	}
	return item, nil
}

func sortedValues[K comparable, V any](items map[K]V, keep func(V) bool, less func(a, b V) int) []V {
	out := make([]V, 0)
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, less)
	return out
}

// users and sessions

func (m *memState) EnsureUserByName(_ context.Context, name string) (User, error) {
	if id, ok := m.userNames[name]; ok {
		return m.users[id], nil
	}
	user := User{ID: util.NewID("usr"), DisplayName: name, CreatedAt: time.Now().UTC()}
	m.users[user.ID] = user
	m.userNames[name] = user.ID
	return user, nil
}

func (m *memState) GetUser(_ context.Context, userID string) (User, error) {
	return lookup(m.users, userID)
}

func (m *memState) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.refresh[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memState) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	session, ok := m.refresh[tokenHash]
	if !ok || session.revoked || !time.Now().Before(session.expiresAt) {
		return User{}, sql.ErrNoRows
	}
	return lookup(m.users, session.userID)
}

func (m *memState) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	if session, ok := m.refresh[tokenHash]; ok {
		session.revoked = true
		m.refresh[tokenHash] = session
	}
	return nil
}

func (m *memState) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.revokedTokens[jti] = expiresAt
	return nil
}

func (m *memState) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	expiresAt, ok := m.revokedTokens[jti]
	return ok && time.Now().Before(expiresAt), nil
}

// teams

func (m *memState) CreateTeam(_ context.Context, team Team) error {
	if _, exists := m.teams[team.ID]; exists {
		return fmt.Errorf("insert team: %w", ErrConflict)
	}
	team.Role = ""
	m.teams[team.ID] = team
	return nil
}

func (m *memState) GetTeam(_ context.Context, teamID string) (Team, error) {
	return lookup(m.teams, teamID)
}

func (m *memState) ListTeamsForUser(_ context.Context, userID string) ([]Team, error) {
	teams := make([]Team, 0)
	for key, member := range m.members {
		if key.userID != userID {
			continue
		}
		team := m.teams[key.teamID]
		team.Role = member.Role
		teams = append(teams, team)
	}
	slices.SortFunc(teams, func(a, b Team) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID, b.ID))
	})
	return teams, nil
}

func (m *memState) UpsertTeamMember(_ context.Context, member TeamMember) error {
	if _, ok := m.teams[member.TeamID]; !ok {
		return fmt.Errorf("upsert team member: %w", ErrConflict)
	}
	if _, ok := m.users[member.UserID]; !ok {
		return fmt.Errorf("upsert team member: %w", ErrConflict)
	}
	member.UserName = ""
	m.members[memberKey{member.TeamID, member.UserID}] = member
	return nil
}

func (m *memState) GetTeamMember(_ context.Context, teamID, userID string) (TeamMember, error) {
	member, err := lookup(m.members, memberKey{teamID, userID})
	if err != nil {
		return TeamMember{}, err
	}
	member.UserName = m.users[userID].DisplayName
	return member, nil
}

func (m *memState) ListTeamMembers(_ context.Context, teamID string) ([]TeamMember, error) {
	members := make([]TeamMember, 0)
	for key, member := range m.members {
		if key.teamID == teamID {
			member.UserName = m.users[key.userID].DisplayName
			members = append(members, member)
		}
	}
	slices.SortFunc(members, func(a, b TeamMember) int { return strings.Compare(a.UserName, b.UserName) })
	return members, nil
}

// boards

func (m *memState) CreateBoard(_ context.Context, board Board) error {
	if _, ok := m.teams[board.TeamID]; !ok {
		return fmt.Errorf("insert board: %w", ErrConflict)
	}
	m.boards[board.ID] = board
	return nil
}

func (m *memState) GetBoard(_ context.Context, boardID string) (Board, error) {
	return lookup(m.boards, boardID)
}

func (m *memState) ListBoards(_ context.Context, teamID string) ([]Board, error) {
	return sortedValues(m.boards,
		func(b Board) bool { return b.TeamID == teamID },
		func(a, b Board) int { return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID)) },
	), nil
}

func (m *memState) UpdateBoard(_ context.Context, board Board) error {
	existing, ok := m.boards[board.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Title = board.Title
	existing.Description = board.Description
	existing.Archived = board.Archived
	existing.UpdatedAt = board.UpdatedAt
	m.boards[board.ID] = existing
	return nil
}

func (m *memState) DeleteBoard(ctx context.Context, boardID string) error {
	if _, ok := m.boards[boardID]; !ok {
		return sql.ErrNoRows
	}
	for id, card := range m.cards {
		if card.BoardID == boardID {
			_ = m.DeleteCard(ctx, id)
		}
	}
	for id, column := range m.columns {
		if column.BoardID == boardID {
			delete(m.columns, id)
		}
	}
	for id, lane := range m.swimlanes {
		if lane.BoardID == boardID {
			delete(m.swimlanes, id)
		}
	}
	for id, label := range m.labels {
		if label.BoardID == boardID {
			delete(m.labels, id)
		}
	}
	for id, share := range m.shares {
		if share.BoardID != nil && *share.BoardID == boardID {
			delete(m.shares, id)
		}
	}
	delete(m.boards, boardID)
	return nil
}

// ordering scopes

// LockScope only checks existence: the store-wide transaction lock already
// serializes writers.
func (m *memState) LockScope(_ context.Context, kind ItemKind, scopeID string) error {
	switch kind {
	case KindCard:
		_, err := lookup(m.columns, scopeID)
		return err
	case KindColumn, KindSwimlane:
		_, err := lookup(m.boards, scopeID)
		return err
	default:
		return fmt.Errorf("lock scope: unknown kind %q", kind)
	}
}

func (m *memState) ListScope(_ context.Context, kind ItemKind, scopeID string) ([]Positioned, error) {
	items := make([]Positioned, 0)
	switch kind {
	case KindCard:
		for _, card := range m.cards {
			if card.ColumnID == scopeID {
				items = append(items, Positioned{ID: card.ID, Position: card.Position, Archived: card.Archived})
			}
		}
	case KindColumn:
		for _, column := range m.columns {
			if column.BoardID == scopeID {
				items = append(items, Positioned{ID: column.ID, Position: column.Position})
			}
		}
	case KindSwimlane:
		for _, lane := range m.swimlanes {
			if lane.BoardID == scopeID {
				items = append(items, Positioned{ID: lane.ID, Position: lane.Position})
			}
		}
	default:
		return nil, fmt.Errorf("list scope: unknown kind %q", kind)
	}
	slices.SortFunc(items, func(a, b Positioned) int {
		return cmp.Or(strings.Compare(string(a.Position), string(b.Position)), strings.Compare(a.ID, b.ID))
	})
	return items, nil
}

// positionTaken mirrors the unique (scope, position) constraints.
func (m *memState) positionTaken(kind ItemKind, scopeID, selfID, position string) bool {
	switch kind {
	case KindCard:
		for id, card := range m.cards {
			if id != selfID && card.ColumnID == scopeID && string(card.Position) == position {
				return true
			}
		}
	case KindColumn:
		for id, column := range m.columns {
			if id != selfID && column.BoardID == scopeID && string(column.Position) == position {
				return true
			}
		}
	case KindSwimlane:
		for id, lane := range m.swimlanes {
			if id != selfID && lane.BoardID == scopeID && string(lane.Position) == position {
				return true
			}
		}
	}
	return false
}

// columns

func (m *memState) CreateColumn(_ context.Context, column Column) error {
	if _, ok := m.boards[column.BoardID]; !ok {
		return fmt.Errorf("insert column: %w", ErrConflict)
	}
	if m.positionTaken(KindColumn, column.BoardID, column.ID, string(column.Position)) {
		return fmt.Errorf("insert column: duplicate position: %w", ErrConflict)
	}
	m.columns[column.ID] = column
	return nil
}

func (m *memState) GetColumn(_ context.Context, columnID string) (Column, error) {
	return lookup(m.columns, columnID)
}

func (m *memState) ListColumns(_ context.Context, boardID string) ([]Column, error) {
	return sortedValues(m.columns,
		func(c Column) bool { return c.BoardID == boardID },
		func(a, b Column) int {
			return cmp.Or(strings.Compare(string(a.Position), string(b.Position)), strings.Compare(a.ID, b.ID))
		},
	), nil
}

func (m *memState) UpdateColumn(_ context.Context, column Column) error {
	existing, ok := m.columns[column.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if m.positionTaken(KindColumn, existing.BoardID, column.ID, string(column.Position)) {
		return fmt.Errorf("update column: duplicate position: %w", ErrConflict)
	}
	existing.Title = column.Title
	existing.Position = column.Position
	existing.WipLimit = column.WipLimit
	m.columns[column.ID] = existing
	return nil
}

func (m *memState) DeleteColumn(_ context.Context, columnID string) error {
	if _, ok := m.columns[columnID]; !ok {
		return sql.ErrNoRows
	}
	for _, card := range m.cards {
		if card.ColumnID == columnID {
			return fmt.Errorf("delete column: still referenced by cards: %w", ErrConflict)
		}
	}
	delete(m.columns, columnID)
	return nil
}

func (m *memState) CountColumnCards(_ context.Context, columnID string) (int, error) {
	count := 0
	for _, card := range m.cards {
		if card.ColumnID == columnID {
			count++
		}
	}
	return count, nil
}

// swimlanes

func (m *memState) CreateSwimlane(_ context.Context, lane Swimlane) error {
	if _, ok := m.boards[lane.BoardID]; !ok {
		return fmt.Errorf("insert swimlane: %w", ErrConflict)
	}
	if m.positionTaken(KindSwimlane, lane.BoardID, lane.ID, string(lane.Position)) {
		return fmt.Errorf("insert swimlane: duplicate position: %w", ErrConflict)
	}
	m.swimlanes[lane.ID] = lane
	return nil
}

func (m *memState) GetSwimlane(_ context.Context, laneID string) (Swimlane, error) {
	return lookup(m.swimlanes, laneID)
}

func (m *memState) ListSwimlanes(_ context.Context, boardID string) ([]Swimlane, error) {
	return sortedValues(m.swimlanes,
		func(l Swimlane) bool { return l.BoardID == boardID },
		func(a, b Swimlane) int {
			return cmp.Or(strings.Compare(string(a.Position), string(b.Position)), strings.Compare(a.ID, b.ID))
		},
	), nil
}

func (m *memState) UpdateSwimlane(_ context.Context, lane Swimlane) error {
	existing, ok := m.swimlanes[lane.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if m.positionTaken(KindSwimlane, existing.BoardID, lane.ID, string(lane.Position)) {
		return fmt.Errorf("update swimlane: duplicate position: %w", ErrConflict)
	}
	existing.Title = lane.Title
	existing.Position = lane.Position
	m.swimlanes[lane.ID] = existing
	return nil
}

func (m *memState) DeleteSwimlane(_ context.Context, laneID string) error {
	if _, ok := m.swimlanes[laneID]; !ok {
		return sql.ErrNoRows
	}
	for id, card := range m.cards {
		if card.SwimlaneID != nil && *card.SwimlaneID == laneID {
			card.SwimlaneID = nil
			m.cards[id] = card
		}
	}
	delete(m.swimlanes, laneID)
	return nil
}

// cards

func (m *memState) CreateCard(_ context.Context, card Card) error {
	column, ok := m.columns[card.ColumnID]
	if !ok || column.BoardID != card.BoardID {
		return fmt.Errorf("insert card: %w", ErrConflict)
	}
	if m.positionTaken(KindCard, card.ColumnID, card.ID, string(card.Position)) {
		return fmt.Errorf("insert card: duplicate position: %w", ErrConflict)
	}
	m.cards[card.ID] = card
	return nil
}

func (m *memState) GetCard(_ context.Context, cardID string) (Card, error) {
	return lookup(m.cards, cardID)
}

func compareCards(a, b Card) int {
	return cmp.Or(
		strings.Compare(a.ColumnID, b.ColumnID),
		strings.Compare(string(a.Position), string(b.Position)),
		strings.Compare(a.ID, b.ID),
	)
}

func (m *memState) ListCards(_ context.Context, boardID string) ([]Card, error) {
	return sortedValues(m.cards, func(c Card) bool { return c.BoardID == boardID }, compareCards), nil
}

func (m *memState) UpdateCard(_ context.Context, card Card) error {
	existing, ok := m.cards[card.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if _, ok := m.columns[card.ColumnID]; !ok {
		return fmt.Errorf("update card: %w", ErrConflict)
	}
	if m.positionTaken(KindCard, card.ColumnID, card.ID, string(card.Position)) {
		return fmt.Errorf("update card: duplicate position: %w", ErrConflict)
	}
	card.BoardID = existing.BoardID
	card.CreatedBy = existing.CreatedBy
	card.CreatedAt = existing.CreatedAt
	m.cards[card.ID] = card
	return nil
}

func (m *memState) DeleteCard(_ context.Context, cardID string) error {
	if _, ok := m.cards[cardID]; !ok {
		return sql.ErrNoRows
	}
	for link := range m.cardLabels {
		if link.CardID == cardID {
			delete(m.cardLabels, link)
		}
	}
	for key := range m.assignees {
		if key.cardID == cardID {
			delete(m.assignees, key)
		}
	}
	for id, comment := range m.comments {
		if comment.CardID == cardID {
			delete(m.comments, id)
		}
	}
	for id, attachment := range m.attachments {
		if attachment.CardID == cardID {
			delete(m.attachments, id)
		}
	}
	delete(m.cards, cardID)
	return nil
}

// SearchCards matches every query term case-insensitively against title and description.
func (m *memState) SearchCards(_ context.Context, boardID, text string, limit int) ([]Card, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return []Card{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	matches := sortedValues(m.cards, func(c Card) bool {
		if c.BoardID != boardID {
			return false
		}
		haystack := strings.ToLower(c.Title + " " + c.Description)
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				return false
			}
		}
		return true
	}, compareCards)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *memState) ListCardSearchRecords(_ context.Context) ([]CardSearchRecord, error) {
	records := make([]CardSearchRecord, 0, len(m.cards))
	for _, card := range m.cards {
		records = append(records, CardSearchRecord{
			ID:          card.ID,
			BoardID:     card.BoardID,
			ColumnID:    card.ColumnID,
			Title:       card.Title,
			Description: card.Description,
			Archived:    card.Archived,
		})
	}
	return records, nil
}

// labels

func (m *memState) CreateLabel(_ context.Context, label Label) error {
	if _, ok := m.boards[label.BoardID]; !ok {
		return fmt.Errorf("insert label: %w", ErrConflict)
	}
	m.labels[label.ID] = label
	return nil
}

func (m *memState) GetLabel(_ context.Context, labelID string) (Label, error) {
	return lookup(m.labels, labelID)
}

func (m *memState) ListLabels(_ context.Context, boardID string) ([]Label, error) {
	return sortedValues(m.labels,
		func(l Label) bool { return l.BoardID == boardID },
		func(a, b Label) int { return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.ID, b.ID)) },
	), nil
}

func (m *memState) DeleteLabel(_ context.Context, labelID string) error {
	if _, ok := m.labels[labelID]; !ok {
		return sql.ErrNoRows
	}
	for link := range m.cardLabels {
		if link.LabelID == labelID {
			delete(m.cardLabels, link)
		}
	}
	delete(m.labels, labelID)
	return nil
}

func (m *memState) AddCardLabel(_ context.Context, link CardLabel) error {
	if _, ok := m.cards[link.CardID]; !ok {
		return fmt.Errorf("insert card label: %w", ErrConflict)
	}
	if _, ok := m.labels[link.LabelID]; !ok {
		return fmt.Errorf("insert card label: %w", ErrConflict)
	}
	m.cardLabels[link] = struct{}{}
	return nil
}

func (m *memState) RemoveCardLabel(_ context.Context, cardID, labelID string) error {
	link := CardLabel{CardID: cardID, LabelID: labelID}
	if _, ok := m.cardLabels[link]; !ok {
		return sql.ErrNoRows
	}
	delete(m.cardLabels, link)
	return nil
}

func (m *memState) ListCardLabels(_ context.Context, boardID string) ([]CardLabel, error) {
	return sortedValues(m.cardLabelsByKey(),
		func(l CardLabel) bool { return m.cards[l.CardID].BoardID == boardID },
		func(a, b CardLabel) int {
			return cmp.Or(strings.Compare(a.CardID, b.CardID), strings.Compare(a.LabelID, b.LabelID))
		},
	), nil
}

func (m *memState) cardLabelsByKey() map[CardLabel]CardLabel {
	out := make(map[CardLabel]CardLabel, len(m.cardLabels))
	for link := range m.cardLabels {
		out[link] = link
	}
	return out
}

// assignees

func (m *memState) AddAssignee(_ context.Context, assignee CardAssignee) error {
	if _, ok := m.cards[assignee.CardID]; !ok {
		return fmt.Errorf("insert assignee: %w", ErrConflict)
	}
	if _, ok := m.users[assignee.UserID]; !ok {
		return fmt.Errorf("insert assignee: %w", ErrConflict)
	}
	key := assigneeKey{assignee.CardID, assignee.UserID}
	if _, exists := m.assignees[key]; !exists {
		m.assignees[key] = assignee
	}
	return nil
}

func (m *memState) RemoveAssignee(_ context.Context, cardID, userID string) error {
	key := assigneeKey{cardID, userID}
	if _, ok := m.assignees[key]; !ok {
		return sql.ErrNoRows
	}
	delete(m.assignees, key)
	return nil
}

func compareAssignees(a, b CardAssignee) int {
	return cmp.Or(strings.Compare(a.CardID, b.CardID), a.AssignedAt.Compare(b.AssignedAt), strings.Compare(a.UserID, b.UserID))
}

func (m *memState) ListAssignees(_ context.Context, boardID string) ([]CardAssignee, error) {
	return sortedValues(m.assignees,
		func(a CardAssignee) bool { return m.cards[a.CardID].BoardID == boardID },
		compareAssignees,
	), nil
}

func (m *memState) ListCardAssignees(_ context.Context, cardID string) ([]CardAssignee, error) {
	return sortedValues(m.assignees, func(a CardAssignee) bool { return a.CardID == cardID }, compareAssignees), nil
}

// comments

func (m *memState) CreateComment(_ context.Context, comment Comment) error {
	if _, ok := m.cards[comment.CardID]; !ok {
		return fmt.Errorf("insert comment: %w", ErrConflict)
	}
	m.comments[comment.ID] = comment
	return nil
}

func (m *memState) GetComment(_ context.Context, commentID string) (Comment, error) {
	return lookup(m.comments, commentID)
}

func (m *memState) DeleteComment(_ context.Context, commentID string) error {
	if _, ok := m.comments[commentID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.comments, commentID)
	return nil
}

func (m *memState) ListComments(_ context.Context, boardID string) ([]Comment, error) {
	return sortedValues(m.comments,
		func(c Comment) bool { return m.cards[c.CardID].BoardID == boardID },
		func(a, b Comment) int { return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID)) },
	), nil
}

// attachments

func (m *memState) CreateAttachment(_ context.Context, attachment Attachment) error {
	if _, ok := m.cards[attachment.CardID]; !ok {
		return fmt.Errorf("insert attachment: %w", ErrConflict)
	}
	m.attachments[attachment.ID] = attachment
	return nil
}

func (m *memState) GetAttachment(_ context.Context, attachmentID string) (Attachment, error) {
	return lookup(m.attachments, attachmentID)
}

func (m *memState) ListAttachments(_ context.Context, cardID string) ([]Attachment, error) {
	return sortedValues(m.attachments,
		func(a Attachment) bool { return a.CardID == cardID },
		func(a, b Attachment) int { return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID)) },
	), nil
}

func (m *memState) DeleteAttachment(_ context.Context, attachmentID string) error {
	if _, ok := m.attachments[attachmentID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.attachments, attachmentID)
	return nil
}

// shares

func (m *memState) CreateShare(_ context.Context, share Share) error {
	if share.TokenHash != "" {
		for _, existing := range m.shares {
			if existing.TokenHash == share.TokenHash {
				return fmt.Errorf("insert share: duplicate token: %w", ErrConflict)
			}
		}
	}
	m.shares[share.ID] = share
	return nil
}

func (m *memState) GetShare(_ context.Context, shareID string) (Share, error) {
	return lookup(m.shares, shareID)
}

func (m *memState) GetShareByTokenHash(_ context.Context, tokenHash string) (Share, error) {
	for _, share := range m.shares {
		if share.TokenHash != "" && share.TokenHash == tokenHash {
			return share, nil
		}
	}
	return Share{}, sql.ErrNoRows
}

func compareShares(a, b Share) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
}

func (m *memState) ListShares(_ context.Context, teamID, boardID string) ([]Share, error) {
	return sortedValues(m.shares,
		func(s Share) bool { return s.RevokedAt == nil && s.Covers(boardID, teamID) },
		compareShares,
	), nil
}

func (m *memState) ListUserShares(_ context.Context, userID string) ([]Share, error) {
	return sortedValues(m.shares,
		func(s Share) bool { return s.RevokedAt == nil && s.UserID != nil && *s.UserID == userID },
		compareShares,
	), nil
}

func (m *memState) RevokeShare(_ context.Context, shareID string, at time.Time) error {
	share, ok := m.shares[shareID]
	if !ok || share.RevokedAt != nil {
		return sql.ErrNoRows
	}
	share.RevokedAt = &at
	m.shares[shareID] = share
	return nil
}

// notifications

func (m *memState) CreateNotification(_ context.Context, notification Notification) error {
	m.notifications[notification.ID] = notification
	return nil
}

func (m *memState) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	out := sortedValues(m.notifications,
		func(n Notification) bool { return n.UserID == userID },
		func(a, b Notification) int { return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID)) },
	)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memState) MarkNotificationRead(_ context.Context, notificationID, userID string, at time.Time) error {
	n, ok := m.notifications[notificationID]
	if !ok || n.UserID != userID {
		return sql.ErrNoRows
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
		m.notifications[notificationID] = n
	}
	return nil
}
