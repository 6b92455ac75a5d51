package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"corkboard/internal/util"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
	q  dbtx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return fn(s)
}

func expectRow(res sql.Result, err error, action string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// users and sessions

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE display_name = $1`, name).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.q.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, util.NewID("usr"), name).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at, revoked_at = NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at = NOW() WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti = $1 AND expires_at > NOW())`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// teams

func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO teams (id, name, created_at) VALUES ($1, $2, $3)`, team.ID, team.Name, team.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM teams WHERE id = $1`, teamID).Scan(&team.ID, &team.Name, &team.CreatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.name, t.created_at, tm.role
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.name, t.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := make([]Team, 0)
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.Name, &team.CreatedAt, &team.Role); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) UpsertTeamMember(ctx context.Context, member TeamMember) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, member.TeamID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("upsert team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeamMember(ctx context.Context, teamID, userID string) (TeamMember, error) {
	member := TeamMember{TeamID: teamID, UserID: userID}
	err := s.q.QueryRowContext(ctx, `
		SELECT tm.role, u.display_name
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1 AND tm.user_id = $2
	`, teamID, userID).Scan(&member.Role, &member.UserName)
	if err != nil {
		return TeamMember{}, err
	}
	return member, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT tm.team_id, tm.user_id, u.display_name, tm.role
		FROM team_members tm
		JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY u.display_name
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	members := make([]TeamMember, 0)
	for rows.Next() {
		var member TeamMember
		if err := rows.Scan(&member.TeamID, &member.UserID, &member.UserName, &member.Role); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// boards

const boardColumns = `id, team_id, title, description, archived, created_by, created_at, updated_at`

func scanBoard(row rowScanner) (Board, error) {
	var board Board
	err := row.Scan(&board.ID, &board.TeamID, &board.Title, &board.Description, &board.Archived, &board.CreatedBy, &board.CreatedAt, &board.UpdatedAt)
	return board, err
}

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO boards (`+boardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, board.ID, board.TeamID, board.Title, board.Description, board.Archived, board.CreatedBy, board.CreatedAt, board.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	return scanBoard(s.q.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id = $1`, boardID))
}

func (s *PostgresStore) ListBoards(ctx context.Context, teamID string) ([]Board, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE team_id = $1 ORDER BY created_at, id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, board)
	}
	return boards, rows.Err()
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, board Board) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE boards SET title = $2, description = $3, archived = $4, updated_at = $5
		WHERE id = $1
	`, board.ID, board.Title, board.Description, board.Archived, board.UpdatedAt)
	return expectRow(res, err, "update board")
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM boards WHERE id = $1`, boardID)
	return expectRow(res, err, "delete board")
}

// ordering scopes

func (s *PostgresStore) LockScope(ctx context.Context, kind ItemKind, scopeID string) error {
	var query string
	switch kind {
	case KindCard:
		query = `SELECT id FROM columns WHERE id = $1 FOR UPDATE`
	case KindColumn, KindSwimlane:
		query = `SELECT id FROM boards WHERE id = $1 FOR UPDATE`
	default:
		return fmt.Errorf("lock scope: unknown kind %q", kind)
	}
	var id string
	if err := s.q.QueryRowContext(ctx, query, scopeID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock %s scope: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) ListScope(ctx context.Context, kind ItemKind, scopeID string) ([]Positioned, error) {
	var query string
	switch kind {
	case KindCard:
		query = `SELECT id, position, archived FROM cards WHERE column_id = $1 ORDER BY position, id`
	case KindColumn:
		query = `SELECT id, position, FALSE FROM columns WHERE board_id = $1 ORDER BY position, id`
	case KindSwimlane:
		query = `SELECT id, position, FALSE FROM swimlanes WHERE board_id = $1 ORDER BY position, id`
	default:
		return nil, fmt.Errorf("list scope: unknown kind %q", kind)
	}
	rows, err := s.q.QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list %s scope: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Positioned, 0)
	for rows.Next() {
		var item Positioned
		var position string
		if err := rows.Scan(&item.ID, &position, &item.Archived); err != nil {
			return nil, fmt.Errorf("scan %s scope: %w", kind, err)
		}
		item.Position = orderingKey(position)
		items = append(items, item)
	}
	return items, rows.Err()
}

// columns

const columnColumns = `id, board_id, title, position, wip_limit, created_at`

func scanColumn(row rowScanner) (Column, error) {
	var column Column
	var position string
	var wip sql.NullInt64
	if err := row.Scan(&column.ID, &column.BoardID, &column.Title, &position, &wip, &column.CreatedAt); err != nil {
		return Column{}, err
	}
	column.Position = orderingKey(position)
	if wip.Valid {
		limit := int(wip.Int64)
		column.WipLimit = &limit
	}
	return column, nil
}

func (s *PostgresStore) CreateColumn(ctx context.Context, column Column) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO columns (`+columnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, column.ID, column.BoardID, column.Title, string(column.Position), column.WipLimit, column.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	return scanColumn(s.q.QueryRowContext(ctx, `SELECT `+columnColumns+` FROM columns WHERE id = $1`, columnID))
}

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+columnColumns+` FROM columns WHERE board_id = $1 ORDER BY position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		column, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

func (s *PostgresStore) UpdateColumn(ctx context.Context, column Column) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE columns SET title = $2, position = $3, wip_limit = $4
		WHERE id = $1
	`, column.ID, column.Title, string(column.Position), column.WipLimit)
	return expectRow(res, err, "update column")
}

func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM columns WHERE id = $1`, columnID)
	return expectRow(res, err, "delete column")
}

func (s *PostgresStore) CountColumnCards(ctx context.Context, columnID string) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE column_id = $1`, columnID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count column cards: %w", err)
	}
	return count, nil
}

// swimlanes

const swimlaneColumns = `id, board_id, title, position, created_at`

func scanSwimlane(row rowScanner) (Swimlane, error) {
	var lane Swimlane
	var position string
	if err := row.Scan(&lane.ID, &lane.BoardID, &lane.Title, &position, &lane.CreatedAt); err != nil {
		return Swimlane{}, err
	}
	lane.Position = orderingKey(position)
	return lane, nil
}

func (s *PostgresStore) CreateSwimlane(ctx context.Context, lane Swimlane) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO swimlanes (`+swimlaneColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, lane.ID, lane.BoardID, lane.Title, string(lane.Position), lane.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert swimlane: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSwimlane(ctx context.Context, laneID string) (Swimlane, error) {
	return scanSwimlane(s.q.QueryRowContext(ctx, `SELECT `+swimlaneColumns+` FROM swimlanes WHERE id = $1`, laneID))
}

func (s *PostgresStore) ListSwimlanes(ctx context.Context, boardID string) ([]Swimlane, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+swimlaneColumns+` FROM swimlanes WHERE board_id = $1 ORDER BY position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list swimlanes: %w", err)
	}
	defer rows.Close()

	lanes := make([]Swimlane, 0)
	for rows.Next() {
		lane, err := scanSwimlane(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swimlane: %w", err)
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

func (s *PostgresStore) UpdateSwimlane(ctx context.Context, lane Swimlane) error {
	res, err := s.q.ExecContext(ctx, `UPDATE swimlanes SET title = $2, position = $3 WHERE id = $1`, lane.ID, lane.Title, string(lane.Position))
	return expectRow(res, err, "update swimlane")
}

func (s *PostgresStore) DeleteSwimlane(ctx context.Context, laneID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM swimlanes WHERE id = $1`, laneID)
	return expectRow(res, err, "delete swimlane")
}

// cards

const cardColumns = `id, board_id, column_id, swimlane_id, title, description, position, archived, due_at, created_by, created_at, updated_at`

func scanCard(row rowScanner) (Card, error) {
	var card Card
	var position string
	err := row.Scan(&card.ID, &card.BoardID, &card.ColumnID, &card.SwimlaneID, &card.Title, &card.Description,
		&position, &card.Archived, &card.DueAt, &card.CreatedBy, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	card.Position = orderingKey(position)
	return card, nil
}

func (s *PostgresStore) CreateCard(ctx context.Context, card Card) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, card.ID, card.BoardID, card.ColumnID, card.SwimlaneID, card.Title, card.Description,
		string(card.Position), card.Archived, card.DueAt, card.CreatedBy, card.CreatedAt, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	return scanCard(s.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, cardID))
}

func (s *PostgresStore) ListCards(ctx context.Context, boardID string) ([]Card, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE board_id = $1 ORDER BY column_id, position, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return collectCards(rows)
}

func collectCards(rows *sql.Rows) ([]Card, error) {
	defer rows.Close()
	cards := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (s *PostgresStore) UpdateCard(ctx context.Context, card Card) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE cards
		SET column_id = $2, swimlane_id = $3, title = $4, description = $5, position = $6,
			archived = $7, due_at = $8, updated_at = $9
		WHERE id = $1
	`, card.ID, card.ColumnID, card.SwimlaneID, card.Title, card.Description, string(card.Position),
		card.Archived, card.DueAt, card.UpdatedAt)
	return expectRow(res, err, "update card")
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, cardID)
	return expectRow(res, err, "delete card")
}

func (s *PostgresStore) SearchCards(ctx context.Context, boardID, text string, limit int) ([]Card, error) {
	if strings.TrimSpace(text) == "" {
		return []Card{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE board_id = $1 AND fts @@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC, id
		LIMIT $3
	`, boardID, text, limit)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	return collectCards(rows)
}

func (s *PostgresStore) ListCardSearchRecords(ctx context.Context) ([]CardSearchRecord, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, board_id, column_id, title, description, archived FROM cards`)
	if err != nil {
		return nil, fmt.Errorf("load card records: %w", err)
	}
	defer rows.Close()

	records := make([]CardSearchRecord, 0)
	for rows.Next() {
		var r CardSearchRecord
		if err := rows.Scan(&r.ID, &r.BoardID, &r.ColumnID, &r.Title, &r.Description, &r.Archived); err != nil {
			return nil, fmt.Errorf("scan card record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// labels

func (s *PostgresStore) CreateLabel(ctx context.Context, label Label) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO labels (id, board_id, name, color) VALUES ($1, $2, $3, $4)`,
		label.ID, label.BoardID, label.Name, label.Color)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLabel(ctx context.Context, labelID string) (Label, error) {
	var label Label
	err := s.q.QueryRowContext(ctx, `SELECT id, board_id, name, color FROM labels WHERE id = $1`, labelID).
		Scan(&label.ID, &label.BoardID, &label.Name, &label.Color)
	if err != nil {
		return Label{}, err
	}
	return label, nil
}

func (s *PostgresStore) ListLabels(ctx context.Context, boardID string) ([]Label, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, board_id, name, color FROM labels WHERE board_id = $1 ORDER BY name, id`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	labels := make([]Label, 0)
	for rows.Next() {
		var label Label
		if err := rows.Scan(&label.ID, &label.BoardID, &label.Name, &label.Color); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM labels WHERE id = $1`, labelID)
	return expectRow(res, err, "delete label")
}

func (s *PostgresStore) AddCardLabel(ctx context.Context, link CardLabel) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO card_labels (card_id, label_id) VALUES ($1, $2)
		ON CONFLICT (card_id, label_id) DO NOTHING
	`, link.CardID, link.LabelID)
	if err != nil {
		return fmt.Errorf("insert card label: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCardLabel(ctx context.Context, cardID, labelID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM card_labels WHERE card_id = $1 AND label_id = $2`, cardID, labelID)
	return expectRow(res, err, "delete card label")
}

func (s *PostgresStore) ListCardLabels(ctx context.Context, boardID string) ([]CardLabel, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT cl.card_id, cl.label_id
		FROM card_labels cl
		JOIN cards c ON c.id = cl.card_id
		WHERE c.board_id = $1
		ORDER BY cl.card_id, cl.label_id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list card labels: %w", err)
	}
	defer rows.Close()

	links := make([]CardLabel, 0)
	for rows.Next() {
		var link CardLabel
		if err := rows.Scan(&link.CardID, &link.LabelID); err != nil {
			return nil, fmt.Errorf("scan card label: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// assignees

func (s *PostgresStore) AddAssignee(ctx context.Context, assignee CardAssignee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO card_assignees (card_id, user_id, assigned_at) VALUES ($1, $2, $3)
		ON CONFLICT (card_id, user_id) DO NOTHING
	`, assignee.CardID, assignee.UserID, assignee.AssignedAt)
	if err != nil {
		return fmt.Errorf("insert assignee: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveAssignee(ctx context.Context, cardID, userID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM card_assignees WHERE card_id = $1 AND user_id = $2`, cardID, userID)
	return expectRow(res, err, "delete assignee")
}

func (s *PostgresStore) ListAssignees(ctx context.Context, boardID string) ([]CardAssignee, error) {
	return s.queryAssignees(ctx, `
		SELECT ca.card_id, ca.user_id, ca.assigned_at
		FROM card_assignees ca
		JOIN cards c ON c.id = ca.card_id
		WHERE c.board_id = $1
		ORDER BY ca.card_id, ca.assigned_at
	`, boardID)
}

func (s *PostgresStore) ListCardAssignees(ctx context.Context, cardID string) ([]CardAssignee, error) {
	return s.queryAssignees(ctx, `
		SELECT card_id, user_id, assigned_at FROM card_assignees WHERE card_id = $1 ORDER BY assigned_at
	`, cardID)
}

func (s *PostgresStore) queryAssignees(ctx context.Context, query string, arg string) ([]CardAssignee, error) {
	rows, err := s.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list assignees: %w", err)
	}
	defer rows.Close()

	assignees := make([]CardAssignee, 0)
	for rows.Next() {
		var a CardAssignee
		if err := rows.Scan(&a.CardID, &a.UserID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		assignees = append(assignees, a)
	}
	return assignees, rows.Err()
}

// comments

const commentColumns = `id, card_id, author_id, author_name, body, created_at`

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.CardID, &c.AuthorID, &c.AuthorName, &c.Body, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO comments (`+commentColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.CardID, comment.AuthorID, comment.AuthorName, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	return scanComment(s.q.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, commentID))
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	return expectRow(res, err, "delete comment")
}

func (s *PostgresStore) ListComments(ctx context.Context, boardID string) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT cm.id, cm.card_id, cm.author_id, cm.author_name, cm.body, cm.created_at
		FROM comments cm
		JOIN cards c ON c.id = cm.card_id
		WHERE c.board_id = $1
		ORDER BY cm.created_at, cm.id
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// attachments

const attachmentColumns = `id, card_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at`

func scanAttachment(row rowScanner) (Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.CardID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.ObjectKey, &a.UploadedBy, &a.CreatedAt)
	return a, err
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a Attachment) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO attachments (`+attachmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.CardID, a.FileName, a.ContentType, a.SizeBytes, a.ObjectKey, a.UploadedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	return scanAttachment(s.q.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, attachmentID))
}

func (s *PostgresStore) ListAttachments(ctx context.Context, cardID string) ([]Attachment, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE card_id = $1 ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, attachmentID)
	return expectRow(res, err, "delete attachment")
}

// shares

const shareColumns = `id, team_id, board_id, token_hash, user_id, permission, password_hash, expires_at, created_by, created_at, revoked_at`

func scanShare(row rowScanner) (Share, error) {
	var share Share
	var tokenHash, passwordHash sql.NullString
	err := row.Scan(&share.ID, &share.TeamID, &share.BoardID, &tokenHash, &share.UserID, &share.Permission,
		&passwordHash, &share.ExpiresAt, &share.CreatedBy, &share.CreatedAt, &share.RevokedAt)
	if err != nil {
		return Share{}, err
	}
	share.TokenHash = tokenHash.String
	share.PasswordHash = passwordHash.String
	return share, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (s *PostgresStore) CreateShare(ctx context.Context, share Share) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, share.ID, share.TeamID, share.BoardID, nullIfEmpty(share.TokenHash), share.UserID, share.Permission,
		nullIfEmpty(share.PasswordHash), share.ExpiresAt, share.CreatedBy, share.CreatedAt, share.RevokedAt)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShare(ctx context.Context, shareID string) (Share, error) {
	return scanShare(s.q.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = $1`, shareID))
}

func (s *PostgresStore) GetShareByTokenHash(ctx context.Context, tokenHash string) (Share, error) {
	return scanShare(s.q.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE token_hash = $1`, tokenHash))
}

func (s *PostgresStore) ListShares(ctx context.Context, teamID, boardID string) ([]Share, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM shares
		WHERE revoked_at IS NULL AND (board_id = $2 OR (board_id IS NULL AND team_id = $1))
		ORDER BY created_at, id
	`, teamID, boardID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return collectShares(rows)
}

func (s *PostgresStore) ListUserShares(ctx context.Context, userID string) ([]Share, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+shareColumns+` FROM shares WHERE user_id = $1 AND revoked_at IS NULL ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user shares: %w", err)
	}
	return collectShares(rows)
}

func collectShares(rows *sql.Rows) ([]Share, error) {
	defer rows.Close()
	shares := make([]Share, 0)
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

func (s *PostgresStore) RevokeShare(ctx context.Context, shareID string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE shares SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, shareID, at)
	return expectRow(res, err, "revoke share")
}

// notifications

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, board_id, card_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Kind, n.BoardID, n.CardID, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, user_id, kind, board_id, card_id, message, created_at, read_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.BoardID, &n.CardID, &n.Message, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2
	`, notificationID, userID, at)
	return expectRow(res, err, "mark notification read")
}
