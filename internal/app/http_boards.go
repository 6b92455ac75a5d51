package app

import (
	"net/http"
	"strings"

	"corkboard/internal/search"
)

// handleBoard routes /api/boards/{boardId}/...
func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request, boardID string, parts []string) {
	caller := callerFrom(r)

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			snapshot, err := s.service.GetBoard(r.Context(), caller, boardID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
		case http.MethodPut:
			var body BoardPatch
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			board, err := s.service.UpdateBoard(r.Context(), caller, boardID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, board)
		case http.MethodDelete:
			if err := s.service.DeleteBoard(r.Context(), caller, boardID); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[0] {
	case "columns":
		s.handleColumns(w, r, caller, boardID, parts[1:])
	case "swimlanes":
		s.handleSwimlanes(w, r, caller, boardID, parts[1:])
	case "cards":
		s.handleCards(w, r, caller, boardID, parts[1:])
	case "labels":
		s.handleLabels(w, r, caller, boardID, parts[1:])
	case "shares":
		s.handleShares(w, r, caller, boardID, parts[1:])
	case "search":
		s.handleSearch(w, r, caller, boardID, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleColumns(w http.ResponseWriter, r *http.Request, caller Caller, boardID string, parts []string) {
	// POST /columns
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body ColumnInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		column, err := s.service.CreateColumn(r.Context(), caller, boardID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, column)
		return
	}

	// POST /columns/{id}/move
	if len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost {
		var body MoveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		column, err := s.service.MoveColumn(r.Context(), caller, boardID, parts[0], body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, column)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPut {
		var body ColumnPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		column, err := s.service.UpdateColumn(r.Context(), caller, boardID, parts[0], body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, column)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteColumn(r.Context(), caller, boardID, parts[0]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSwimlanes(w http.ResponseWriter, r *http.Request, caller Caller, boardID string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body SwimlaneInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		lane, err := s.service.CreateSwimlane(r.Context(), caller, boardID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, lane)
		return
	}

	if len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost {
		var body MoveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		lane, err := s.service.MoveSwimlane(r.Context(), caller, boardID, parts[0], body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lane)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPut {
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		lane, err := s.service.UpdateSwimlane(r.Context(), caller, boardID, parts[0], body.Title)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lane)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteSwimlane(r.Context(), caller, boardID, parts[0]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCards(w http.ResponseWriter, r *http.Request, caller Caller, boardID string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body CardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.CreateCard(r.Context(), caller, boardID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, card)
		return
	}
	if len(parts) == 0 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	cardID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body CardPatch
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			card, err := s.service.UpdateCard(r.Context(), caller, boardID, cardID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, card)
		case http.MethodDelete:
			if err := s.service.DeleteCard(r.Context(), caller, boardID, cardID); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[1] {
	case "move":
		if len(parts) != 2 || r.Method != http.MethodPost {
			break
		}
		var body MoveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		card, err := s.service.MoveCard(r.Context(), caller, boardID, cardID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, card)
		return

	case "comments":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body struct {
				Body string `json:"body"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), caller, boardID, cardID, body.Body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, comment)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.DeleteComment(r.Context(), caller, boardID, cardID, parts[2]); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

	case "assignees":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body struct {
				UserID string `json:"userId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			assignee, err := s.service.AddAssignee(r.Context(), caller, boardID, cardID, body.UserID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, assignee)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.RemoveAssignee(r.Context(), caller, boardID, cardID, parts[2]); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

	case "labels":
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body struct {
				LabelID string `json:"labelId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			link, err := s.service.AddCardLabel(r.Context(), caller, boardID, cardID, body.LabelID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, link)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.RemoveCardLabel(r.Context(), caller, boardID, cardID, parts[2]); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

	case "attachments":
		if len(parts) == 2 && r.Method == http.MethodGet {
			files, err := s.service.ListAttachments(r.Context(), caller, boardID, cardID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachments": files})
			return
		}
		if len(parts) == 2 && r.Method == http.MethodPost {
			var body AttachmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			view, err := s.service.AddAttachment(r.Context(), caller, boardID, cardID, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, view)
			return
		}
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.DeleteAttachment(r.Context(), caller, boardID, cardID, parts[2]); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLabels(w http.ResponseWriter, r *http.Request, caller Caller, boardID string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		label, err := s.service.CreateLabel(r.Context(), caller, boardID, body.Name, body.Color)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, label)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteLabel(r.Context(), caller, boardID, parts[0]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, caller Caller, boardID string, parts []string) {
	if len(parts) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	response, err := s.service.SearchCards(r.Context(), caller, boardID, search.Query{
		Text:            r.URL.Query().Get("q"),
		IncludeArchived: strings.EqualFold(r.URL.Query().Get("archived"), "true"),
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
