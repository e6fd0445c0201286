package app

import (
	"net/http"
)

// handleCircles routes everything under /api/circles. The caller has already
// authenticated the session.
func (s *HTTPServer) handleCircles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "circles" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			circles, err := s.service.ListCircles(r.Context())
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"circles": circles})
			return
		case http.MethodPost:
			var input CircleInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.CreateCircle(r.Context(), session, input)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, detail)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	circleID := parts[2]

	if len(parts) == 3 {
		if r.Method == http.MethodGet {
			detail, err := s.service.LoadCircleDetail(r.Context(), circleID, session.UserID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == "join" && r.Method == http.MethodPost:
		detail, err := s.service.JoinCircle(r.Context(), session, circleID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "leave" && r.Method == http.MethodPost:
		if err := s.service.LeaveCircle(r.Context(), session, circleID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 4 && parts[3] == "polls" && r.Method == http.MethodPost:
		var input PollInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.CreatePoll(r.Context(), session, circleID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 5 && parts[3] == "polls" && parts[4] == "vote" && r.Method == http.MethodPost:
		var body struct {
			OptionIndex *int `json:"optionIndex"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.OptionIndex == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "optionIndex is required", nil)
			return
		}
		detail, err := s.service.Vote(r.Context(), session, circleID, *body.OptionIndex)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 5 && parts[3] == "polls" && parts[4] == "close" && r.Method == http.MethodPost:
		detail, err := s.service.ClosePoll(r.Context(), session, circleID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "readings" && r.Method == http.MethodPost:
		var input ReadingInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.SaveReading(r.Context(), session, circleID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "quotes" && r.Method == http.MethodPost:
		var input QuoteInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.AddQuote(r.Context(), session, circleID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 5 && parts[3] == "quotes" && r.Method == http.MethodPut:
		var input QuoteInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.UpdateQuote(r.Context(), session, circleID, parts[4], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 5 && parts[3] == "quotes" && r.Method == http.MethodDelete:
		detail, err := s.service.DeleteQuote(r.Context(), session, circleID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "events" && r.Method == http.MethodPost:
		var input EventInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.CreateEvent(r.Context(), session, circleID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 4 && parts[3] == "threads" && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.CreateThread(r.Context(), session, circleID, body.Title)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 5 && parts[3] == "threads" && r.Method == http.MethodGet:
		thread, err := s.service.OpenThread(r.Context(), session, circleID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)

	case len(parts) == 6 && parts[3] == "threads" && parts[5] == "messages" && r.Method == http.MethodPost:
		var input MessageInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		thread, err := s.service.SendMessage(r.Context(), session, circleID, parts[4], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)

	case len(parts) == 7 && parts[3] == "threads" && parts[5] == "messages" && r.Method == http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		thread, err := s.service.EditMessage(r.Context(), session, circleID, parts[4], parts[6], body.Content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)

	case len(parts) == 7 && parts[3] == "threads" && parts[5] == "messages" && r.Method == http.MethodDelete:
		thread, err := s.service.DeleteMessage(r.Context(), session, circleID, parts[4], parts[6])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)

	case len(parts) == 4 && parts[3] == "progress" && r.Method == http.MethodPut:
		var body struct {
			Percentage *int `json:"percentage"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Percentage == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "percentage is required", nil)
			return
		}
		detail, err := s.service.SetProgress(r.Context(), session, circleID, *body.Percentage)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "roles" && r.Method == http.MethodPost:
		var body struct {
			UserID   string `json:"userId"`
			RoleName string `json:"roleName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.AssignRole(r.Context(), session, circleID, body.UserID, body.RoleName)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "journal" && r.Method == http.MethodPost:
		var input JournalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.SaveJournalEntry(r.Context(), session, circleID, "", input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 5 && parts[3] == "journal" && r.Method == http.MethodPut:
		var input JournalInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.SaveJournalEntry(r.Context(), session, circleID, parts[4], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 5 && parts[3] == "journal" && r.Method == http.MethodDelete:
		detail, err := s.service.DeleteJournalEntry(r.Context(), session, circleID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.SaveHistoryEntry(r.Context(), session, circleID, "", body.Content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodPut:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.SaveHistoryEntry(r.Context(), session, circleID, parts[4], body.Content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodDelete:
		detail, err := s.service.DeleteHistoryEntry(r.Context(), session, circleID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}
