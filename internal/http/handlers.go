package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"kitty/internal/core"
	"kitty/internal/services"
	"kitty/internal/storage"
)

// Response DTOs. Amounts travel both as cents and as a formatted decimal
// string so clients never re-implement money formatting.

type userDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type participantDTO struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type categoryDTO struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	SpendingLimitCents int64    `json:"spendingLimitCents"`
	SpendingLimit      string   `json:"spendingLimit"`
	TotalPooledCents   int64    `json:"totalPooledCents"`
	TotalPooled        string   `json:"totalPooled"`
	Rule               string   `json:"rule"`
	MemberIDs          []string `json:"memberIds"`
}

type eventDTO struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	GroupID          string           `json:"groupId"`
	BudgetGoalCents  int64            `json:"budgetGoalCents"`
	BudgetGoal       string           `json:"budgetGoal"`
	TotalPooledCents int64            `json:"totalPooledCents"`
	TotalPooled      string           `json:"totalPooled"`
	PercentFunded    int              `json:"percentFunded"`
	CreatedAt        time.Time        `json:"createdAt"`
	Participants     []participantDTO `json:"participants"`
	Categories       []categoryDTO    `json:"categories"`
}

type transactionDTO struct {
	ID           string    `json:"id"`
	AmountCents  int64     `json:"amountCents"`
	Amount       string    `json:"amount"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	CategoryID   string    `json:"categoryId"`
	CategoryName string    `json:"categoryName"`
	Status       string    `json:"status"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type dueDTO struct {
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
	ShareCents   int64  `json:"shareCents"`
	Share        string `json:"share"`
	MemberCount  int    `json:"memberCount"`
	Settled      bool   `json:"settled"`
}

func toEventDTO(e core.Event) eventDTO {
	dto := eventDTO{
		ID:               e.ID,
		Name:             e.Name,
		GroupID:          e.GroupID,
		BudgetGoalCents:  e.BudgetGoal.Cents,
		BudgetGoal:       core.FormatCents(e.BudgetGoal.Cents),
		TotalPooledCents: e.TotalPooled.Cents,
		TotalPooled:      core.FormatCents(e.TotalPooled.Cents),
		PercentFunded:    e.PercentFunded(),
		CreatedAt:        e.CreatedAt,
		Participants:     make([]participantDTO, 0, len(e.Participants)),
		Categories:       make([]categoryDTO, 0, len(e.Categories)),
	}
	for _, p := range e.Participants {
		dto.Participants = append(dto.Participants, participantDTO{
			UserID: p.UserID,
			Name:   p.UserName,
			Role:   p.Role,
		})
	}
	for _, c := range e.Categories {
		memberIDs := make([]string, 0, len(c.Members))
		for _, m := range c.Members {
			memberIDs = append(memberIDs, m.UserID)
		}
		dto.Categories = append(dto.Categories, categoryDTO{
			ID:                 c.ID,
			Name:               c.Name,
			SpendingLimitCents: c.SpendingLimit.Cents,
			SpendingLimit:      core.FormatCents(c.SpendingLimit.Cents),
			TotalPooledCents:   c.TotalPooled.Cents,
			TotalPooled:        core.FormatCents(c.TotalPooled.Cents),
			Rule:               string(c.Rule),
			MemberIDs:          memberIDs,
		})
	}
	return dto
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:           t.ID,
		AmountCents:  t.Amount.Cents,
		Amount:       core.FormatCents(t.Amount.Cents),
		UserID:       t.UserID,
		UserName:     t.UserName,
		CategoryID:   t.CategoryID,
		CategoryName: t.CategoryName,
		Status:       string(t.Status),
		Note:         t.Note,
		CreatedAt:    t.CreatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

const eventsCacheKey = "all"

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := s.eventsCache.Get(eventsCacheKey)
	if !ok {
		var err error
		events, err = s.svc.ListEvents(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to list events", "error", err)
			errorResponseFor(err).Write(w)
			return
		}
		s.eventsCache.Set(eventsCacheKey, events)
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toEventDTO(e))
	}
	NewJSONResponse().Payload(map[string]any{"events": dtos}).Write(w)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	event, ok := s.eventCache.Get(id)
	if !ok {
		got, err := s.svc.GetEvent(r.Context(), id)
		if err != nil {
			errorResponseFor(err).Write(w)
			return
		}
		event = *got
		s.eventCache.Set(id, event)
	}

	NewJSONResponse().Payload(toEventDTO(event)).Write(w)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		GroupID      string   `json:"groupId"`
		BudgetGoal   string   `json:"budgetGoal"`
		Participants []string `json:"participants"`
		Categories   []struct {
			Name          string   `json:"name"`
			SpendingLimit string   `json:"spendingLimit"`
			Rule          string   `json:"rule"`
			Members       []string `json:"members"`
		} `json:"categories"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		BadRequestError("invalid request body", "").Write(w)
		return
	}

	params := storage.CreateEventParams{
		Name:           sanitizeInput(req.Name),
		GroupID:        sanitizeInput(req.GroupID),
		ParticipantIDs: req.Participants,
	}
	if req.BudgetGoal != "" {
		cents, err := core.ParseDecimalToCents(req.BudgetGoal)
		if err != nil {
			UnprocessableEntityError("invalid budget goal", "budgetGoal").Write(w)
			return
		}
		params.BudgetGoalCents = cents
	}
	for _, c := range req.Categories {
		cat := storage.CreateCategoryParams{
			Name:      sanitizeInput(c.Name),
			Rule:      core.RuleType(c.Rule),
			MemberIDs: c.Members,
		}
		if c.SpendingLimit != "" {
			cents, err := core.ParseDecimalToCents(c.SpendingLimit)
			if err != nil {
				UnprocessableEntityError("invalid spending limit", "spendingLimit").Write(w)
				return
			}
			cat.SpendingLimitCents = cents
		}
		params.Categories = append(params.Categories, cat)
	}

	event, err := s.svc.CreateEvent(r.Context(), params)
	if err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	s.invalidateReads()
	NewJSONResponse().Status(http.StatusCreated).Payload(toEventDTO(*event)).Write(w)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")

	limit := parseIntParam(r, "limit", s.cfg.AuditPageLimit)
	if limit > s.cfg.AuditPageCap {
		limit = s.cfg.AuditPageCap
	}
	before := sanitizeInput(r.URL.Query().Get("before"))

	// The event must exist even when its ledger is empty.
	if _, err := s.svc.GetEvent(r.Context(), eventID); err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	txns, err := s.svc.AuditLog(r.Context(), eventID, limit, before)
	if err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	dtos := make([]transactionDTO, 0, len(txns))
	for _, t := range txns {
		dtos = append(dtos, toTransactionDTO(t))
	}
	resp := map[string]any{"transactions": dtos}
	if len(txns) == limit {
		resp["nextBefore"] = txns[len(txns)-1].ID
	}
	NewJSONResponse().Payload(resp).Write(w)
}

func (s *Server) handleOutstandingDues(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	userID := sanitizeInput(r.URL.Query().Get("user"))

	dues, total, err := s.svc.OutstandingDues(r.Context(), eventID, userID)
	if err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	dtos := make([]dueDTO, 0, len(dues))
	for _, d := range dues {
		dtos = append(dtos, dueDTO{
			CategoryID:   d.CategoryID,
			CategoryName: d.CategoryName,
			ShareCents:   d.Share.Cents,
			Share:        core.FormatCents(d.Share.Cents),
			MemberCount:  d.MemberCount,
			Settled:      d.Settled,
		})
	}
	NewJSONResponse().Payload(map[string]any{
		"dues":          dtos,
		"totalDueCents": total.Cents,
		"totalDue":      core.FormatCents(total.Cents),
	}).Write(w)
}

func (s *Server) handleOptIn(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body", "").Write(w)
		return
	}

	action := services.MembershipAction(p.Get("action"))
	if action == "" {
		action = services.ActionJoin
	}

	err := s.svc.SetCategoryMembership(r.Context(), p.Get("userId"), p.Get("categoryId"), action)
	if err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	s.invalidateReads()
	NewJSONResponse().Payload(map[string]any{"ok": true}).Write(w)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, false)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, true)
}

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request, refund bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("invalid request body", "").Write(w)
		return
	}

	cents, err := core.ParseDecimalToCents(p.Get("amount"))
	if err != nil {
		UnprocessableEntityError("invalid amount", "amount").Write(w)
		return
	}

	userID := p.Get("userId")
	categoryID := p.Get("categoryId")
	note := p.Get("note")
	amount := core.Money{Cents: cents}

	var res *storage.DepositResult
	if refund {
		res, err = s.svc.Refund(r.Context(), userID, categoryID, amount, note)
	} else {
		res, err = s.svc.Deposit(r.Context(), userID, categoryID, amount, note)
	}
	if err != nil {
		// Stale category ids usually mean the client rendered an event
		// that was since rebuilt.
		if errors.Is(err, storage.ErrCategoryNotFound) {
			NotFoundError("expense category not found, refresh the event and try again").Write(w)
			return
		}
		errorResponseFor(err).Write(w)
		return
	}

	s.invalidateReads()

	NewJSONResponse().Status(http.StatusCreated).Payload(map[string]any{
		"transaction":         toTransactionDTO(res.Transaction),
		"categoryPooledCents": res.Category.TotalPooled.Cents,
		"eventPooledCents":    res.Event.TotalPooled.Cents,
		"eventPercentFunded":  res.Event.PercentFunded(),
	}).Write(w)
}

func (s *Server) handleGroupUsers(w http.ResponseWriter, r *http.Request) {
	groupID := sanitizeInput(r.URL.Query().Get("group"))

	users, err := s.svc.ListGroupUsers(r.Context(), groupID)
	if err != nil {
		errorResponseFor(err).Write(w)
		return
	}

	dtos := make([]userDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, userDTO{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	NewJSONResponse().Payload(map[string]any{"users": dtos}).Write(w)
}
