package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/identity"
)

type createAgentRequest struct {
	Name         string `json:"name"`
	Purpose      string `json:"purpose"`
	Segment      string `json:"segment"`
	Knowledge    string `json:"knowledge"`
	SystemPrompt string `json:"system_prompt"`
}

type publicAgent struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
	Link    string `json:"agent_link"`
}

// NewAgent builds an active agent for ownerID with a fresh public link. An
// empty system prompt gets a default derived from name and purpose.
func NewAgent(ownerID, name, purpose, segment, knowledge, systemPrompt string) *domain.Agent {
	name = strings.TrimSpace(name)
	purpose = strings.TrimSpace(purpose)
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = fmt.Sprintf("You are %s, a friendly research assistant learning about participants' experiences with %s. Keep replies short and ask one question at a time.", name, purpose)
	}
	return &domain.Agent{
		OwnerID:      ownerID,
		Name:         name,
		Purpose:      purpose,
		Segment:      strings.TrimSpace(segment),
		Knowledge:    strings.TrimSpace(knowledge),
		SystemPrompt: systemPrompt,
		Link:         uuid.NewString(),
		Active:       true,
	}
}

// CreateAgent creates an agent owned by the caller.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Purpose) == "" {
		Error(w, http.StatusBadRequest, "name and purpose are required")
		return
	}

	ownerID := identity.OwnerIDFromContext(r.Context())
	agent := NewAgent(ownerID, req.Name, req.Purpose, req.Segment, req.Knowledge, req.SystemPrompt)
	if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
		storeError(w, err, "agent not found")
		return
	}

	slog.Info("Agent created", "agent_id", agent.ID, "owner_id", ownerID)
	JSON(w, http.StatusCreated, agent)
}

// ListAgents returns the caller's agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.ListAgentsByOwner(r.Context(), identity.OwnerIDFromContext(r.Context()))
	if err != nil {
		storeError(w, err, "agent not found")
		return
	}
	JSON(w, http.StatusOK, agents)
}

// ownedAgent loads the agent named by the agentID URL parameter and writes
// an error response unless the caller owns it.
func (h *Handler) ownedAgent(w http.ResponseWriter, r *http.Request) (*domain.Agent, bool) {
	id, ok := int64Param(r, "agentID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid agent id")
		return nil, false
	}
	agent, err := h.repo.GetAgent(r.Context(), id)
	if err != nil {
		storeError(w, err, "Agent not found")
		return nil, false
	}
	if agent.OwnerID != identity.OwnerIDFromContext(r.Context()) {
		Error(w, http.StatusForbidden, "Not enough permissions")
		return nil, false
	}
	return agent, true
}

// GetAgent returns one of the caller's agents.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.ownedAgent(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, agent)
}

// GetPublicAgent returns the participant-visible fields of an active agent.
func (h *Handler) GetPublicAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.repo.GetAgentByLink(r.Context(), chi.URLParam(r, "link"))
	if err != nil {
		storeError(w, err, "Agent not found")
		return
	}
	if !agent.Active {
		Error(w, http.StatusNotFound, "Agent is not active")
		return
	}
	JSON(w, http.StatusOK, publicAgent{ID: agent.ID, Name: agent.Name, Purpose: agent.Purpose, Link: agent.Link})
}
