package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-tag/app/database"
	"github.com/lysyi3m/rss-tag/app/external"
	"github.com/lysyi3m/rss-tag/app/tasks"
)

func NewHandler(store tasks.StoreInterface, users UserStore, tokens database.TokenRepositoryInterface,
	counter TaskCounter, externalService ExternalService) *Handler {
	return &Handler{
		store:    store,
		users:    users,
		tokens:   tokens,
		counter:  counter,
		external: externalService,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if userCount, err := h.users.GetUserCount(c.Request.Context()); err == nil {
		health["users"] = userCount
	}
	if taskCount, err := h.counter.GetTaskCount(c.Request.Context()); err == nil {
		health["tasks"] = taskCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APICreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := database.User{
		ID:       req.ID,
		Name:     req.Name,
		Provider: req.Provider,
		Settings: database.UserSettings{Feeds: req.Feeds},
	}
	if user.Provider == "" {
		user.Provider = "rss"
	}

	if err := h.users.UpsertUser(c.Request.Context(), user); err != nil {
		slog.Error("Database error", "operation", "upsert_user", "owner", req.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "provider": user.Provider})
}

func (h *Handler) APIAddTask(c *gin.Context) {
	var req addTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskType, all, err := parseTaskTypeJSON(req.Type)
	if err != nil || all {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid task type: %s", string(req.Type))})
		return
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUser(ctx, req.Owner)
	if err != nil {
		slog.Error("Database error", "operation", "get_user", "owner", req.Owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	manual := true
	if req.Manual != nil {
		manual = *req.Manual
	}

	added, err := h.store.AddTask(ctx, tasks.TaskRequest{
		Owner:        req.Owner,
		Type:         taskType,
		Host:         req.Host,
		Provider:     req.Provider,
		Selection:    req.Selection,
		BatchItemIDs: req.BatchItemIDs,
		Payload:      req.Payload,
		Items:        req.Items,
	}, manual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add task"})
		return
	}

	if added && !taskType.IsFireAndCollect() {
		if err := h.users.SetInQueue(ctx, req.Owner, true); err != nil {
			slog.Warn("Failed to set in_queue flag", "owner", req.Owner, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"added":   added,
		"type":    taskType.String(),
	})
}

func (h *Handler) APITaskStatus(c *gin.Context) {
	owner := c.Param("owner")
	ctx := c.Request.Context()

	user, err := h.users.GetUser(ctx, owner)
	if err != nil {
		slog.Error("Database error", "operation", "get_user", "owner", owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	statuses, err := h.store.Status(ctx, owner)
	if err != nil {
		slog.Error("Database error", "operation", "task_status", "owner", owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"owner":    owner,
		"in_queue": user.InQueue,
		"retoken":  user.Retoken,
		"tasks":    statuses,
	})
}

func (h *Handler) APIFreezeTasks(c *gin.Context) {
	h.changeFreeze(c, true)
}

func (h *Handler) APIUnfreezeTasks(c *gin.Context) {
	h.changeFreeze(c, false)
}

func (h *Handler) changeFreeze(c *gin.Context, freeze bool) {
	owner := c.Param("owner")

	// An empty body means every task type.
	var req freezeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	taskType, all, err := parseTaskTypeJSON(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var types []tasks.TaskType
	if !all {
		types = []tasks.TaskType{taskType}
	}

	var count int64
	if freeze {
		count, err = h.store.Freeze(c.Request.Context(), owner, types...)
	} else {
		count, err = h.store.Unfreeze(c.Request.Context(), owner, types...)
	}
	if err != nil {
		slog.Error("Database error", "operation", "freeze", "owner", owner, "freeze", freeze, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

func (h *Handler) APIRemoveTask(c *gin.Context) {
	id := c.Param("id")

	removed, err := h.store.Remove(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "remove_task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APICreateWorkerToken(c *gin.Context) {
	owner := c.Param("owner")

	var req createTokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	user, err := h.users.GetUser(ctx, owner)
	if err != nil {
		slog.Error("Database error", "operation", "get_user", "owner", owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	token, secret, err := NewWorkerToken(owner, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	if err := h.tokens.CreateToken(ctx, token); err != nil {
		slog.Error("Database error", "operation", "create_token", "owner", owner, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": token.ID, "owner": owner, "token": secret})
}

func (h *Handler) APIRevokeWorkerToken(c *gin.Context) {
	id := c.Param("id")

	revoked, err := h.tokens.RevokeToken(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "revoke_token", "token_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !revoked {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ExternalClaim(c *gin.Context) {
	owner := c.GetString(ctxWorkerOwner)
	tokenID := c.GetString(ctxWorkerTokenID)

	task, err := h.external.ClaimExternal(c.Request.Context(), owner, tokenID)
	if err != nil {
		slog.Error("External claim failed", "owner", owner, "token_id", tokenID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "claim failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

func (h *Handler) ExternalSubmit(c *gin.Context) {
	owner := c.GetString(ctxWorkerOwner)
	tokenID := c.GetString(ctxWorkerTokenID)

	var req external.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	err := h.external.SubmitExternal(c.Request.Context(), owner, req, tokenID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, external.ErrStaleClaim):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case errors.Is(err, external.ErrInvalidResult), errors.Is(err, external.ErrTypeNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	default:
		slog.Error("External submit failed", "owner", owner, "token_id", tokenID, "item_id", req.ItemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "submit failed"})
	}
}

// parseTaskTypeJSON accepts a task type number, a type name, or "all".
func parseTaskTypeJSON(raw json.RawMessage) (tasks.TaskType, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return tasks.TaskTypeNoop, true, nil
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if strings.EqualFold(name, "all") {
			return tasks.TaskTypeNoop, true, nil
		}
		t, err := tasks.ParseTaskType(name)
		return t, false, err
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return tasks.TaskTypeNoop, false, fmt.Errorf("task type must be a number or a name")
	}
	t := tasks.TaskType(n)
	if !t.Valid() {
		return tasks.TaskTypeNoop, false, fmt.Errorf("%w: %d", tasks.ErrUnknownTaskType, n)
	}
	return t, false, nil
}
