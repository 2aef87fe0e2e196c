package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Farhan-basha/Star-Systems/internal/auth"
	"github.com/Farhan-basha/Star-Systems/internal/monitoring"
	"github.com/Farhan-basha/Star-Systems/internal/relay"
	"github.com/Farhan-basha/Star-Systems/internal/store"
)

func idParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (a *API) notFoundOr500(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	a.logger.Error().Err(err).Str("entity", what).Msg("store operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// Users

type userView struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (a *API) handleListUsers(c *gin.Context) {
	users, err := a.store.ListUsers()
	if err != nil {
		a.notFoundOr500(c, err, "users")
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{ID: u.ID, Username: u.Username, Email: u.Email})
	}
	c.JSON(http.StatusOK, views)
}

func (a *API) handleGetUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	u, err := a.store.GetUser(id)
	if err != nil {
		a.notFoundOr500(c, err, "user")
		return
	}
	c.JSON(http.StatusOK, userView{ID: u.ID, Username: u.Username, Email: u.Email})
}

// Workspaces

type workspaceRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (a *API) handleListWorkspaces(c *gin.Context) {
	workspaces, err := a.store.ListWorkspaces()
	if err != nil {
		a.notFoundOr500(c, err, "workspaces")
		return
	}
	c.JSON(http.StatusOK, workspaces)
}

func (a *API) handleCreateWorkspace(c *gin.Context) {
	var req workspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	ws, err := a.store.CreateWorkspace(req.Name, req.Description)
	if err != nil {
		a.notFoundOr500(c, err, "workspace")
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (a *API) handleGetWorkspace(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ws, err := a.store.GetWorkspace(id)
	if err != nil {
		a.notFoundOr500(c, err, "workspace")
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (a *API) handleUpdateWorkspace(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req workspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	ws, err := a.store.GetWorkspace(id)
	if err != nil {
		a.notFoundOr500(c, err, "workspace")
		return
	}
	ws.Name = req.Name
	ws.Description = req.Description
	if err := a.store.UpdateWorkspace(ws); err != nil {
		a.notFoundOr500(c, err, "workspace")
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (a *API) handleDeleteWorkspace(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := a.store.DeleteWorkspace(id); err != nil {
		a.notFoundOr500(c, err, "workspace")
		return
	}
	c.Status(http.StatusNoContent)
}

// Channels

type channelRequest struct {
	Name        string `json:"name" binding:"required"`
	WorkspaceID uint64 `json:"workspace"`
	Description string `json:"description"`
}

func (a *API) handleListChannels(c *gin.Context) {
	var workspaceID uint64
	if raw := c.Query("workspace"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workspace id"})
			return
		}
		workspaceID = id
	}
	channels, err := a.store.ListChannels(workspaceID)
	if err != nil {
		a.notFoundOr500(c, err, "channels")
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (a *API) handleCreateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	ch, created, err := a.store.GetOrCreateChannel(req.WorkspaceID, req.Name, req.Description)
	if err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ch)
}

func (a *API) handleGetChannel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ch, err := a.store.GetChannel(id)
	if err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (a *API) handleUpdateChannel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	ch, err := a.store.GetChannel(id)
	if err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	ch.Name = req.Name
	ch.Description = req.Description
	if req.WorkspaceID != 0 {
		ch.WorkspaceID = req.WorkspaceID
	}
	if err := a.store.UpdateChannel(ch); err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (a *API) handleDeleteChannel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := a.store.DeleteChannel(id); err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	c.Status(http.StatusNoContent)
}

// DM groups

type dmGroupRequest struct {
	Participants []uint64 `json:"participants" binding:"required"`
}

func (a *API) handleListDMGroups(c *gin.Context) {
	identity := auth.IdentityFrom(c.Request.Context())
	groups, err := a.store.ListDMGroupsFor(identity.UserID)
	if err != nil {
		a.notFoundOr500(c, err, "dm groups")
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (a *API) handleCreateDMGroup(c *gin.Context) {
	var req dmGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Participants) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants are required"})
		return
	}

	// The caller is always part of the conversation.
	identity := auth.IdentityFrom(c.Request.Context())
	participants := append([]uint64{identity.UserID}, req.Participants...)

	group, created, err := a.store.GetOrCreateDMGroup(participants)
	if err != nil {
		a.notFoundOr500(c, err, "dm group")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, group)
}

func (a *API) handleGetDMGroup(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())
	if !a.dmMember(c, id, identity.UserID) {
		return
	}
	group, err := a.store.GetDMGroup(id)
	if err != nil {
		a.notFoundOr500(c, err, "dm group")
		return
	}
	c.JSON(http.StatusOK, group)
}

func (a *API) handleDeleteDMGroup(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())
	if !a.dmMember(c, id, identity.UserID) {
		return
	}
	if err := a.store.DeleteDMGroup(id); err != nil {
		a.notFoundOr500(c, err, "dm group")
		return
	}
	c.Status(http.StatusNoContent)
}

// Messages

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (a *API) handleListChannelMessages(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	messages, err := a.store.ListChannelMessages(id)
	if err != nil {
		a.notFoundOr500(c, err, "messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// handlePostChannelMessage persists the message and pushes it to every live
// session in the channel's group. With a bus configured the push goes
// through NATS so sessions on other instances see it too; otherwise it goes
// straight to the local registry.
func (a *API) handlePostChannelMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if _, err := a.store.GetChannel(id); err != nil {
		a.notFoundOr500(c, err, "channel")
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	identity := auth.IdentityFrom(c.Request.Context())
	msg, err := a.store.AppendMessage(store.Message{
		ChannelID: id,
		SenderID:  identity.UserID,
		Sender:    identity.Username,
		Content:   req.Content,
	})
	if err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	monitoring.RecordMessageStored()

	payload, err := json.Marshal(msg)
	if err != nil {
		a.logger.Error().Err(err).Msg("message marshal failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if a.bus != nil {
		if err := a.bus.PublishChannelMessage(id, payload); err != nil {
			a.logger.Warn().Err(err).Uint64("channel", id).Msg("bus publish failed, delivering locally")
			a.engine.BroadcastChat(relay.ChannelGroupKey(id), payload)
		}
	} else {
		a.engine.BroadcastChat(relay.ChannelGroupKey(id), payload)
	}

	c.JSON(http.StatusCreated, msg)
}

func (a *API) handleListDMMessages(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())
	if !a.dmMember(c, id, identity.UserID) {
		return
	}
	messages, err := a.store.ListDMMessages(id)
	if err != nil {
		a.notFoundOr500(c, err, "messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (a *API) handlePostDMMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())
	if !a.dmMember(c, id, identity.UserID) {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg, err := a.store.AppendMessage(store.Message{
		DMGroupID: id,
		SenderID:  identity.UserID,
		Sender:    identity.Username,
		Content:   req.Content,
	})
	if err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	monitoring.RecordMessageStored()
	c.JSON(http.StatusCreated, msg)
}

func (a *API) dmMember(c *gin.Context, groupID, userID uint64) bool {
	group, err := a.store.GetDMGroup(groupID)
	if err != nil {
		a.notFoundOr500(c, err, "dm group")
		return false
	}
	for _, p := range group.Participants {
		if p == userID {
			return true
		}
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	return false
}

func (a *API) handleUpdateMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	identity := auth.IdentityFrom(c.Request.Context())
	existing, err := a.store.GetMessage(id)
	if err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	if existing.SenderID != identity.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the sender"})
		return
	}

	msg, err := a.store.UpdateMessage(id, req.Content)
	if err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (a *API) handleDeleteMessage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	identity := auth.IdentityFrom(c.Request.Context())
	existing, err := a.store.GetMessage(id)
	if err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	if existing.SenderID != identity.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the sender"})
		return
	}
	if err := a.store.DeleteMessage(id); err != nil {
		a.notFoundOr500(c, err, "message")
		return
	}
	c.Status(http.StatusNoContent)
}
