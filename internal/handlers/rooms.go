package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/telemetry"
	"chat-mirror-service/internal/work"
)

// RoomHandler manages room lifecycle and membership endpoints.
type RoomHandler struct {
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	readStates repositories.ReadStateRepository
	dir        directory.Service
	bridge     SyncBridge
	pool       *work.Pool
	audit      *telemetry.AuditEmitter
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(
	rooms repositories.RoomRepository,
	messages repositories.MessageRepository,
	readStates repositories.ReadStateRepository,
	dir directory.Service,
	bridge SyncBridge,
	pool *work.Pool,
	audit *telemetry.AuditEmitter,
) *RoomHandler {
	return &RoomHandler{
		rooms:      rooms,
		messages:   messages,
		readStates: readStates,
		dir:        dir,
		bridge:     bridge,
		pool:       pool,
		audit:      audit,
	}
}

// ListRooms returns the caller's sidebar: every visible room with its
// unread count, sorted by most recent inbound activity. Hidden rooms stay
// suppressed only while nothing new has arrived in them.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	rooms, err := h.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	roomIDs := make([]int, 0, len(rooms))
	for _, room := range rooms {
		roomIDs = append(roomIDs, room.ID)
	}
	states, err := h.readStates.GetStates(ctx, userID, roomIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load read states"})
		return
	}

	peerIDs := make([]int, 0, len(rooms))
	summaries := make([]models.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		state, opened := states[room.ID]

		unread, err := h.messages.CountInboundAfter(ctx, room.ID, userID, state.LastReadAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread"})
			return
		}
		if state.Hidden && unread == 0 {
			continue
		}
		lastInbound, err := h.messages.LatestInboundAt(ctx, room.ID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load activity"})
			return
		}

		summary := models.RoomSummary{
			RoomID:        room.ID,
			Kind:          room.Kind,
			Name:          room.Name,
			UnreadCount:   unread,
			IsRequest:     !opened && unread > 0,
			Archived:      state.Archived,
			LatestInbound: lastInbound,
		}
		if room.IsPrivate() {
			if peerID, ok := h.privatePeer(ctx, room, userID); ok {
				summary.PeerID = peerID
				peerIDs = append(peerIDs, peerID)
			}
		}
		summaries = append(summaries, summary)
	}

	if len(peerIDs) > 0 {
		if names, err := h.dir.BulkUsers(ctx, peerIDs); err == nil {
			for i := range summaries {
				if summaries[i].PeerID != 0 {
					summaries[i].PeerName = names[summaries[i].PeerID]
				}
			}
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LatestInbound, summaries[j].LatestInbound
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	c.JSON(http.StatusOK, gin.H{"rooms": summaries})
}

// StartPrivateRoom creates or returns the private room with a peer.
func (h *RoomHandler) StartPrivateRoom(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if userID == req.PeerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	if _, err := h.dir.BulkUsers(c.Request.Context(), []int{req.PeerID}); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to validate peer"})
		return
	}

	room, err := h.rooms.CreateOrGetPrivateRoom(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	h.submitBind(room)
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}

// CreateGroup handles POST /groups.
func (h *RoomHandler) CreateGroup(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Name      string `json:"name" binding:"required"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.MemberIDs) > 0 {
		if _, err := h.dir.BulkUsers(c.Request.Context(), req.MemberIDs); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to validate members"})
			return
		}
	}

	room, err := h.rooms.CreateGroupRoom(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		emitAudit(c, h.audit, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.submitBind(room)
	emitAudit(c, h.audit, "INFO", "Group created")
	c.JSON(http.StatusCreated, gin.H{"room_id": room.ID})
}

// AddMember adds a user to a group room. Only the admin may do this.
func (h *RoomHandler) AddMember(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}

	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if room.IsPrivate() || !room.AdminID.Valid || int(room.AdminID.Int64) != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the admin can add members"})
		return
	}

	if err := h.rooms.AddMember(c.Request.Context(), room.ID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}

	added := req.UserID
	h.pool.Submit(func(ctx context.Context) error {
		return h.bridge.AddMembers(ctx, room, []int{added})
	}, nil)
	emitAudit(c, h.audit, "INFO", "Member added")
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from a group room. The admin can remove
// anyone; a member can remove themselves.
func (h *RoomHandler) RemoveMember(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	target, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID := c.GetInt("userID")
	isAdmin := room.AdminID.Valid && int(room.AdminID.Int64) == userID
	if room.IsPrivate() || (!isAdmin && target != userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
		return
	}

	if err := h.rooms.RemoveMember(c.Request.Context(), room.ID, target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	h.pool.Submit(func(ctx context.Context) error {
		return h.bridge.RemoveMember(ctx, room, target)
	}, nil)
	emitAudit(c, h.audit, "INFO", "Member removed")
	c.Status(http.StatusNoContent)
}

// DeleteRoom deletes a group room and its messages. Admin only.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.rooms.DeleteRoom(c.Request.Context(), room.ID, userID); err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the admin can delete the room"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete room"})
		return
	}

	emitAudit(c, h.audit, "INFO", "Room deleted")
	c.Status(http.StatusNoContent)
}

// HideRoom hides the room from the caller's sidebar without touching the
// other members' views.
func (h *RoomHandler) HideRoom(c *gin.Context) {
	room, ok := h.requireMember(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.readStates.HideRoom(c.Request.Context(), userID, room.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hide room"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SetArchived toggles the caller's archived flag for a room. Archived rooms
// stay archived even when new messages arrive.
func (h *RoomHandler) SetArchived(c *gin.Context) {
	room, ok := h.requireMember(c)
	if !ok {
		return
	}

	var req struct {
		Archived *bool `json:"archived" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if err := h.readStates.SetArchived(c.Request.Context(), userID, room.ID, *req.Archived); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update room"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) loadRoom(c *gin.Context) (models.Room, bool) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return models.Room{}, false
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return models.Room{}, false
	}
	return room, true
}

func (h *RoomHandler) requireMember(c *gin.Context) (models.Room, bool) {
	room, ok := h.loadRoom(c)
	if !ok {
		return models.Room{}, false
	}
	userID := c.GetInt("userID")
	member, err := h.rooms.IsMember(c.Request.Context(), room.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return models.Room{}, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return models.Room{}, false
	}
	return room, true
}

func (h *RoomHandler) privatePeer(ctx context.Context, room models.Room, userID int) (int, bool) {
	members, err := h.rooms.Members(ctx, room.ID)
	if err != nil {
		return 0, false
	}
	for _, id := range members {
		if id != userID {
			return id, true
		}
	}
	return 0, false
}

func (h *RoomHandler) submitBind(room models.Room) {
	h.pool.Submit(func(ctx context.Context) error {
		_, err := h.bridge.Bind(ctx, room)
		return err
	}, nil)
}

