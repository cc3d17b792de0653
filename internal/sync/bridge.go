package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/mirror"
	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/repositories"
)

// statuses written to the mirror's lastMessage summary.
const (
	lastMessageSent    = "sent"
	lastMessageRead    = "read"
	lastMessageDeleted = "deleted"
)

// Bridge keeps the authoritative store and the remote mirror consistent.
// Every remote operation is best-effort: failures come back as *SyncError
// and must never propagate into a caller's synchronous path.
type Bridge struct {
	store       mirror.Store
	rooms       repositories.RoomRepository
	messages    repositories.MessageRepository
	dir         directory.Service
	importLimit int
}

// NewBridge constructs a Bridge.
func NewBridge(store mirror.Store, rooms repositories.RoomRepository, messages repositories.MessageRepository, dir directory.Service, importLimit int) *Bridge {
	if importLimit <= 0 {
		importLimit = 300
	}
	return &Bridge{store: store, rooms: rooms, messages: messages, dir: dir, importLimit: importLimit}
}

// PairKey is the deterministic, ordering-independent key for two external
// identities.
func PairKey(uidA, uidB string) string {
	pair := []string{uidA, uidB}
	sort.Strings(pair)
	return strings.Join(pair, "#")
}

// CanonicalPrivateID derives the canonical mirror document id for a private
// pair, so either side resolves to the same document.
func CanonicalPrivateID(uidA, uidB string) string {
	return "priv_" + PairKey(uidA, uidB)
}

// memberUIDs resolves external identities for the room's members, skipping
// members that have none.
func (b *Bridge) memberUIDs(ctx context.Context, roomID int) ([]int, []string, error) {
	members, err := b.rooms.Members(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	uids := make([]string, 0, len(members))
	withUID := make([]int, 0, len(members))
	for _, id := range members {
		uid, err := b.dir.ExternalID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if uid != "" {
			withUID = append(withUID, id)
			uids = append(uids, uid)
		}
	}
	return withUID, uids, nil
}

// Bind resolves (or creates) the mirror document for a room and persists the
// binding on first successful resolution. Returns the mirror document id.
func (b *Bridge) Bind(ctx context.Context, room models.Room) (string, error) {
	if room.IsPrivate() {
		return b.bindPrivate(ctx, room)
	}
	return b.bindGroup(ctx, room)
}

func (b *Bridge) bindPrivate(ctx context.Context, room models.Room) (string, error) {
	const op = "bind_private"

	members, uids, err := b.memberUIDs(ctx, room.ID)
	if err != nil {
		return "", retryable(op, err)
	}
	if len(members) != 2 {
		return "", terminal(op, fmt.Errorf("room %d: need 2 members with external identity, have %d", room.ID, len(members)))
	}

	pairKey := PairKey(uids[0], uids[1])

	// Validate an existing binding by re-reading the doc.
	if room.MirrorID.Valid {
		doc, err := b.store.GetRoom(ctx, room.MirrorID.String)
		if err == nil && privateDocMatches(doc, uids, pairKey) {
			return room.MirrorID.String, nil
		}
		if err != nil && !errors.Is(err, mirror.ErrDocNotFound) {
			return "", retryable(op, err)
		}
		// Stale or foreign binding; fall through to re-resolve by pairKey.
	}

	// Search by pairKey: covers legacy and client-created documents.
	doc, err := b.store.FindRoomByPairKey(ctx, pairKey)
	if err == nil {
		return b.persistBinding(ctx, room.ID, doc.ID)
	}
	if !errors.Is(err, mirror.ErrDocNotFound) {
		return "", retryable(op, err)
	}

	// Create the canonical document.
	canonical := mirror.RoomDoc{
		ID:      CanonicalPrivateID(uids[0], uids[1]),
		Type:    mirror.DocPrivate,
		Members: uids,
		PairKey: pairKey,
		MemberMeta: map[string]mirror.MemberMeta{
			uids[0]: {},
			uids[1]: {},
		},
	}
	if err := b.store.CreateRoom(ctx, canonical); err != nil {
		return "", retryable(op, err)
	}
	return b.persistBinding(ctx, room.ID, canonical.ID)
}

func privateDocMatches(doc mirror.RoomDoc, uids []string, pairKey string) bool {
	if doc.Type != mirror.DocPrivate || doc.PairKey != pairKey {
		return false
	}
	if len(doc.Members) != len(uids) {
		return false
	}
	want := map[string]bool{}
	for _, uid := range uids {
		want[uid] = true
	}
	for _, member := range doc.Members {
		if !want[member] {
			return false
		}
	}
	return true
}

func (b *Bridge) bindGroup(ctx context.Context, room models.Room) (string, error) {
	const op = "bind_group"

	_, uids, err := b.memberUIDs(ctx, room.ID)
	if err != nil {
		return "", retryable(op, err)
	}
	if len(uids) < 2 {
		// Refuse half-empty mirror rooms.
		return "", terminal(op, fmt.Errorf("room %d: need at least 2 members with external identity, have %d", room.ID, len(uids)))
	}

	var adminIDs []string
	if room.AdminID.Valid {
		adminUID, err := b.dir.ExternalID(ctx, int(room.AdminID.Int64))
		if err != nil {
			return "", retryable(op, err)
		}
		if adminUID != "" {
			adminIDs = []string{adminUID}
		}
	}

	base := map[string]any{
		"type":      mirror.DocGroup,
		"members":   uids,
		"groupName": room.Name,
		"adminIds":  adminIDs,
	}

	if room.MirrorID.Valid {
		// Merge so client-authored memberMeta survives.
		if err := b.store.MergeRoom(ctx, room.MirrorID.String, base); err != nil {
			return "", retryable(op, err)
		}
		if err := b.store.AddRoomMembers(ctx, room.MirrorID.String, uids); err != nil {
			return "", retryable(op, err)
		}
		return room.MirrorID.String, nil
	}

	doc := mirror.RoomDoc{
		ID:        uuid.NewString(),
		Type:      mirror.DocGroup,
		Members:   uids,
		GroupName: room.Name,
		AdminIDs:  adminIDs,
	}
	if err := b.store.CreateRoom(ctx, doc); err != nil {
		return "", retryable(op, err)
	}
	if err := b.store.AddRoomMembers(ctx, doc.ID, uids); err != nil {
		return "", retryable(op, err)
	}
	return b.persistBinding(ctx, room.ID, doc.ID)
}

func (b *Bridge) persistBinding(ctx context.Context, roomID int, mirrorID string) (string, error) {
	if _, err := b.rooms.BindMirror(ctx, roomID, mirrorID); err != nil {
		return "", retryable("persist_binding", err)
	}
	return mirrorID, nil
}

// PushMessage mirrors a message and updates the room's lastMessage summary.
// Returns the assigned external id; the caller binds it locally only if the
// message is not already bound.
func (b *Bridge) PushMessage(ctx context.Context, room models.Room, msg models.Message) (string, error) {
	const op = "push_message"

	if msg.Body == "" {
		return "", nil
	}

	senderUID, err := b.dir.ExternalID(ctx, msg.AuthorID)
	if err != nil {
		return "", retryable(op, err)
	}
	if senderUID == "" {
		return "", terminal(op, fmt.Errorf("author %d has no external identity", msg.AuthorID))
	}

	mirrorID, err := b.Bind(ctx, room)
	if err != nil {
		return "", err
	}

	mid, err := b.store.CreateMessage(ctx, mirror.MessageDoc{
		RoomID:          mirrorID,
		Type:            "text",
		Text:            msg.Body,
		SenderID:        senderUID,
		CreatedAtClient: msg.CreatedAt,
	})
	if err != nil {
		return "", retryable(op, err)
	}

	now := time.Now().UTC()
	summary := map[string]any{
		"lastMessageId":        mid,
		"lastMessageText":      msg.Body,
		"lastMessageSenderId":  senderUID,
		"lastMessageStatus":    lastMessageSent,
		"lastMessageIsRead":    false,
		"lastMessageTimestamp": now,
	}
	if err := b.store.MergeRoom(ctx, mirrorID, summary); err != nil {
		return "", retryable(op, err)
	}
	return mid, nil
}

// BindMessage records the external id on the local row exactly once.
// Reports whether this call performed the bind.
func (b *Bridge) BindMessage(ctx context.Context, msg models.Message, externalID string) (bool, error) {
	if msg.MirrorID.Valid {
		return false, nil
	}
	senderUID, err := b.dir.ExternalID(ctx, msg.AuthorID)
	if err != nil {
		return false, err
	}
	return b.messages.BindMirror(ctx, msg.ID, externalID, senderUID)
}

// ImportMessages pulls remote messages into the local store, skipping any
// already present. Returns the number of newly materialized messages.
func (b *Bridge) ImportMessages(ctx context.Context, room models.Room) (int, error) {
	const op = "import_messages"

	mirrorID, err := b.Bind(ctx, room)
	if err != nil {
		return 0, err
	}

	docs, err := b.store.ListMessages(ctx, mirrorID, b.importLimit)
	if err == nil {
		// newest-first → oldest-first
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	} else {
		// Ordered query failed; full scan, client-side sort, keep the tail.
		docs, err = b.store.ListMessagesUnordered(ctx, mirrorID)
		if err != nil {
			return 0, retryable(op, err)
		}
		sort.SliceStable(docs, func(i, j int) bool {
			return importTimestamp(docs[i]).Before(importTimestamp(docs[j]))
		})
		if len(docs) > b.importLimit {
			docs = docs[len(docs)-b.importLimit:]
		}
	}

	members, err := b.rooms.Members(ctx, room.ID)
	if err != nil {
		return 0, retryable(op, err)
	}

	imported := 0
	for _, doc := range docs {
		exists, err := b.messages.ExistsByMirrorID(ctx, doc.ID)
		if err != nil {
			return imported, retryable(op, err)
		}
		if exists {
			continue
		}

		authorID := 0
		if doc.SenderID != "" {
			authorID, err = b.dir.ResolveExternalID(ctx, doc.SenderID)
			if err != nil {
				return imported, retryable(op, err)
			}
		}
		if authorID == 0 && len(members) > 0 {
			authorID = members[0]
		}

		body := doc.Text
		if doc.Deleted {
			body = ""
		}

		_, err = b.messages.Import(ctx, models.Message{
			RoomID:    room.ID,
			AuthorID:  authorID,
			Body:      body,
			Deleted:   doc.Deleted,
			Status:    models.StatusSent,
			MirrorID:  sql.NullString{String: doc.ID, Valid: true},
			SenderUID: sql.NullString{String: doc.SenderID, Valid: doc.SenderID != ""},
			CreatedAt: importTimestamp(doc),
		})
		if err != nil {
			return imported, retryable(op, err)
		}
		imported++
	}
	return imported, nil
}

func importTimestamp(doc mirror.MessageDoc) time.Time {
	if !doc.CreatedAt.IsZero() {
		return doc.CreatedAt
	}
	if !doc.CreatedAtClient.IsZero() {
		return doc.CreatedAtClient
	}
	return time.Now().UTC()
}

// AddMembers reconciles newly added members into the mirror document.
func (b *Bridge) AddMembers(ctx context.Context, room models.Room, userIDs []int) error {
	const op = "add_members"

	uids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		uid, err := b.dir.ExternalID(ctx, id)
		if err != nil {
			return retryable(op, err)
		}
		if uid != "" {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return nil
	}

	mirrorID, err := b.Bind(ctx, room)
	if err != nil {
		return err
	}
	if err := b.store.AddRoomMembers(ctx, mirrorID, uids); err != nil {
		return retryable(op, err)
	}
	return nil
}

// RemoveMember reconciles a removal into the mirror document, cleaning the
// member's metadata. A group falling under two members is marked archived.
func (b *Bridge) RemoveMember(ctx context.Context, room models.Room, userID int) error {
	const op = "remove_member"

	uid, err := b.dir.ExternalID(ctx, userID)
	if err != nil {
		return retryable(op, err)
	}
	if uid == "" {
		return nil
	}

	mirrorID := room.MirrorID.String
	if !room.MirrorID.Valid {
		mirrorID, err = b.Bind(ctx, room)
		if err != nil {
			return err
		}
	}

	if err := b.store.RemoveRoomMember(ctx, mirrorID, uid); err != nil {
		return retryable(op, err)
	}

	if !room.IsPrivate() {
		doc, err := b.store.GetRoom(ctx, mirrorID)
		if err != nil {
			return retryable(op, err)
		}
		if len(doc.Members) < 2 {
			if err := b.store.MergeRoom(ctx, mirrorID, map[string]any{"archived": true}); err != nil {
				return retryable(op, err)
			}
		}
	}
	return nil
}

// ensurePairDoc resolves the private doc for two uids, creating the
// canonical one with seeded block flags when absent.
func (b *Bridge) ensurePairDoc(ctx context.Context, uidA, uidB string) (string, error) {
	pairKey := PairKey(uidA, uidB)
	doc, err := b.store.FindRoomByPairKey(ctx, pairKey)
	if err == nil {
		return doc.ID, nil
	}
	if !errors.Is(err, mirror.ErrDocNotFound) {
		return "", err
	}

	canonical := mirror.RoomDoc{
		ID:      CanonicalPrivateID(uidA, uidB),
		Type:    mirror.DocPrivate,
		Members: []string{uidA, uidB},
		PairKey: pairKey,
		MemberMeta: map[string]mirror.MemberMeta{
			uidA: {},
			uidB: {},
		},
	}
	if err := b.store.CreateRoom(ctx, canonical); err != nil {
		return "", err
	}
	return canonical.ID, nil
}

// SetBlockFlags mirrors a new block edge: the blocker's iBlockedPeer and the
// blocked side's blockedByOther both flip true.
func (b *Bridge) SetBlockFlags(ctx context.Context, blockerUID, blockedUID string) error {
	const op = "set_block_flags"
	if blockerUID == "" || blockedUID == "" || blockerUID == blockedUID {
		return nil
	}
	docID, err := b.ensurePairDoc(ctx, blockerUID, blockedUID)
	if err != nil {
		return retryable(op, err)
	}
	fields := map[string]any{
		"memberMeta." + blockerUID + ".iBlockedPeer":   true,
		"memberMeta." + blockedUID + ".blockedByOther": true,
	}
	if err := b.store.MergeRoom(ctx, docID, fields); err != nil {
		return retryable(op, err)
	}
	return nil
}

// ClearBlockFlags mirrors a block removal.
func (b *Bridge) ClearBlockFlags(ctx context.Context, blockerUID, blockedUID string) error {
	const op = "clear_block_flags"
	if blockerUID == "" || blockedUID == "" || blockerUID == blockedUID {
		return nil
	}
	docID, err := b.ensurePairDoc(ctx, blockerUID, blockedUID)
	if err != nil {
		return retryable(op, err)
	}
	fields := map[string]any{
		"memberMeta." + blockerUID + ".iBlockedPeer":   false,
		"memberMeta." + blockedUID + ".blockedByOther": false,
	}
	if err := b.store.MergeRoom(ctx, docID, fields); err != nil {
		return retryable(op, err)
	}
	return nil
}

// UpdateReadState publishes the reader's open/read pointers and, when the
// room's last message came from someone else, flips the summary read flag.
func (b *Bridge) UpdateReadState(ctx context.Context, room models.Room, readerID int, lastReadMirrorID string) error {
	const op = "update_read_state"

	readerUID, err := b.dir.ExternalID(ctx, readerID)
	if err != nil {
		return retryable(op, err)
	}
	if readerUID == "" {
		return nil
	}

	mirrorID, err := b.Bind(ctx, room)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"memberMeta." + readerUID + ".lastOpenedAt": now,
	}
	if lastReadMirrorID != "" {
		fields["memberMeta."+readerUID+".lastReadMessageId"] = lastReadMirrorID
	}
	if err := b.store.MergeRoom(ctx, mirrorID, fields); err != nil {
		return retryable(op, err)
	}

	doc, err := b.store.GetRoom(ctx, mirrorID)
	if err != nil {
		return retryable(op, err)
	}
	if doc.LastMessageID != "" && doc.LastMessageSenderID != "" && doc.LastMessageSenderID != readerUID {
		flip := map[string]any{
			"lastMessageIsRead": true,
			"lastMessageStatus": lastMessageRead,
		}
		if err := b.store.MergeRoom(ctx, mirrorID, flip); err != nil {
			return retryable(op, err)
		}
	}
	return nil
}

// PeerLastReadMessageID reads the peer's lastReadMessageId pointer.
// Empty when the peer has no identity, the room is unbound, or the pointer
// is absent.
func (b *Bridge) PeerLastReadMessageID(ctx context.Context, room models.Room, peerID int) (string, error) {
	const op = "peer_read_pointer"

	peerUID, err := b.dir.ExternalID(ctx, peerID)
	if err != nil {
		return "", retryable(op, err)
	}
	if peerUID == "" {
		return "", nil
	}

	if !room.MirrorID.Valid {
		return "", nil
	}
	doc, err := b.store.GetRoom(ctx, room.MirrorID.String)
	if err != nil {
		if errors.Is(err, mirror.ErrDocNotFound) {
			return "", nil
		}
		return "", retryable(op, err)
	}
	return doc.MemberMeta[peerUID].LastReadMessageID, nil
}

// GroupLastRead returns the coarse group read signal: the summary flag and
// its timestamp. A nil timestamp means no read evidence.
func (b *Bridge) GroupLastRead(ctx context.Context, room models.Room) (*time.Time, error) {
	const op = "group_last_read"

	if !room.MirrorID.Valid {
		return nil, nil
	}
	doc, err := b.store.GetRoom(ctx, room.MirrorID.String)
	if err != nil {
		if errors.Is(err, mirror.ErrDocNotFound) {
			return nil, nil
		}
		return nil, retryable(op, err)
	}
	if !doc.LastMessageIsRead || doc.LastMessageTimestamp == nil {
		return nil, nil
	}
	return doc.LastMessageTimestamp, nil
}

// MarkDeleted mirrors a delete-for-all, cleaning the lastMessage summary
// when the deleted message was the room's latest.
func (b *Bridge) MarkDeleted(ctx context.Context, room models.Room, msg models.Message, deletedBy int) error {
	const op = "mark_deleted"

	if !msg.MirrorID.Valid || !room.MirrorID.Valid {
		return nil
	}

	deleterUID, err := b.dir.ExternalID(ctx, deletedBy)
	if err != nil {
		return retryable(op, err)
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"deleted":   true,
		"deletedAt": now,
		"deletedBy": deleterUID,
		"text":      "",
	}
	if err := b.store.MergeMessage(ctx, msg.MirrorID.String, fields); err != nil {
		return retryable(op, err)
	}

	doc, err := b.store.GetRoom(ctx, room.MirrorID.String)
	if err == nil && doc.LastMessageID == msg.MirrorID.String {
		cleanup := map[string]any{
			"lastMessageText":      "This message was deleted",
			"lastMessageStatus":    lastMessageDeleted,
			"lastMessageIsRead":    true,
			"lastMessageTimestamp": now,
		}
		if err := b.store.MergeRoom(ctx, room.MirrorID.String, cleanup); err != nil {
			return retryable(op, err)
		}
	}
	return nil
}

// HideForUser mirrors a per-user hide by adding the viewer's identity to the
// message's hiddenFor list.
func (b *Bridge) HideForUser(ctx context.Context, msg models.Message, userID int) error {
	const op = "hide_for_user"

	if !msg.MirrorID.Valid {
		return nil
	}
	uid, err := b.dir.ExternalID(ctx, userID)
	if err != nil {
		return retryable(op, err)
	}
	if uid == "" {
		return nil
	}
	if err := b.store.AddMessageHiddenFor(ctx, msg.MirrorID.String, uid); err != nil {
		return retryable(op, err)
	}
	return nil
}
