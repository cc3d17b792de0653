package mirror

import "time"

// Room kinds in the mirror contract.
const (
	DocPrivate = "private"
	DocGroup   = "group"
)

// MemberMeta is per-member state inside a room document. The mobile client
// writes lastOpenedAt/lastReadMessageId; both sides write the block flags.
type MemberMeta struct {
	IBlockedPeer      bool       `bson:"iBlockedPeer"`
	BlockedByOther    bool       `bson:"blockedByOther"`
	LastOpenedAt      *time.Time `bson:"lastOpenedAt,omitempty"`
	LastReadMessageID string     `bson:"lastReadMessageId,omitempty"`
}

// RoomDoc is the shared remote representation of a room. It is also written
// by the external mobile client, so writes here must merge, never clobber.
type RoomDoc struct {
	ID                   string                `bson:"_id,omitempty"`
	Type                 string                `bson:"type"`
	Members              []string              `bson:"members"`
	PairKey              string                `bson:"pairKey,omitempty"`
	GroupName            string                `bson:"groupName,omitempty"`
	AdminIDs             []string              `bson:"adminIds,omitempty"`
	MemberMeta           map[string]MemberMeta `bson:"memberMeta,omitempty"`
	LastMessageID        string                `bson:"lastMessageId,omitempty"`
	LastMessageText      string                `bson:"lastMessageText,omitempty"`
	LastMessageSenderID  string                `bson:"lastMessageSenderId,omitempty"`
	LastMessageStatus    string                `bson:"lastMessageStatus,omitempty"`
	LastMessageIsRead    bool                  `bson:"lastMessageIsRead,omitempty"`
	LastMessageTimestamp *time.Time            `bson:"lastMessageTimestamp,omitempty"`
	Archived             bool                  `bson:"archived,omitempty"`
	CreatedAt            time.Time             `bson:"createdAt,omitempty"`
	UpdatedAt            time.Time             `bson:"updatedAt,omitempty"`
}

// MessageDoc is a mirrored message. CreatedAt is assigned by the mirror
// (ordering key); CreatedAtClient is the sender-side stamp.
type MessageDoc struct {
	ID              string     `bson:"_id,omitempty"`
	RoomID          string     `bson:"room_id"`
	Type            string     `bson:"type"`
	Text            string     `bson:"text"`
	SenderID        string     `bson:"senderId"`
	Deleted         bool       `bson:"deleted"`
	DeletedAt       *time.Time `bson:"deletedAt,omitempty"`
	DeletedBy       string     `bson:"deletedBy,omitempty"`
	HiddenFor       []string   `bson:"hiddenFor"`
	CreatedAt       time.Time  `bson:"createdAt"`
	CreatedAtClient time.Time  `bson:"createdAtClient"`
}
