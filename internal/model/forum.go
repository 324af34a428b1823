package model

import (
	"time"

	"github.com/google/uuid"
)

// Node is a forum (or sub-forum) that threads are filed under.
type Node struct {
	ID           int64   `json:"id,string"   db:"id"`
	DisplayOrder int32   `json:"displayOrder" db:"display_order"`
	Title        string  `json:"title"        db:"title"`
	Description  *string `json:"description,omitempty" db:"description"`
}

// Thread is an ordered discussion inside a node.
//
// DENORMALIZED FIELDS:
// FirstPost* and LastPost* mirror the first and latest post so a node listing
// can be rendered without touching the posts table. They are written after
// the post itself and can briefly trail it.
//
// BucketID shards a node's thread listing by calendar month (see BucketFor).
type Thread struct {
	ID              int64     `json:"id,string"`
	NodeID          int64     `json:"nodeId,string"`
	BucketID        int32     `json:"bucketId"`
	Title           string    `json:"title"`
	Subtitle        *string   `json:"subtitle,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	FirstPostID     int64     `json:"firstPostId,string"`
	FirstPostUserID *int64    `json:"firstPostUserId,omitempty"`
	LastPostID      int64     `json:"lastPostId,string"`
	LastPostUserID  *int64    `json:"lastPostUserId,omitempty"`
}

// Post is one contribution to a thread.
// A post never knows its own position; PostPosition is the only ordering authority.
type Post struct {
	ID        int64     `json:"id,string"`
	ThreadID  int64     `json:"threadId,string"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    *int64    `json:"userId,omitempty"` // nil for guests
	UgcID     uuid.UUID `json:"ugcId"`
}

// PostPosition maps a 1-based ordinal within a thread to a post.
type PostPosition struct {
	ThreadID int64 `json:"threadId,string"`
	Position int64 `json:"position"`
	PostID   int64 `json:"postId,string"`
}

// Ugc is a user-generated content blob.
//
// Content is stored raw. Sanitizing it is the renderer's job.
// IPID is a name-based UUID derived from the author's address; the address
// itself is never stored.
type Ugc struct {
	ID        uuid.UUID  `json:"id"`
	IPID      *uuid.UUID `json:"-"`
	UserID    *int64     `json:"userId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Content   string     `json:"content"`
}
