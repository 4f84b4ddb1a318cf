package models

import (
	"time"

	"github.com/Yonatanhaile/tigray-marketplace/internal/utils"
)

// MaxMessageLength bounds the text of a single message.
const MaxMessageLength = 5000

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL  string `bson:"url" json:"url"`
	Type string `bson:"type" json:"type"` // "image", "pdf", "file"
	Name string `bson:"name,omitempty" json:"name,omitempty"`
	Size int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Message is one entry of a per-order conversation thread between the
// buyer and the seller. Messages are never edited or deleted; the read
// flag is the only mutable state and flips false to true exactly once.
type Message struct {
	Base        `bson:",inline"`
	OrderID     utils.SixID  `bson:"order_id" json:"order_id"`
	SenderID    utils.SixID  `bson:"sender_id" json:"sender_id"`
	RecipientID utils.SixID  `bson:"recipient_id" json:"recipient_id"`
	Text        string       `bson:"text" json:"text"`
	Attachments []Attachment `bson:"attachments" json:"attachments"`
	IsRead      bool         `bson:"is_read" json:"is_read"`
	ReadAt      *time.Time   `bson:"read_at,omitempty" json:"read_at,omitempty"`
	DeliveredAt time.Time    `bson:"delivered_at" json:"delivered_at"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
}
