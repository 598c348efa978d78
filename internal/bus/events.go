package bus

import (
	"time"

	"github.com/kostiks/snapback/internal/chat"
)

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Images    []chat.InlineData
	Metadata  map[string]any
}

// SessionKey identifies the session owning this conversation's state.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Image   *chat.InlineData
}
