package domain

import "time"

// MessageKind distinguishes transcript entries.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Message is one transcript entry: a chat line, a received file, or a
// system notice such as "Video call ended: 03:12".
type Message struct {
	Kind      MessageKind
	Text      string
	Sender    UserID
	FileName  string
	FileType  string
	FileData  string // data URL, only for MessageFile
	Timestamp time.Time
}
