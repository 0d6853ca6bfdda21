package valueobjects

import "fmt"

// ChatUserId identifies a chat-platform account, mirroring the numeric
// account identifiers the upstream chat transport assigns.
type ChatUserId int64

// TicketId is a database-assigned, dense sequence number used to derive the
// human-facing local protocol.
type TicketId int64

// LocalProtocol formats a ticket id as the zero-padded local protocol shown
// to users, e.g. LOC000123.
func (t TicketId) LocalProtocol() string {
	return fmt.Sprintf("LOC%06d", int64(t))
}
