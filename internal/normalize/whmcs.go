package normalize

import (
	"fmt"

	"github.com/itops/hub/internal/event"
)

// TicketPayload is the request body shared by every WHMCS ticket hook.
// The boundary validates the token before handing it here.
type TicketPayload struct {
	Token  string `json:"token"`
	Ticket struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		ClientID   string `json:"client_id"`
		ClientName string `json:"client_name"`
		Message    string `json:"message"`
	} `json:"ticket"`
	Who       string `json:"who"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	FlaggedTo string `json:"flagged_to"`
	NewStatus string `json:"new_status"`
}

// TicketEvent maps a ticket hook to its domain event. Unlike the bus-fed
// normalizers, malformed input here is an error: the caller rejects the
// request and nothing reaches the bus.
func TicketEvent(action string, p *TicketPayload, adminURL string) (event.Event, error) {
	if p.Ticket.ID == "" || p.Ticket.Title == "" {
		return nil, fmt.Errorf("ticket payload missing id or title")
	}

	ticket := event.Ticket{
		ID:         p.Ticket.ID,
		Title:      p.Ticket.Title,
		ClientID:   p.Ticket.ClientID,
		ClientName: p.Ticket.ClientName,
		Message:    p.Ticket.Message,
		Link:       fmt.Sprintf("%s/supporttickets?action=view&id=%s", adminURL, p.Ticket.ID),
	}

	switch action {
	case "ticket-open":
		return &event.TicketOpen{Ticket: ticket, Who: p.Who}, nil

	case "ticket-flag":
		if p.FlaggedTo == "" {
			return nil, fmt.Errorf("ticket flag payload missing flagged_to")
		}
		return &event.TicketFlag{Ticket: ticket, Who: p.Who, FlaggedTo: p.FlaggedTo}, nil

	case "ticket-status-change":
		if p.NewStatus == "" {
			return nil, fmt.Errorf("ticket status payload missing new_status")
		}
		return &event.TicketStatusChange{Ticket: ticket, Who: p.Who, NewStatus: p.NewStatus}, nil

	case "ticket-reply-or-note":
		kind, err := ticketReplyKind(p.Type)
		if err != nil {
			return nil, err
		}
		return &event.TicketReply{
			Type:    kind,
			Ticket:  ticket,
			Who:     p.Who,
			Message: p.Message,
			Status:  p.Status,
		}, nil

	default:
		return nil, fmt.Errorf("unknown ticket action %q", action)
	}
}

// ticketReplyKind enforces the closed actor-role enumeration. Values outside
// it are malformed input, not a fallback case.
func ticketReplyKind(raw string) (event.TicketReplyKind, error) {
	switch event.TicketReplyKind(raw) {
	case event.TicketClientReply, event.TicketStaffReply, event.TicketNote:
		return event.TicketReplyKind(raw), nil
	default:
		return "", fmt.Errorf("unexpected ticket reply type %q", raw)
	}
}
