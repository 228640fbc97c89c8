package service

import (
	"bytes"
	"encoding/csv"
)

const InviteTemplateFilename = "bulk-invitations-template.csv"

var inviteTemplateHeaders = []string{"Full Name", "Email", "Ticket Type", "Company", "Personal Message"}

// InviteTemplateCSV renders the guest list template offered next to the
// upload button.
func InviteTemplateCSV(ticketTypes []string) ([]byte, error) {
	ticket := "VIP"
	if len(ticketTypes) > 0 && ticketTypes[0] != "" {
		ticket = ticketTypes[0]
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.Write(inviteTemplateHeaders)
	_ = writer.Write([]string{"Jane Doe", "jane.doe@example.com", ticket, "Example Co", "Looking forward to seeing you at our booth!"})
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
