package cli

import (
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/olekukonko/tablewriter"

	"invoicely/internal/session"
)

// RenderStatus prints v as a two-column table.
func RenderStatus(w io.Writer, v session.View) {
	number := "-"
	if v.PhoneNumber != nil {
		number = *v.PhoneNumber
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Status", "Phone number"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("  ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.Append([]string{statusLabel(v.Status), number})
	table.Render()
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusConnected:
		return Green(s.String())
	case session.StatusQR:
		return Yellow(s.String())
	default:
		return Red(s.String())
	}
}

// RenderQR draws a pairing code as a scannable terminal QR code.
func RenderQR(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
