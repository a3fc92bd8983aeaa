package repair

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"
)

const pdfFamily = "summary"

// SummaryPDF renders a printable summary of a service request to w. When
// fontPath names a TrueType font it is embedded so Cyrillic text survives;
// otherwise the core Helvetica font is used and text is mapped to cp1252.
func SummaryPDF(w io.Writer, d *ServiceRequestData, fontPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	family := "Helvetica"
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if fontPath != "" {
		pdf.AddUTF8Font(pdfFamily, "", fontPath)
		pdf.AddUTF8Font(pdfFamily, "B", fontPath)
		family = pdfFamily
		tr = func(s string) string { return s }
	}
	pdf.SetTitle("Service request "+d.RequestID, true)
	pdf.AddPage()

	pdf.SetFont(family, "B", 18)
	pdf.SetFillColor(240, 240, 240)
	pdf.Rect(10, 10, 190, 14, "F")
	pdf.SetXY(12, 12)
	pdf.Cell(186, 10, tr("Service request "+d.RequestID))
	pdf.Ln(18)

	section := func(title string) {
		pdf.SetFont(family, "B", 13)
		pdf.SetFillColor(245, 245, 245)
		pdf.CellFormat(190, 8, tr(title), "", 1, "L", true, 0, "")
		pdf.Ln(2)
	}
	row := func(label, value string) {
		if value == "" {
			value = "-"
		}
		pdf.SetFont(family, "", 10)
		pdf.CellFormat(50, 7, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont(family, "B", 10)
		pdf.MultiCell(140, 7, tr(value), "", "L", false)
	}

	section("Client")
	if ci := d.ClientInfo; ci != nil {
		row("Name", joinNonEmpty(ci.LastName, ci.FirstName, ci.MiddleName))
		row("City", ci.City)
		row("Warehouse", ci.Warehouse)
	} else {
		row("Name", "")
	}
	terms := "No"
	if d.ClientAcceptedTerms.Accepted {
		terms = "Yes"
		if at := d.ClientAcceptedTerms.AcceptedAt; at != nil {
			terms += " (" + *at + ")"
		}
	}
	row("Terms accepted", terms)
	pdf.Ln(3)

	section("Shipment")
	row("Inbound TTN", deref(d.Shipment.TTN))
	for _, h := range d.Shipment.StatusHistory {
		row(h.Date, h.Status)
	}
	row("Return TTN", deref(d.ReturnTTN))
	pdf.Ln(3)

	section("Complaint")
	row("Description", d.Complaint)
	pdf.Ln(3)

	if len(d.RepairOptions) > 0 {
		section("Repair options")
		selected := deref(d.SelectedRepairOptionID)
		for _, o := range d.RepairOptions {
			label := o.Title
			if label == "" {
				label = o.ID
			}
			if o.ID == selected {
				label += " *"
			}
			row(label, fmt.Sprintf("%s (%s)", o.Description, money(o.Price)))
		}
		pdf.Ln(3)
	}

	if len(d.FinalInvoice) > 0 || d.FinalPrice != nil {
		section("Invoice")
		pdf.SetFont(family, "B", 10)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(150, 7, tr("Item"), "1", 0, "L", true, 0, "")
		pdf.CellFormat(40, 7, tr("Price"), "1", 1, "R", true, 0, "")
		pdf.SetFont(family, "", 10)
		for _, it := range d.FinalInvoice {
			pdf.CellFormat(150, 7, tr(it.Description), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 7, money(it.Price), "1", 1, "R", false, 0, "")
		}
		if d.FinalPrice != nil {
			pdf.SetFont(family, "B", 10)
			pdf.CellFormat(150, 7, tr("Total"), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 7, money(*d.FinalPrice), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(3)
		row("Payment", paymentLabel(d.PaymentStatus))
	}

	if len(d.Comments) > 0 {
		section("Comments")
		for _, c := range d.Comments {
			row(joinNonEmpty(c.Date, c.Author), c.Text)
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("repair: render summary: %w", err)
	}
	return pdf.Output(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func paymentLabel(status any) string {
	switch s := status.(type) {
	case bool:
		if s {
			return "Paid"
		}
		return "Not paid"
	case string:
		return s
	default:
		return ""
	}
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
