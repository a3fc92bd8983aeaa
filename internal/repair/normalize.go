package repair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// fieldMapping names the portal fields a normalized field is read from. The
// canonical camelCase path is tried first, then Legacy (PascalCase) and
// Snake (snake_case) names in order. legacyFirst moves Legacy ahead of the
// canonical path. Paths may be dotted to reach into
// nested objects.
type fieldMapping struct {
	Field  string
	Legacy []string
	Snake  []string
	// nullish sources are skipped only when absent or null; otherwise empty
	// strings, zero and false are skipped too.
	nullish     bool
	legacyFirst bool
	apply       func(src string, v any, d *ServiceRequestData)
}

func (m fieldMapping) sources() []string {
	out := make([]string, 0, 1+len(m.Legacy)+len(m.Snake))
	if m.legacyFirst {
		out = append(out, m.Legacy...)
		out = append(out, m.Field)
	} else {
		out = append(out, m.Field)
		out = append(out, m.Legacy...)
	}
	return append(out, m.Snake...)
}

// requestFields maps every ServiceRequestData field.
var requestFields = []fieldMapping{
	{Field: "requestId", Legacy: []string{"FixNumber"}, Snake: []string{"request_id"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.RequestID = stringify(v) }},
	{Field: "clientInfo", Legacy: []string{"ClientInfo"}, legacyFirst: true,
		apply: func(_ string, v any, d *ServiceRequestData) { d.ClientInfo = normalizeClientInfo(v) }},
	{Field: "clientAcceptedTerms.accepted", Snake: []string{"agreement_at"}, nullish: true,
		apply: func(src string, v any, d *ServiceRequestData) {
			if src == "agreement_at" {
				d.ClientAcceptedTerms.Accepted = true
				return
			}
			d.ClientAcceptedTerms.Accepted = truthy(v)
		}},
	{Field: "clientAcceptedTerms.acceptedAt", Snake: []string{"agreement_at"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.ClientAcceptedTerms.AcceptedAt = stringPtr(v) }},
	{Field: "shipment.ttn", Legacy: []string{"TrackToFix"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.Shipment.TTN = stringPtr(v) }},
	{Field: "shipment.statusHistory", Snake: []string{"status_history"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.Shipment.StatusHistory = normalizeHistory(v) }},
	{Field: "complaint", Snake: []string{"preinspection"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.Complaint = stringify(v) }},
	{Field: "repairOptions", Snake: []string{"repair_options"},
		apply: func(_ string, v any, d *ServiceRequestData) { decodeSlice(v, &d.RepairOptions) }},
	{Field: "selectedRepairOptionId", Snake: []string{"selected_option.id"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.SelectedRepairOptionID = stringPtr(v) }},
	{Field: "selectedRepairConfirmedAt", Snake: []string{"selected_option.selected_at"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.SelectedRepairConfirmedAt = stringPtr(v) }},
	{Field: "comments", Legacy: []string{"Comunacation"},
		apply: func(_ string, v any, d *ServiceRequestData) { decodeSlice(v, &d.Comments) }},
	{Field: "questions",
		apply: func(_ string, v any, d *ServiceRequestData) { decodeSlice(v, &d.Questions) }},
	{Field: "callRequests", Snake: []string{"call_requests"},
		apply: func(_ string, v any, d *ServiceRequestData) { decodeSlice(v, &d.CallRequests) }},
	{Field: "finalInvoice",
		apply: func(_ string, v any, d *ServiceRequestData) {
			if _, ok := v.([]any); ok {
				decodeSlice(v, &d.FinalInvoice)
			}
		}},
	{Field: "finalPrice", Snake: []string{"final_price"}, nullish: true,
		apply: func(_ string, v any, d *ServiceRequestData) { d.FinalPrice = floatPtr(v) }},
	{Field: "paymentStatus", Snake: []string{"payment_status"}, nullish: true,
		apply: func(_ string, v any, d *ServiceRequestData) {
			switch pv := v.(type) {
			case bool:
				d.PaymentStatus = pv
			default:
				d.PaymentStatus = stringify(pv)
			}
		}},
	{Field: "monopayUrl", Snake: []string{"monopay_url"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.MonopayURL = stringPtr(v) }},
	{Field: "returnTtn", Legacy: []string{"TrackToClient"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.ReturnTTN = stringPtr(v) }},
	{Field: "returnTtnHistory", Snake: []string{"return_ttn_history"},
		apply: func(_ string, v any, d *ServiceRequestData) { d.ReturnTTNHistory = normalizeHistory(v) }},
}

// clientInfoFields maps every ClientInfo field. Paths are relative to the
// client info object.
var clientInfoFields = []struct {
	Field   string
	Sources []string
	apply   func(v any, c *ClientInfo)
}{
	{"city", []string{"CityDescription", "City", "city"}, func(v any, c *ClientInfo) { c.City = stringify(v) }},
	{"cityRef", []string{"CityRef", "cityRef"}, func(v any, c *ClientInfo) { c.CityRef = stringPtr(v) }},
	{"warehouse", []string{"WarehouseDescription", "tWarehouse", "warehouse"}, func(v any, c *ClientInfo) { c.Warehouse = stringify(v) }},
	{"warehouseRef", []string{"WarehouseRef", "warehouseRef"}, func(v any, c *ClientInfo) { c.WarehouseRef = stringPtr(v) }},
	{"lastName", []string{"LastName", "lastName"}, func(v any, c *ClientInfo) { c.LastName = stringify(v) }},
	{"firstName", []string{"FirstName", "firstName"}, func(v any, c *ClientInfo) { c.FirstName = stringify(v) }},
	{"middleName", []string{"MiddleName", "middleName"}, func(v any, c *ClientInfo) { c.MiddleName = stringify(v) }},
}

// Decode parses a portal response body, keeping numbers exact so long
// tracking numbers survive stringification.
func Decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("repair: decode request: %w", err)
	}
	return raw, nil
}

// Normalize converts a raw portal request into ServiceRequestData. Missing
// collections become empty slices and paymentStatus defaults to false.
func Normalize(raw map[string]any) *ServiceRequestData {
	d := &ServiceRequestData{
		Shipment:         Shipment{StatusHistory: []StatusHistoryItem{}},
		RepairOptions:    []RepairOption{},
		Comments:         []CommentItem{},
		Questions:        []QuestionItem{},
		CallRequests:     []CallRequestItem{},
		FinalInvoice:     []InvoiceItem{},
		PaymentStatus:    false,
		ReturnTTNHistory: []StatusHistoryItem{},
	}
	for _, m := range requestFields {
		for _, src := range m.sources() {
			v, ok := lookup(raw, src)
			if !ok || v == nil {
				continue
			}
			if !m.nullish && !truthy(v) {
				continue
			}
			m.apply(src, v, d)
			break
		}
	}
	return d
}

func normalizeClientInfo(v any) *ClientInfo {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	c := &ClientInfo{}
	for _, f := range clientInfoFields {
		for _, src := range f.Sources {
			if fv, ok := obj[src]; ok && truthy(fv) {
				f.apply(fv, c)
				break
			}
		}
	}
	return c
}

func normalizeHistory(v any) []StatusHistoryItem {
	items, ok := v.([]any)
	if !ok {
		return []StatusHistoryItem{}
	}
	out := make([]StatusHistoryItem, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		date := stringify(obj["date"])
		if date == "" {
			date = stringify(obj["timestamp"])
		}
		out = append(out, StatusHistoryItem{
			Date:    date,
			Status:  stringify(obj["status"]),
			Comment: stringify(obj["comment"]),
		})
	}
	return out
}

// lookup resolves a dotted path in raw.
func lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// truthy follows the portal's notion of an empty value: null, "", 0 and
// false are empty; arrays and objects are not, even when empty.
func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case string:
		return tv != ""
	case bool:
		return tv
	case json.Number:
		f, err := tv.Float64()
		return err != nil || f != 0
	case float64:
		return tv != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case json.Number:
		return tv.String()
	case bool:
		return strconv.FormatBool(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	default:
		return ""
	}
}

func stringPtr(v any) *string {
	s := stringify(v)
	if s == "" {
		return nil
	}
	return &s
}

func floatPtr(v any) *float64 {
	var f float64
	switch tv := v.(type) {
	case json.Number:
		n, err := tv.Float64()
		if err != nil {
			return nil
		}
		f = n
	case float64:
		f = tv
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	return &f
}

// decodeSlice re-decodes a raw JSON array into out. Items that do not fit
// the target shape leave out unchanged.
func decodeSlice[T any](v any, out *[]T) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return
	}
	if items == nil {
		items = []T{}
	}
	*out = items
}
