package repair

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeString(t *testing.T, s string) map[string]any {
	t.Helper()
	raw, err := Decode([]byte(s))
	require.NoError(t, err)
	return raw
}

func ptr[T any](v T) *T { return &v }

func TestNormalize_legacy(t *testing.T) {
	raw := decodeString(t, `{
		"FixNumber": "RF-0042",
		"ClientInfo": {"CityDescription": "Kyiv", "CityRef": "city-1",
			"WarehouseDescription": "Branch 5", "WarehouseRef": "wh-5",
			"LastName": "Shevchenko", "FirstName": "Taras", "MiddleName": ""},
		"TrackToFix": 20450123456789,
		"TrackToClient": "20450999",
		"Comunacation": [{"date": "2026-05-01", "text": "Received", "author": "service"}]
	}`)

	got := Normalize(raw)

	want := &ServiceRequestData{
		RequestID: "RF-0042",
		ClientInfo: &ClientInfo{
			City: "Kyiv", CityRef: ptr("city-1"),
			Warehouse: "Branch 5", WarehouseRef: ptr("wh-5"),
			LastName: "Shevchenko", FirstName: "Taras",
		},
		Shipment:         Shipment{TTN: ptr("20450123456789"), StatusHistory: []StatusHistoryItem{}},
		RepairOptions:    []RepairOption{},
		Comments:         []CommentItem{{Date: "2026-05-01", Text: "Received", Author: "service"}},
		Questions:        []QuestionItem{},
		CallRequests:     []CallRequestItem{},
		FinalInvoice:     []InvoiceItem{},
		PaymentStatus:    false,
		ReturnTTN:        ptr("20450999"),
		ReturnTTNHistory: []StatusHistoryItem{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_snakeCase(t *testing.T) {
	raw := decodeString(t, `{
		"request_id": "RF-7",
		"agreement_at": "2026-05-02T10:00:00Z",
		"status_history": [{"timestamp": "2026-05-02", "status": "in transit"}, {"date": "2026-05-03", "status": "delivered"}],
		"preinspection": "Propeller jammed",
		"repair_options": [{"id": "o1", "title": "Replace", "description": "New propeller", "price": 450}],
		"selected_option": {"id": "o1", "selected_at": "2026-05-04"},
		"call_requests": [{"date": "2026-05-05", "userComment": "after 18:00"}],
		"final_price": 0,
		"payment_status": "pending",
		"monopay_url": "https://pay.example/abc",
		"return_ttn_history": [{"date": "2026-05-06", "status": "sent"}]
	}`)

	got := Normalize(raw)

	assert.Equal(t, "RF-7", got.RequestID)
	assert.Nil(t, got.ClientInfo)
	assert.True(t, got.ClientAcceptedTerms.Accepted)
	assert.Equal(t, ptr("2026-05-02T10:00:00Z"), got.ClientAcceptedTerms.AcceptedAt)
	assert.Equal(t, []StatusHistoryItem{
		{Date: "2026-05-02", Status: "in transit"},
		{Date: "2026-05-03", Status: "delivered"},
	}, got.Shipment.StatusHistory)
	assert.Equal(t, "Propeller jammed", got.Complaint)
	assert.Equal(t, []RepairOption{{ID: "o1", Title: "Replace", Description: "New propeller", Price: 450}}, got.RepairOptions)
	assert.Equal(t, ptr("o1"), got.SelectedRepairOptionID)
	assert.Equal(t, ptr("2026-05-04"), got.SelectedRepairConfirmedAt)
	assert.Equal(t, []CallRequestItem{{Date: "2026-05-05", UserComment: "after 18:00"}}, got.CallRequests)
	require.NotNil(t, got.FinalPrice, "zero price is kept")
	assert.Zero(t, *got.FinalPrice)
	assert.Equal(t, "pending", got.PaymentStatus)
	assert.Equal(t, ptr("https://pay.example/abc"), got.MonopayURL)
	assert.Equal(t, []StatusHistoryItem{{Date: "2026-05-06", Status: "sent"}}, got.ReturnTTNHistory)
}

func TestNormalize_canonicalWins(t *testing.T) {
	raw := decodeString(t, `{
		"requestId": "NEW", "FixNumber": "OLD", "request_id": "SNAKE",
		"clientAcceptedTerms": {"accepted": false, "acceptedAt": null},
		"agreement_at": "2026-01-01",
		"paymentStatus": true, "payment_status": "pending",
		"finalInvoice": {"not": "an array"}
	}`)

	got := Normalize(raw)

	assert.Equal(t, "NEW", got.RequestID)
	assert.False(t, got.ClientAcceptedTerms.Accepted, "explicit false is kept")
	assert.Equal(t, ptr("2026-01-01"), got.ClientAcceptedTerms.AcceptedAt)
	assert.Equal(t, true, got.PaymentStatus)
	assert.Equal(t, []InvoiceItem{}, got.FinalInvoice)
}

func TestNormalize_emptyFallsThrough(t *testing.T) {
	raw := decodeString(t, `{"requestId": "", "FixNumber": "RF-1", "monopayUrl": "", "monopay_url": "https://m"}`)

	got := Normalize(raw)

	assert.Equal(t, "RF-1", got.RequestID)
	assert.Equal(t, ptr("https://m"), got.MonopayURL)
}

func TestNormalize_empty(t *testing.T) {
	got := Normalize(map[string]any{})

	assert.Empty(t, got.RequestID)
	assert.Nil(t, got.ClientInfo)
	assert.Nil(t, got.FinalPrice)
	assert.Equal(t, false, got.PaymentStatus)
	assert.NotNil(t, got.Comments)
	assert.NotNil(t, got.Shipment.StatusHistory)
}

func TestDecode_rejectsNonObject(t *testing.T) {
	_, err := Decode([]byte(`[1,2]`))
	assert.Error(t, err)
}

// jsonPaths lists the dotted json names of every leaf field of t, stopping
// at slices and at the nested types listed in stop.
func jsonPaths(t reflect.Type, prefix string, stop map[reflect.Type]bool) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		path := prefix + name
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && !stop[ft] {
			out = append(out, jsonPaths(ft, path+".", stop)...)
			continue
		}
		out = append(out, path)
	}
	return out
}

func TestRequestFields_coverEveryField(t *testing.T) {
	mapped := map[string]bool{}
	for _, m := range requestFields {
		mapped[m.Field] = true
		assert.NotNil(t, m.apply, "mapping %s has no apply", m.Field)
	}
	stop := map[reflect.Type]bool{reflect.TypeOf(ClientInfo{}): true}
	for _, path := range jsonPaths(reflect.TypeOf(ServiceRequestData{}), "", stop) {
		assert.True(t, mapped[path], "no mapping entry for %s", path)
	}
	assert.Len(t, requestFields, len(mapped), "duplicate mapping entries")
}

func TestClientInfoFields_coverEveryField(t *testing.T) {
	mapped := map[string]bool{}
	for _, f := range clientInfoFields {
		mapped[f.Field] = true
	}
	for _, path := range jsonPaths(reflect.TypeOf(ClientInfo{}), "", nil) {
		assert.True(t, mapped[path], "no client info mapping for %s", path)
	}
}

func TestNormalize_pascalClientInfoWins(t *testing.T) {
	raw := decodeString(t, `{
		"requestId": "RF-9",
		"ClientInfo": {"CityDescription": "Lviv", "LastName": "Franko"},
		"clientInfo": {"city": "Odesa", "lastName": "Ukrainka"}
	}`)

	got := Normalize(raw)

	require.NotNil(t, got.ClientInfo)
	assert.Equal(t, "Lviv", got.ClientInfo.City)
	assert.Equal(t, "Franko", got.ClientInfo.LastName)

	got = Normalize(decodeString(t, `{"clientInfo": {"city": "Odesa"}}`))
	require.NotNil(t, got.ClientInfo)
	assert.Equal(t, "Odesa", got.ClientInfo.City, "camelCase is the fallback")
}
