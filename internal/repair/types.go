// Package repair is the client of the repair portal: it reads and updates
// service requests and normalizes the portal's mixed naming conventions into
// one request shape.
package repair

// StatusHistoryItem is one shipment status change.
type StatusHistoryItem struct {
	Date    string `json:"date"`
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

// RepairOption is a repair offer the client can choose.
type RepairOption struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// CommentItem is one message in the request conversation.
type CommentItem struct {
	Date   string `json:"date"`
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// QuestionItem is a client question and the service answer, if any.
type QuestionItem struct {
	Question     string  `json:"question"`
	QuestionDate string  `json:"questionDate"`
	Answer       *string `json:"answer"`
	AnswerDate   *string `json:"answerDate"`
}

// CallRequestItem is a callback request.
type CallRequestItem struct {
	Date           string `json:"date"`
	UserComment    string `json:"userComment"`
	ManagerComment string `json:"managerComment,omitempty"`
}

// InvoiceItem is one line of the final invoice.
type InvoiceItem struct {
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// ClientInfo is the return delivery recipient.
type ClientInfo struct {
	City         string  `json:"city"`
	CityRef      *string `json:"cityRef"`
	Warehouse    string  `json:"warehouse"`
	WarehouseRef *string `json:"warehouseRef"`
	LastName     string  `json:"lastName"`
	FirstName    string  `json:"firstName"`
	MiddleName   string  `json:"middleName"`
}

// AcceptedTerms records whether the client accepted the service terms.
type AcceptedTerms struct {
	Accepted   bool    `json:"accepted"`
	AcceptedAt *string `json:"acceptedAt"`
}

// Shipment is the inbound delivery to the service center.
type Shipment struct {
	TTN           *string             `json:"ttn"`
	StatusHistory []StatusHistoryItem `json:"statusHistory"`
}

// ServiceRequestData is the normalized service request.
type ServiceRequestData struct {
	RequestID                 string            `json:"requestId"`
	ClientInfo                *ClientInfo       `json:"clientInfo"`
	ClientAcceptedTerms       AcceptedTerms     `json:"clientAcceptedTerms"`
	Shipment                  Shipment          `json:"shipment"`
	Complaint                 string            `json:"complaint"`
	RepairOptions             []RepairOption    `json:"repairOptions"`
	SelectedRepairOptionID    *string           `json:"selectedRepairOptionId"`
	SelectedRepairConfirmedAt *string           `json:"selectedRepairConfirmedAt"`
	Comments                  []CommentItem     `json:"comments"`
	Questions                 []QuestionItem    `json:"questions"`
	CallRequests              []CallRequestItem `json:"callRequests"`
	FinalInvoice              []InvoiceItem     `json:"finalInvoice"`
	FinalPrice                *float64          `json:"finalPrice"`
	// PaymentStatus is false, true or a portal status string.
	PaymentStatus    any                 `json:"paymentStatus"`
	MonopayURL       *string             `json:"monopayUrl"`
	ReturnTTN        *string             `json:"returnTtn"`
	ReturnTTNHistory []StatusHistoryItem `json:"returnTtnHistory"`
}

// ServiceCenter is a repair location.
type ServiceCenter struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
}

// RequestSummary is one entry of a phone's request list.
type RequestSummary struct {
	ID     string `json:"id"`
	Number string `json:"Number"`
	Date   string `json:"Date"`
}

// HistoryEntry is one communication history line.
type HistoryEntry struct {
	Desc string `json:"Desc"`
	Date string `json:"Date"`
}

// ClientInfoUpdate changes the return delivery recipient. City and
// TWarehouse are Nova Poshta refs.
type ClientInfoUpdate struct {
	LastName   string `json:"LastName"`
	FirstName  string `json:"FirstName"`
	MiddleName string `json:"MiddleName"`
	City       string `json:"City"`
	TWarehouse string `json:"tWarehouse"`
}

// NewRequest creates a service request.
type NewRequest struct {
	PhoneNumber string `json:"phone_number"`
	Service     string `json:"Service"`
	Disc        string `json:"Disc"`
	LastName    string `json:"LastName"`
	FirstName   string `json:"FirstName"`
	MiddleName  string `json:"MiddleName"`
	City        string `json:"City"`
	TWarehouse  string `json:"tWarehouse"`
}

// Created is the portal's reply to a new request.
type Created struct {
	ID       string `json:"ID"`
	Status   string `json:"Status"`
	LastName any    `json:"LastName"`
}

// Label is one localized UI string.
type Label struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}
