// Package profile stores the per-user portal document: UI preferences,
// delivery details for repair shipments, and the user's service requests.
package profile

import "time"

// Defaults for a user without a stored document.
const (
	DefaultLanguage = "uk"

	MapSatellite = "satellite"
	MapStreet    = "street"
)

// Details are the contact and delivery fields reused by repair requests.
type Details struct {
	LastName     string `json:"lastName"`
	FirstName    string `json:"firstName"`
	MiddleName   string `json:"middleName"`
	City         string `json:"city"`
	CityRef      string `json:"cityRef"`
	Warehouse    string `json:"warehouse"`
	WarehouseRef string `json:"warehouseRef"`
}

// ServiceRequestRef points at a repair request in the service portal.
type ServiceRequestRef struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
}

// Document is everything the portal remembers about a user.
type Document struct {
	Language        string              `json:"language"`
	MapType         string              `json:"mapType"`
	PhoneNumber     string              `json:"phoneNumber,omitempty"`
	Profile         Details             `json:"profile"`
	ServiceRequests []ServiceRequestRef `json:"serviceRequests"`
	UpdatedAt       *time.Time          `json:"updatedAt,omitempty"`
}

// NewDocument returns the defaults served for unknown users.
func NewDocument() Document {
	return Document{
		Language:        DefaultLanguage,
		MapType:         MapSatellite,
		ServiceRequests: []ServiceRequestRef{},
	}
}

// fill replaces zero fields with defaults after decoding a stored document.
func (d *Document) fill() {
	if d.Language == "" {
		d.Language = DefaultLanguage
	}
	if d.MapType == "" {
		d.MapType = MapSatellite
	}
	if d.ServiceRequests == nil {
		d.ServiceRequests = []ServiceRequestRef{}
	}
}

// DetailsPatch updates the non-nil fields of Details.
type DetailsPatch struct {
	LastName     *string `json:"lastName,omitempty"`
	FirstName    *string `json:"firstName,omitempty"`
	MiddleName   *string `json:"middleName,omitempty"`
	City         *string `json:"city,omitempty"`
	CityRef      *string `json:"cityRef,omitempty"`
	Warehouse    *string `json:"warehouse,omitempty"`
	WarehouseRef *string `json:"warehouseRef,omitempty"`
}

func (p *DetailsPatch) apply(d *Details) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&d.LastName, p.LastName)
	set(&d.FirstName, p.FirstName)
	set(&d.MiddleName, p.MiddleName)
	set(&d.City, p.City)
	set(&d.CityRef, p.CityRef)
	set(&d.Warehouse, p.Warehouse)
	set(&d.WarehouseRef, p.WarehouseRef)
}

// Patch is a partial document update. Nil fields are left unchanged.
type Patch struct {
	Language    *string       `json:"language,omitempty"`
	MapType     *string       `json:"mapType,omitempty"`
	PhoneNumber *string       `json:"phoneNumber,omitempty"`
	Profile     *DetailsPatch `json:"profile,omitempty"`
}
