// Package fleet owns the per-boat data of the portal: boat credentials and
// ownership links, reservoirs with their points and delivery history,
// reservoir share links, and distributor access grants.
package fleet

import "time"

// Boat is a registered bait boat. PasswordHash is a bcrypt hash and never
// leaves the package.
type Boat struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Firmware     string `json:"firmware"`
	ChipType     string `json:"chipType,omitempty"`
	PasswordHash string `json:"-"`
}

// BoatInfo is the public view of a boat.
type BoatInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Firmware string `json:"firmware"`
	ChipType string `json:"chipType,omitempty"`
}

// Info returns the public view of b.
func (b *Boat) Info() BoatInfo {
	return BoatInfo{ID: b.ID, Name: b.Name, Firmware: b.Firmware, ChipType: b.ChipType}
}

// VerifyResult answers a boat credential check.
type VerifyResult struct {
	Valid    bool      `json:"valid"`
	BoatInfo *BoatInfo `json:"boatInfo,omitempty"`
}

// Link records that a user owns a boat.
type Link struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email,omitempty"`
	BoatID   string    `json:"boatId"`
	LinkedAt time.Time `json:"linkedAt"`
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Reservoir is a named water body a boat works on.
type Reservoir struct {
	ID          string `json:"id"`
	BoatID      string `json:"boatId"`
	Number      int    `json:"number"`
	Name        string `json:"name"`
	BasePoint   LatLng `json:"basePoint"`
	PointsCount int    `json:"pointsCount"`
}

// Point is a georeferenced spot within a reservoir.
type Point struct {
	ID          string    `json:"id"`
	ReservoirID string    `json:"reservoirId"`
	Number      int       `json:"number"`
	Name        string    `json:"name"`
	Coordinates LatLng    `json:"coordinates"`
	Depth       *float64  `json:"depth,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeliveryStatus is the outcome of a bait delivery run.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryCompleted DeliveryStatus = "completed"
	DeliveryAborted   DeliveryStatus = "aborted"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryCompleted, DeliveryAborted, DeliveryFailed:
		return true
	}
	return false
}

// Delivery is one bait delivery run to a point. Duration is in seconds and
// Distance in meters.
type Delivery struct {
	ID        string         `json:"id"`
	PointID   string         `json:"pointId"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  int            `json:"duration"`
	Distance  float64        `json:"distance"`
	Status    DeliveryStatus `json:"status"`
}

// SharedPoint is a point as carried by a share snapshot.
type SharedPoint struct {
	Name        string   `json:"name"`
	Coordinates LatLng   `json:"coordinates"`
	Depth       *float64 `json:"depth,omitempty"`
}

// SharedReservoirData is the frozen copy of a reservoir behind a share link.
type SharedReservoirData struct {
	Name      string        `json:"name"`
	BasePoint LatLng        `json:"basePoint"`
	Points    []SharedPoint `json:"points"`
}

// Share is a time-limited reservoir share link.
type Share struct {
	Key         string              `json:"shareKey"`
	ReservoirID string              `json:"reservoirId"`
	Snapshot    SharedReservoirData `json:"snapshot"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Distributor is a dealer that services boats in a region.
type Distributor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Permissions are what an owner lets a distributor do with a boat.
type Permissions struct {
	ViewSettings   bool `json:"viewSettings"`
	EditSettings   bool `json:"editSettings"`
	ViewReservoirs bool `json:"viewReservoirs"`
}

// Access is the distributor grant of one boat. An empty DistributorID means
// no distributor has access.
type Access struct {
	BoatID        string      `json:"boatId"`
	DistributorID string      `json:"distributorId,omitempty"`
	Permissions   Permissions `json:"permissions"`
}

// DistributorBoat is a boat as seen by the distributor it is shared with.
type DistributorBoat struct {
	ID            string      `json:"id"`
	DistributorID string      `json:"distributorId"`
	BoatID        string      `json:"boatId"`
	BoatName      string      `json:"boatName"`
	OwnerEmail    string      `json:"ownerEmail"`
	Permissions   Permissions `json:"permissions"`
}
