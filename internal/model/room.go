package model

import "time"

// Room is the inventory unit being booked.  Rooms are owned by a
// property (managed elsewhere); the engine only reads room metadata
// and mutates the stock counter through the inventory ledger.
//
// Fields:
//  ID         – primary key identifier.
//  PropertyID – owning property; used to resolve the host for guard checks.
//  HostID     – user id of the property owner.
//  Name       – display name of the room.
//  BasePrice  – nightly price in minor currency units (e.g. rupiah).
//  Stock      – number of identical units currently available.
//  Capacity   – maximum guests per unit.
type Room struct {
	ID         int64     // rooms.id
	PropertyID int64     // rooms.property_id
	HostID     int64     // rooms.host_id
	Name       string    // rooms.name
	BasePrice  int64     // rooms.base_price
	Stock      int       // rooms.stock
	Capacity   int       // rooms.capacity
	CreatedAt  time.Time // rooms.created_at
	UpdatedAt  time.Time // rooms.updated_at
}

// NonAvailability marks a single blackout day for a room.  Blackout
// days are created by the host independently of bookings and act as a
// hard availability constraint for any overlapping reservation.
type NonAvailability struct {
	ID     int64     // room_non_availabilities.id
	RoomID int64     // room_non_availabilities.room_id
	Date   time.Time // room_non_availabilities.date (midnight UTC)
	Reason string    // room_non_availabilities.reason
}

// AdjustmentType distinguishes how a seasonal rate modifies the base
// nightly price.
type AdjustmentType string

const (
	// AdjustmentPercentage adds a percentage of the base price per night.
	AdjustmentPercentage AdjustmentType = "PERCENTAGE"
	// AdjustmentNominal adds a fixed amount in minor units per night.
	AdjustmentNominal AdjustmentType = "NOMINAL"
)

// SeasonalRate adjusts the nightly price of a room over a half-open
// date interval [StartDate, EndDate).  The catalog module guarantees
// that active rates for the same room never overlap, so at most one
// rate matches any given night.
//
// Fields:
//  ID              – primary key identifier.
//  RoomID          – room the rate applies to.
//  StartDate       – first night the rate applies (inclusive).
//  EndDate         – first night the rate no longer applies (exclusive).
//  AdjustmentType  – PERCENTAGE or NOMINAL.
//  AdjustmentValue – percentage points or minor units, per type.
//  Active          – inactive rates are ignored by pricing.
type SeasonalRate struct {
	ID              int64          // seasonal_rates.id
	RoomID          int64          // seasonal_rates.room_id
	StartDate       time.Time      // seasonal_rates.start_date
	EndDate         time.Time      // seasonal_rates.end_date
	AdjustmentType  AdjustmentType // seasonal_rates.adjustment_type
	AdjustmentValue int64          // seasonal_rates.adjustment_value
	Active          bool           // seasonal_rates.active
}

// Contains reports whether the rate interval covers the given night.
// The interval is half-open: start inclusive, end exclusive.
func (r SeasonalRate) Contains(night time.Time) bool {
	return !night.Before(r.StartDate) && night.Before(r.EndDate)
}
