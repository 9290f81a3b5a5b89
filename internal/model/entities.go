package model

import "time"

// IdentifierType classifies a contact or animal identifier.
type IdentifierType string

const (
	IdentEmail     IdentifierType = "email"
	IdentPhone     IdentifierType = "phone"
	IdentMicrochip IdentifierType = "microchip"
)

// Identifier maps a normalized identifier value to the entity that owns it.
// At most one of PersonID and AnimalID is set.
type Identifier struct {
	ID       int64          `json:"id"`
	Type     IdentifierType `json:"type"`
	Value    string         `json:"value"`
	PersonID *int64         `json:"person_id,omitempty"`
	AnimalID *int64         `json:"animal_id,omitempty"`
}

// Person is a canonical deduplicated person.
type Person struct {
	ID             int64     `json:"id"`
	PersonKey      string    `json:"person_key"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	SecondaryPhone string    `json:"secondary_phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrgAccount is an organizational actor (clinic, rescue group, colony
// feeding station, business) that shows up in client fields but is not a
// person. Aliases collect alternate spellings seen across sources.
type OrgAccount struct {
	ID         int64     `json:"id"`
	AccountKey string    `json:"account_key"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind,omitempty"`
	Aliases    []string  `json:"aliases,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Animal is a canonical animal. MergedIntoAnimalID points at the surviving
// record after an operator merge; readers must follow the chain.
type Animal struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name,omitempty"`
	Microchip          string     `json:"microchip,omitempty"`
	Sex                string     `json:"sex,omitempty"`
	Breed              string     `json:"breed,omitempty"`
	PrimaryColor       string     `json:"primary_color,omitempty"`
	SecondaryColor     string     `json:"secondary_color,omitempty"`
	Altered            bool       `json:"altered"`
	MergedIntoAnimalID *int64     `json:"merged_into_animal_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PlaceKind labels what a place is used for.
type PlaceKind string

const (
	PlaceResidence PlaceKind = "residence"
	PlaceColony    PlaceKind = "colony"
	PlaceBusiness  PlaceKind = "business"
	PlaceUnknown   PlaceKind = "unknown"
)

// Place is a canonical location. Coordinates arrive either from the source
// row or later from the external geocoder.
type Place struct {
	ID                int64     `json:"id"`
	PlaceKey          string    `json:"place_key"`
	DisplayName       string    `json:"display_name,omitempty"`
	RawAddress        string    `json:"raw_address,omitempty"`
	FormattedAddress  string    `json:"formatted_address,omitempty"`
	Kind              PlaceKind `json:"kind"`
	Lat               *float64  `json:"lat,omitempty"`
	Lng               *float64  `json:"lng,omitempty"`
	MergedIntoPlaceID *int64    `json:"merged_into_place_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
