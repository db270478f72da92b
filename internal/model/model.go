package model

import (
	"strings"
	"time"
)

// Запросы на расчет перевозки

type ShipmentRequest struct {
	Number string
	Data   ShipmentRequestData
}
type ShipmentRequestData struct {
	Origin       Address
	Destination  Address
	Cargo        Cargo
	Mode         Mode
	ServiceType  ServiceType
	Owner        Caller
	Status       RequestStatus
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PickupDate   time.Time
	Instructions string
}

type Address struct {
	City       string
	State      string
	PostalCode string
	Country    string
}

type Cargo struct {
	Pieces []Piece
}

type Piece struct {
	Quantity   int
	Weight     float64
	WeightUnit WeightUnit
	Length     float64
	Width      float64
	Height     float64
	DimUnit    DimUnit
	Stackable  bool
	Hazardous  bool
	// класс груза для LTL, если известен
	FreightClass string
}

type WeightUnit string

const (
	WeightUnitLB WeightUnit = "lb"
	WeightUnitKG WeightUnit = "kg"
)

type DimUnit string

const (
	DimUnitIN DimUnit = "in"
	DimUnitCM DimUnit = "cm"
)

type Mode string

const (
	ModeAir   Mode = "air"
	ModeOcean Mode = "ocean"
	ModeRoad  Mode = "road"
	// ModeAll используется только в правилах наценки и сборах
	ModeAll Mode = "all"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAir, ModeOcean, ModeRoad:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceNone      ServiceType = ""
	ServiceLTL       ServiceType = "ltl"
	ServiceFTL       ServiceType = "ftl"
	ServiceExpedited ServiceType = "expedited"
)

// Manual reports whether quotes for the service are collected from carriers
// through the token handshake instead of rate providers.
func (r ShipmentRequestData) Manual() bool {
	return r.Mode == ModeRoad && (r.ServiceType == ServiceFTL || r.ServiceType == ServiceExpedited)
}

// Lane returns the "ORIGIN-DEST" country pair used by poll policies.
func (r ShipmentRequestData) Lane() string {
	return strings.ToUpper(r.Origin.Country) + "-" + strings.ToUpper(r.Destination.Country)
}

// Пользователь, от имени которого выполняется запрос

type Caller struct {
	UserCode     string
	Organization string
	Role         Role
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// Жизненный цикл запроса

type RequestStatus string

const (
	RequestStatusRequested  RequestStatus = "requested"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusReady      RequestStatus = "ready"
	RequestStatusExpired    RequestStatus = "expired"
)

// requestTransitions is the full transition table of a shipment request.
// ready -> ready is the re-confirmation done by the handshake deadline check.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusRequested:  {RequestStatusProcessing, RequestStatusExpired},
	RequestStatusProcessing: {RequestStatusReady, RequestStatusExpired},
	RequestStatusReady:      {RequestStatusReady},
}

func CanTransition(from, to RequestStatus) bool {
	for _, s := range requestTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionSources lists every status from which to can be reached.
func TransitionSources(to RequestStatus) []RequestStatus {
	var from []RequestStatus
	for _, s := range []RequestStatus{RequestStatusRequested, RequestStatusProcessing, RequestStatusReady, RequestStatusExpired} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

func (s RequestStatus) Terminal() bool {
	return s == RequestStatusReady || s == RequestStatusExpired
}
