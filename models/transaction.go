package models

import "time"

const (
	PricingSourceSimple = "simple"

	LimitSourceChargingProfile = "CP"
	LimitSourceConnector       = "CO"
)

// LastConsumption is the anchor from which the next consumption interval is
// derived: the timestamp and cumulative meter reading of the last processed
// Energy.Active.Import.Register value.
type LastConsumption struct {
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	CumulatedWh  float64   `json:"cumulated_wh" bson:"cumulated_wh"`
}

type RemoteStop struct {
	TagId     string    `json:"tag_id" bson:"tag_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

type TransactionStop struct {
	Timestamp              time.Time `json:"timestamp" bson:"timestamp"`
	MeterStop              float64   `json:"meter_stop" bson:"meter_stop"`
	TagId                  string    `json:"tag_id" bson:"tag_id"`
	UserId                 string    `json:"user_id" bson:"user_id"`
	Username               string    `json:"username" bson:"username"`
	Reason                 string    `json:"reason" bson:"reason"`
	TotalConsumptionWh     float64   `json:"total_consumption_wh" bson:"total_consumption_wh"`
	TotalInactivitySecs    int       `json:"total_inactivity_secs" bson:"total_inactivity_secs"`
	ExtraInactivitySecs    int       `json:"extra_inactivity_secs" bson:"extra_inactivity_secs"`
	ExtraInactivityComputed bool     `json:"extra_inactivity_computed" bson:"extra_inactivity_computed"`
	InactivityStatus       string    `json:"inactivity_status" bson:"inactivity_status"`
	TotalDurationSecs      int       `json:"total_duration_secs" bson:"total_duration_secs"`
	StateOfCharge          int       `json:"state_of_charge" bson:"state_of_charge"`
	SignedData             string    `json:"signed_data" bson:"signed_data"`
	Price                  float64   `json:"price" bson:"price"`
	RoundedPrice           float64   `json:"rounded_price" bson:"rounded_price"`
	PriceUnit              string    `json:"price_unit" bson:"price_unit"`
	PricingSource          string    `json:"pricing_source" bson:"pricing_source"`
}

// RoamingData carries the session identifier and CDR publication state for a
// transaction started through a roaming network.
type RoamingData struct {
	SessionId     string    `json:"session_id" bson:"session_id"`
	AuthorizationId string  `json:"authorization_id" bson:"authorization_id"`
	CdrPushed     bool      `json:"cdr_pushed" bson:"cdr_pushed"`
	CdrPushedOn   time.Time `json:"cdr_pushed_on" bson:"cdr_pushed_on"`
}

type Transaction struct {
	Id          int       `json:"transaction_id" bson:"transaction_id"`
	Tenant      string    `json:"tenant_id" bson:"tenant_id"`
	ChargeBoxId string    `json:"charge_box_id" bson:"charge_box_id"`
	ConnectorId int       `json:"connector_id" bson:"connector_id"`
	TagId       string    `json:"tag_id" bson:"tag_id"`
	UserId      string    `json:"user_id" bson:"user_id"`
	Username    string    `json:"username" bson:"username"`
	CarId       string    `json:"car_id" bson:"car_id"`
	SiteAreaId  string    `json:"site_area_id" bson:"site_area_id"`
	SiteId      string    `json:"site_id" bson:"site_id"`
	Issuer      bool      `json:"issuer" bson:"issuer"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	MeterStart  float64   `json:"meter_start" bson:"meter_start"`

	// running fields, mirrored onto the connector while the session is open
	CurrentInstantWatts        float64 `json:"current_instant_watts" bson:"current_instant_watts"`
	CurrentInstantWattsL1      float64 `json:"current_instant_watts_l1" bson:"current_instant_watts_l1"`
	CurrentInstantWattsL2      float64 `json:"current_instant_watts_l2" bson:"current_instant_watts_l2"`
	CurrentInstantWattsL3      float64 `json:"current_instant_watts_l3" bson:"current_instant_watts_l3"`
	CurrentInstantWattsDC      float64 `json:"current_instant_watts_dc" bson:"current_instant_watts_dc"`
	CurrentInstantVolts        float64 `json:"current_instant_volts" bson:"current_instant_volts"`
	CurrentInstantVoltsL1      float64 `json:"current_instant_volts_l1" bson:"current_instant_volts_l1"`
	CurrentInstantVoltsL2      float64 `json:"current_instant_volts_l2" bson:"current_instant_volts_l2"`
	CurrentInstantVoltsL3      float64 `json:"current_instant_volts_l3" bson:"current_instant_volts_l3"`
	CurrentInstantVoltsDC      float64 `json:"current_instant_volts_dc" bson:"current_instant_volts_dc"`
	CurrentInstantAmps         float64 `json:"current_instant_amps" bson:"current_instant_amps"`
	CurrentInstantAmpsL1       float64 `json:"current_instant_amps_l1" bson:"current_instant_amps_l1"`
	CurrentInstantAmpsL2       float64 `json:"current_instant_amps_l2" bson:"current_instant_amps_l2"`
	CurrentInstantAmpsL3       float64 `json:"current_instant_amps_l3" bson:"current_instant_amps_l3"`
	CurrentInstantAmpsDC       float64 `json:"current_instant_amps_dc" bson:"current_instant_amps_dc"`
	CurrentTotalConsumptionWh  float64 `json:"current_total_consumption_wh" bson:"current_total_consumption_wh"`
	CurrentTotalInactivitySecs int     `json:"current_total_inactivity_secs" bson:"current_total_inactivity_secs"`
	CurrentInactivityStatus    string  `json:"current_inactivity_status" bson:"current_inactivity_status"`
	CurrentStateOfCharge       int     `json:"current_state_of_charge" bson:"current_state_of_charge"`

	StateOfCharge          int    `json:"state_of_charge" bson:"state_of_charge"`
	NumberOfMeterValues    int    `json:"number_of_meter_values" bson:"number_of_meter_values"`
	PhasesUsed             int    `json:"phases_used" bson:"phases_used"`
	SignedData             string `json:"signed_data" bson:"signed_data"`
	EndSignedData          string `json:"end_signed_data" bson:"end_signed_data"`
	TransactionEndReceived bool   `json:"transaction_end_received" bson:"transaction_end_received"`
	ZeroIntervalStreak     int    `json:"zero_interval_streak" bson:"zero_interval_streak"`

	LastConsumption *LastConsumption `json:"last_consumption,omitempty" bson:"last_consumption,omitempty"`
	RemoteStop      *RemoteStop      `json:"remote_stop,omitempty" bson:"remote_stop,omitempty"`
	Stop            *TransactionStop `json:"stop,omitempty" bson:"stop,omitempty"`
	OcpiData        *RoamingData     `json:"ocpi_data,omitempty" bson:"ocpi_data,omitempty"`
	OicpData        *RoamingData     `json:"oicp_data,omitempty" bson:"oicp_data,omitempty"`

	// notification dedup gates, at most one of each per transaction
	NotifiedEndOfCharge   bool `json:"notified_end_of_charge" bson:"notified_end_of_charge"`
	NotifiedOptimalCharge bool `json:"notified_optimal_charge" bson:"notified_optimal_charge"`

	Price         float64 `json:"price" bson:"price"`
	RoundedPrice  float64 `json:"rounded_price" bson:"rounded_price"`
	PriceUnit     string  `json:"price_unit" bson:"price_unit"`
	PricingSource string  `json:"pricing_source" bson:"pricing_source"`
}

func (t *Transaction) IsFinished() bool {
	return t.Stop != nil
}

// Anchor returns the consumption anchor, seeding it from the start of the
// transaction when no meter value was processed yet.
func (t *Transaction) Anchor() LastConsumption {
	if t.LastConsumption != nil {
		return *t.LastConsumption
	}
	return LastConsumption{Timestamp: t.Timestamp, CumulatedWh: t.MeterStart}
}

// RoamingFor returns the roaming data block for the given protocol, nil when
// the transaction does not belong to that network.
func (t *Transaction) RoamingFor(protocol string) *RoamingData {
	switch protocol {
	case RoamingProtocolOcpi:
		return t.OcpiData
	case RoamingProtocolOicp:
		return t.OicpData
	}
	return nil
}

const (
	RoamingProtocolOcpi = "ocpi"
	RoamingProtocolOicp = "oicp"
)
