package soap

import (
	"encoding/xml"

	"github.com/roiko/ev-server/types"
)

// OCPP 1.5 request payloads. Element and field names follow the 1.5 XSDs;
// the carrier converts these into the common core shapes after decoding.

type BootNotificationRequest struct {
	XMLName                 xml.Name `xml:"bootNotificationRequest"`
	ChargePointVendor       string   `xml:"chargePointVendor"`
	ChargePointModel        string   `xml:"chargePointModel"`
	ChargePointSerialNumber string   `xml:"chargePointSerialNumber"`
	ChargeBoxSerialNumber   string   `xml:"chargeBoxSerialNumber"`
	FirmwareVersion         string   `xml:"firmwareVersion"`
	Iccid                   string   `xml:"iccid"`
	Imsi                    string   `xml:"imsi"`
	MeterType               string   `xml:"meterType"`
	MeterSerialNumber       string   `xml:"meterSerialNumber"`
}

type BootNotificationResponse struct {
	XMLName           xml.Name `xml:"bootNotificationResponse"`
	Status            string   `xml:"status"`
	CurrentTime       string   `xml:"currentTime"`
	HeartbeatInterval int      `xml:"heartbeatInterval"`
}

type HeartbeatRequest struct {
	XMLName xml.Name `xml:"heartbeatRequest"`
}

type HeartbeatResponse struct {
	XMLName     xml.Name `xml:"heartbeatResponse"`
	CurrentTime string   `xml:"currentTime"`
}

type AuthorizeRequest struct {
	XMLName xml.Name `xml:"authorizeRequest"`
	IdTag   string   `xml:"idTag"`
}

type IdTagInfo struct {
	Status      string `xml:"status"`
	ExpiryDate  string `xml:"expiryDate,omitempty"`
	ParentIdTag string `xml:"parentIdTag,omitempty"`
}

type AuthorizeResponse struct {
	XMLName   xml.Name  `xml:"authorizeResponse"`
	IdTagInfo IdTagInfo `xml:"idTagInfo"`
}

type StartTransactionRequest struct {
	XMLName       xml.Name `xml:"startTransactionRequest"`
	ConnectorId   int      `xml:"connectorId"`
	IdTag         string   `xml:"idTag"`
	Timestamp     string   `xml:"timestamp"`
	MeterStart    int      `xml:"meterStart"`
	ReservationId *int     `xml:"reservationId"`
}

type StartTransactionResponse struct {
	XMLName       xml.Name  `xml:"startTransactionResponse"`
	TransactionId int       `xml:"transactionId"`
	IdTagInfo     IdTagInfo `xml:"idTagInfo"`
}

type StopTransactionRequest struct {
	XMLName         xml.Name          `xml:"stopTransactionRequest"`
	TransactionId   int               `xml:"transactionId"`
	IdTag           string            `xml:"idTag"`
	Timestamp       string            `xml:"timestamp"`
	MeterStop       int               `xml:"meterStop"`
	TransactionData []TransactionData `xml:"transactionData"`
}

type TransactionData struct {
	Values []MeterValueEntry `xml:"values"`
}

type StopTransactionResponse struct {
	XMLName   xml.Name   `xml:"stopTransactionResponse"`
	IdTagInfo *IdTagInfo `xml:"idTagInfo,omitempty"`
}

// MeterValueEntry one 1.5 sample: a timestamp and one or more value elements,
// each carrying its attribute block as XML attributes.
type MeterValueEntry struct {
	Timestamp string         `xml:"timestamp"`
	Value     []SampledValue `xml:"value"`
}

type SampledValue struct {
	Context   string `xml:"context,attr"`
	Format    string `xml:"format,attr"`
	Measurand string `xml:"measurand,attr"`
	Location  string `xml:"location,attr"`
	Unit      string `xml:"unit,attr"`
	Phase     string `xml:"phase,attr"`
	Value     string `xml:",chardata"`
}

type MeterValuesRequest struct {
	XMLName       xml.Name          `xml:"meterValuesRequest"`
	ConnectorId   int               `xml:"connectorId"`
	TransactionId *int              `xml:"transactionId"`
	Values        []MeterValueEntry `xml:"values"`
}

type MeterValuesResponse struct {
	XMLName xml.Name `xml:"meterValuesResponse"`
}

type StatusNotificationRequest struct {
	XMLName         xml.Name `xml:"statusNotificationRequest"`
	ConnectorId     int      `xml:"connectorId"`
	Status          string   `xml:"status"`
	ErrorCode       string   `xml:"errorCode"`
	Info            string   `xml:"info"`
	Timestamp       string   `xml:"timestamp"`
	VendorId        string   `xml:"vendorId"`
	VendorErrorCode string   `xml:"vendorErrorCode"`
}

type StatusNotificationResponse struct {
	XMLName xml.Name `xml:"statusNotificationResponse"`
}

type DataTransferRequest struct {
	XMLName   xml.Name `xml:"dataTransferRequest"`
	VendorId  string   `xml:"vendorId"`
	MessageId string   `xml:"messageId"`
	Data      string   `xml:"data"`
}

type DataTransferResponse struct {
	XMLName xml.Name `xml:"dataTransferResponse"`
	Status  string   `xml:"status"`
	Data    string   `xml:"data,omitempty"`
}

type FirmwareStatusNotificationRequest struct {
	XMLName xml.Name `xml:"firmwareStatusNotificationRequest"`
	Status  string   `xml:"status"`
}

type FirmwareStatusNotificationResponse struct {
	XMLName xml.Name `xml:"firmwareStatusNotificationResponse"`
}

type DiagnosticsStatusNotificationRequest struct {
	XMLName xml.Name `xml:"diagnosticsStatusNotificationRequest"`
	Status  string   `xml:"status"`
}

type DiagnosticsStatusNotificationResponse struct {
	XMLName xml.Name `xml:"diagnosticsStatusNotificationResponse"`
}

// ToMeterValues converts 1.5 sample entries to the common shape shared with
// the 1.6 path; a timestamp with several values expands into one MeterValue
// holding them all.
func ToMeterValues(entries []MeterValueEntry) []types.MeterValue {
	converted := make([]types.MeterValue, 0, len(entries))
	for _, entry := range entries {
		ts, err := parseTimestamp(entry.Timestamp)
		if err != nil {
			continue
		}
		mv := types.MeterValue{Timestamp: types.NewDateTime(ts)}
		for _, value := range entry.Value {
			mv.SampledValue = append(mv.SampledValue, types.SampledValue{
				Value:     value.Value,
				Context:   types.ReadingContext(value.Context),
				Format:    types.ValueFormat(value.Format),
				Measurand: types.Measurand(value.Measurand),
				Location:  types.Location(value.Location),
				Unit:      types.UnitOfMeasure(value.Unit),
				Phase:     types.Phase(value.Phase),
			})
		}
		if len(mv.SampledValue) > 0 {
			converted = append(converted, mv)
		}
	}
	return converted
}
