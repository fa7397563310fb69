package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/ocpp/firmware"
	"github.com/roiko/ev-server/ocpp/soap"
	"github.com/roiko/ev-server/types"
	"github.com/roiko/ev-server/utility"
)

// handleSoapMessage maps a decoded 1.5 body to the common handler and shapes
// the 1.5 response. The handlers themselves are version-agnostic; only the
// carrier differs.
func (cs *CentralSystem) handleSoapMessage(ctx *CallContext, env *soap.Envelope, action string) (interface{}, error) {
	switch action {
	case core.BootNotificationFeatureName:
		var request soap.BootNotificationRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		response, err := cs.handler.OnBootNotification(ctx, &core.BootNotificationRequest{
			ChargePointVendor:       request.ChargePointVendor,
			ChargePointModel:        request.ChargePointModel,
			ChargePointSerialNumber: request.ChargePointSerialNumber,
			ChargeBoxSerialNumber:   request.ChargeBoxSerialNumber,
			FirmwareVersion:         request.FirmwareVersion,
			Iccid:                   request.Iccid,
			Imsi:                    request.Imsi,
			MeterType:               request.MeterType,
			MeterSerialNumber:       request.MeterSerialNumber,
		})
		if err != nil {
			return nil, err
		}
		return &soap.BootNotificationResponse{
			Status:            string(response.Status),
			CurrentTime:       soap.FormatTimestamp(response.CurrentTime.Time),
			HeartbeatInterval: response.Interval,
		}, nil

	case core.HeartbeatFeatureName:
		response, err := cs.handler.OnHeartbeat(ctx, &core.HeartbeatRequest{})
		if err != nil {
			return nil, err
		}
		return &soap.HeartbeatResponse{CurrentTime: soap.FormatTimestamp(response.CurrentTime.Time)}, nil

	case core.AuthorizeFeatureName:
		var request soap.AuthorizeRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		response, err := cs.handler.OnAuthorize(ctx, &core.AuthorizeRequest{IdTag: types.IdToken(request.IdTag)})
		if err != nil {
			return nil, err
		}
		return &soap.AuthorizeResponse{IdTagInfo: soap.IdTagInfo{Status: string(response.IdTagInfo.Status)}}, nil

	case core.StartTransactionFeatureName:
		var request soap.StartTransactionRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		timestamp, err := parseSoapTime(request.Timestamp)
		if err != nil {
			return nil, err
		}
		response, err := cs.handler.OnStartTransaction(ctx, &core.StartTransactionRequest{
			ConnectorId:   request.ConnectorId,
			IdTag:         types.IdToken(request.IdTag),
			MeterStart:    request.MeterStart,
			ReservationId: request.ReservationId,
			Timestamp:     types.NewDateTime(timestamp),
		})
		if err != nil {
			return nil, err
		}
		return &soap.StartTransactionResponse{
			TransactionId: response.TransactionId,
			IdTagInfo:     soap.IdTagInfo{Status: string(response.IdTagInfo.Status)},
		}, nil

	case core.StopTransactionFeatureName:
		var request soap.StopTransactionRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		timestamp, err := parseSoapTime(request.Timestamp)
		if err != nil {
			return nil, err
		}
		stopRequest := &core.StopTransactionRequest{
			TransactionId: request.TransactionId,
			IdTag:         types.IdToken(request.IdTag),
			MeterStop:     request.MeterStop,
			Timestamp:     types.NewDateTime(timestamp),
		}
		// re-encode transaction data in its 1.5 JSON rendition so the
		// version check sees what the station actually sent
		if len(request.TransactionData) > 0 {
			raw, err := transactionData15Json(request.TransactionData)
			if err != nil {
				return nil, err
			}
			stopRequest.TransactionData = raw
		}
		response, err := cs.handler.OnStopTransaction(ctx, stopRequest)
		if err != nil {
			return nil, err
		}
		soapResponse := &soap.StopTransactionResponse{}
		if response.IdTagInfo != nil {
			soapResponse.IdTagInfo = &soap.IdTagInfo{Status: string(response.IdTagInfo.Status)}
		}
		return soapResponse, nil

	case core.MeterValuesFeatureName:
		var request soap.MeterValuesRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		_, err := cs.handler.OnMeterValues(ctx, &core.MeterValuesRequest{
			ConnectorId:   request.ConnectorId,
			TransactionId: request.TransactionId,
			MeterValue:    soap.ToMeterValues(request.Values),
		})
		if err != nil {
			return nil, err
		}
		return &soap.MeterValuesResponse{}, nil

	case core.StatusNotificationFeatureName:
		var request soap.StatusNotificationRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		statusRequest := &core.StatusNotificationRequest{
			ConnectorId:     request.ConnectorId,
			Status:          core.ChargePointStatus(request.Status),
			ErrorCode:       core.ChargePointErrorCode(request.ErrorCode),
			Info:            request.Info,
			VendorId:        request.VendorId,
			VendorErrorCode: request.VendorErrorCode,
		}
		if request.Timestamp != "" {
			if timestamp, err := parseSoapTime(request.Timestamp); err == nil {
				statusRequest.Timestamp = types.NewDateTime(timestamp)
			}
		}
		_, err := cs.handler.OnStatusNotification(ctx, statusRequest)
		if err != nil {
			return nil, err
		}
		return &soap.StatusNotificationResponse{}, nil

	case core.DataTransferFeatureName:
		var request soap.DataTransferRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		response, err := cs.handler.OnDataTransfer(ctx, &core.DataTransferRequest{
			VendorId:  request.VendorId,
			MessageId: request.MessageId,
			Data:      request.Data,
		})
		if err != nil {
			return nil, err
		}
		return &soap.DataTransferResponse{Status: string(response.Status), Data: response.Data}, nil

	case firmware.StatusNotificationFeatureName:
		var request soap.FirmwareStatusNotificationRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		_, err := cs.handler.OnFirmwareStatusNotification(ctx, &firmware.StatusNotificationRequest{
			Status: firmware.Status(request.Status),
		})
		if err != nil {
			return nil, err
		}
		return &soap.FirmwareStatusNotificationResponse{}, nil

	case firmware.DiagnosticsStatusNotificationFeatureName:
		var request soap.DiagnosticsStatusNotificationRequest
		if err := env.UnmarshalBody(&request); err != nil {
			return nil, err
		}
		_, err := cs.handler.OnDiagnosticsStatusNotification(ctx, &firmware.DiagnosticsStatusNotificationRequest{
			Status: firmware.DiagnosticsStatus(request.Status),
		})
		if err != nil {
			return nil, err
		}
		return &soap.DiagnosticsStatusNotificationResponse{}, nil
	}
	return nil, utility.Err(fmt.Sprintf("unsupported action requested: %s", action))
}

func parseSoapTime(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}

// transactionData15Json renders the XML transaction data in the 1.5 JSON
// shape the stop handler validates against the declared protocol version.
func transactionData15Json(data []soap.TransactionData) (json.RawMessage, error) {
	type attributes struct {
		Context   string `json:"context,omitempty"`
		Format    string `json:"format,omitempty"`
		Measurand string `json:"measurand,omitempty"`
		Location  string `json:"location,omitempty"`
		Unit      string `json:"unit,omitempty"`
		Phase     string `json:"phase,omitempty"`
	}
	type value struct {
		Attributes attributes `json:"$attributes"`
		Value      string     `json:"$value"`
	}
	type entry struct {
		Timestamp string  `json:"timestamp"`
		Value     []value `json:"value"`
	}
	var envelope struct {
		Values []entry `json:"values"`
	}
	for _, block := range data {
		for _, mv := range block.Values {
			converted := entry{Timestamp: mv.Timestamp}
			for _, sample := range mv.Value {
				converted.Value = append(converted.Value, value{
					Attributes: attributes{
						Context:   sample.Context,
						Format:    sample.Format,
						Measurand: sample.Measurand,
						Location:  sample.Location,
						Unit:      sample.Unit,
						Phase:     sample.Phase,
					},
					Value: sample.Value,
				})
			}
			envelope.Values = append(envelope.Values, converted)
		}
	}
	return json.Marshal(envelope)
}
