package server

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/ocpp/core"
	"github.com/roiko/ev-server/ocpp/firmware"
	"github.com/roiko/ev-server/utility"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

// CallError codes sent back to stations.
const (
	ErrorCodeInternal           = "InternalError"
	ErrorCodeBackend            = "BackendError"
	ErrorCodeFormationViolation = "FormationViolation"
	ErrorCodeTypeConstraint     = "TypeConstraintViolation"
)

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	TypeId   CallType
	UniqueId string
	Payload  ocpp.Response
}

func (callResult *CallResult) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 3)
	fields[0] = int(callResult.TypeId)
	fields[1] = callResult.UniqueId
	fields[2] = callResult.Payload
	return json.Marshal(fields)
}

func CreateCallResult(confirmation ocpp.Response, uniqueId string) *CallResult {
	return &CallResult{
		TypeId:   CallTypeResult,
		UniqueId: uniqueId,
		Payload:  confirmation,
	}
}

// CallError An OCPP-J CallError message; sent when a handler rejects a frame.
type CallError struct {
	TypeId      CallType
	UniqueId    string
	ErrorCode   string
	Description string
}

func (callError *CallError) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 5)
	fields[0] = int(callError.TypeId)
	fields[1] = callError.UniqueId
	fields[2] = callError.ErrorCode
	fields[3] = callError.Description
	fields[4] = struct{}{}
	return json.Marshal(fields)
}

func CreateCallError(uniqueId, code, description string) *CallError {
	return &CallError{
		TypeId:      CallTypeError,
		UniqueId:    uniqueId,
		ErrorCode:   code,
		Description: description,
	}
}

// Call an outbound OCPP-J request to a station.
type Call struct {
	TypeId   CallType
	UniqueId string
	Action   string
	Payload  ocpp.Request
}

func (call *Call) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 4)
	fields[0] = int(call.TypeId)
	fields[1] = call.UniqueId
	fields[2] = call.Action
	fields[3] = call.Payload
	return json.Marshal(fields)
}

type CallRequest struct {
	TypeId   CallType
	UniqueId string
	feature  string
	Payload  ocpp.Request
}

func (callRequest *CallRequest) GetFeatureName() string {
	return callRequest.feature
}

func MessageType(data []interface{}) (CallType, error) {
	if len(data) < 3 {
		return 0, utility.Err("incompatible message structure")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return 0, utility.Err("invalid message type")
	}
	typeId := CallType(rawTypeId)
	switch typeId {
	case CallTypeRequest, CallTypeResult, CallTypeError:
		return typeId, nil
	}
	return 0, utility.Err(fmt.Sprintf("unsupported message type: %v", typeId))
}

// ResultPayload the raw payload of a CallResult, matched to a pending request
// by its unique id.
type ResultPayload struct {
	UniqueId string
	Payload  string
}

func ParseResultUnchecked(data []interface{}) (*ResultPayload, error) {
	if len(data) != 3 {
		return nil, utility.Err("unsupported result format; expected length: 3 elements")
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in result")
	}
	payload, err := json.Marshal(data[2])
	if err != nil {
		return nil, err
	}
	return &ResultPayload{UniqueId: uniqueId, Payload: string(payload)}, nil
}

func ParseRequest(data []interface{}) (*CallRequest, error) {
	if len(data) != 4 {
		return nil, utility.Err("unsupported request format; expected length: 4 elements")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return nil, utility.Err("invalid message type in request")
	}
	typeId := CallType(rawTypeId)
	if typeId != CallTypeRequest {
		return nil, utility.Err(fmt.Sprintf("invalid request type id: %v", typeId))
	}
	uniqueId, ok := data[1].(string)
	if !ok {
		return nil, utility.Err("invalid message unique id in request")
	}
	action, ok := data[2].(string)
	if !ok {
		return nil, utility.Err("invalid action in request")
	}

	requestType, err := getRequestType(action)
	if err != nil {
		return nil, err
	}
	request, err := ocpp.ParseRawJsonRequest(data[3], requestType)
	if err != nil {
		return nil, err
	}
	callRequest := CallRequest{
		TypeId:   typeId,
		UniqueId: uniqueId,
		feature:  action,
		Payload:  request,
	}
	return &callRequest, nil
}

func getRequestType(action string) (requestType reflect.Type, err error) {
	switch action {
	case core.BootNotificationFeatureName:
		requestType = reflect.TypeOf(core.BootNotificationRequest{})
	case core.AuthorizeFeatureName:
		requestType = reflect.TypeOf(core.AuthorizeRequest{})
	case core.HeartbeatFeatureName:
		requestType = reflect.TypeOf(core.HeartbeatRequest{})
	case core.StartTransactionFeatureName:
		requestType = reflect.TypeOf(core.StartTransactionRequest{})
	case core.StopTransactionFeatureName:
		requestType = reflect.TypeOf(core.StopTransactionRequest{})
	case core.MeterValuesFeatureName:
		requestType = reflect.TypeOf(core.MeterValuesRequest{})
	case core.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(core.StatusNotificationRequest{})
	case core.DataTransferFeatureName:
		requestType = reflect.TypeOf(core.DataTransferRequest{})
	case firmware.DiagnosticsStatusNotificationFeatureName:
		requestType = reflect.TypeOf(firmware.DiagnosticsStatusNotificationRequest{})
	case firmware.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(firmware.StatusNotificationRequest{})
	default:
		return nil, utility.Err(fmt.Sprintf("unsupported action requested: %s", action))
	}
	return requestType, nil
}
