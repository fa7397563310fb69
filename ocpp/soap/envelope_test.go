package soap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootFrame = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:wsa="http://www.w3.org/2005/08/addressing">
  <soap:Header>
    <chargeBoxIdentity>CB-SOAP-01</chargeBoxIdentity>
    <wsa:Action>/BootNotification</wsa:Action>
    <wsa:From><wsa:Address>http://192.168.1.50:8455/</wsa:Address></wsa:From>
  </soap:Header>
  <soap:Body>
    <bootNotificationRequest>
      <chargePointVendor>Schneider Electric</chargePointVendor>
      <chargePointModel>MONOBLOCK</chargePointModel>
      <chargePointSerialNumber>3N170440</chargePointSerialNumber>
      <firmwareVersion>3.2.0.6</firmwareVersion>
    </bootNotificationRequest>
  </soap:Body>
</soap:Envelope>`

func TestDecodeBootEnvelope(t *testing.T) {
	env, action, err := Decode([]byte(bootFrame))
	require.NoError(t, err)
	assert.Equal(t, "BootNotification", action)
	assert.Equal(t, "CB-SOAP-01", env.Header.ChargeBoxIdentity)
	assert.Equal(t, "http://192.168.1.50:8455/", env.Header.From.Address)

	var request BootNotificationRequest
	require.NoError(t, env.UnmarshalBody(&request))
	assert.Equal(t, "Schneider Electric", request.ChargePointVendor)
	assert.Equal(t, "MONOBLOCK", request.ChargePointModel)
	assert.Equal(t, "3N170440", request.ChargePointSerialNumber)
}

const meterValuesFrame = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Header><chargeBoxIdentity>CB-SOAP-01</chargeBoxIdentity></soap:Header>
  <soap:Body>
    <meterValuesRequest>
      <connectorId>1</connectorId>
      <transactionId>12</transactionId>
      <values>
        <timestamp>2024-05-14T10:01:00Z</timestamp>
        <value measurand="Energy.Active.Import.Register" unit="Wh" context="Sample.Periodic">1500</value>
        <value measurand="Voltage" unit="V" phase="L1">231.2</value>
      </values>
    </meterValuesRequest>
  </soap:Body>
</soap:Envelope>`

func TestDecodeMeterValuesWithoutActionHeader(t *testing.T) {
	env, action, err := Decode([]byte(meterValuesFrame))
	require.NoError(t, err)
	assert.Equal(t, "MeterValues", action)

	var request MeterValuesRequest
	require.NoError(t, env.UnmarshalBody(&request))
	require.Len(t, request.Values, 1)
	require.Len(t, request.Values[0].Value, 2)
	assert.Equal(t, "1500", request.Values[0].Value[0].Value)
	assert.Equal(t, "Voltage", request.Values[0].Value[1].Measurand)
	assert.Equal(t, "L1", request.Values[0].Value[1].Phase)

	converted := ToMeterValues(request.Values)
	require.Len(t, converted, 1)
	assert.Len(t, converted[0].SampledValue, 2)
}

func TestEncodeResponseRoundTrip(t *testing.T) {
	data, err := EncodeResponse(&BootNotificationResponse{
		Status:            "Accepted",
		CurrentTime:       "2024-05-14T10:00:00Z",
		HeartbeatInterval: 300,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), "<status>Accepted</status>")
	assert.Contains(t, string(data), "<heartbeatInterval>300</heartbeatInterval>")

	status, err := DecodeStatus(data)
	require.NoError(t, err)
	assert.Equal(t, "Accepted", status)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte("not xml at all"))
	assert.Error(t, err)
}
