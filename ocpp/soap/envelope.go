package soap

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Envelope is the OCPP 1.5 SOAP carrier. The WS-Addressing header names the
// station (chargeBoxIdentity) and, when present, its callback endpoint
// (From.Address); the body holds exactly one OCPP element.
type Envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  Header   `xml:"Header"`
	Body    Body     `xml:"Body"`
}

type Header struct {
	ChargeBoxIdentity string `xml:"chargeBoxIdentity"`
	Action            string `xml:"Action"`
	MessageID         string `xml:"MessageID"`
	From              From   `xml:"From"`
}

type From struct {
	Address string `xml:"Address"`
}

type Body struct {
	Inner []byte `xml:",innerxml"`
}

// Decode parses a SOAP frame and returns the envelope plus the action name,
// taken from the addressing header or, failing that, the body element.
func Decode(data []byte) (*Envelope, string, error) {
	var env Envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("soap: invalid envelope: %w", err)
	}
	action := strings.TrimPrefix(strings.TrimSpace(env.Header.Action), "/")
	if action == "" {
		// body elements are lower camel case (meterValuesRequest); the
		// action name starts upper case like the header form
		action = bodyElementName(env.Body.Inner)
		if action != "" {
			action = strings.ToUpper(action[:1]) + action[1:]
		}
	}
	action = strings.TrimSuffix(action, "Request")
	if action == "" {
		return nil, "", fmt.Errorf("soap: missing action")
	}
	return &env, action, nil
}

func bodyElementName(inner []byte) string {
	decoder := xml.NewDecoder(strings.NewReader(string(inner)))
	for {
		token, err := decoder.Token()
		if err != nil {
			return ""
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local
		}
	}
}

// UnmarshalBody decodes the single body element into the given 1.5 payload
// struct; the struct's XMLName decides what it accepts.
func (e *Envelope) UnmarshalBody(v interface{}) error {
	return xml.Unmarshal(e.Body.Inner, v)
}

const envelopeTemplate = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">` +
	`<soap:Header/><soap:Body>%s</soap:Body></soap:Envelope>`

// EncodeResponse wraps an encoded 1.5 response element into a SOAP envelope.
func EncodeResponse(payload interface{}) ([]byte, error) {
	body, err := xml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(envelopeTemplate, string(body))), nil
}

// EncodeFault renders a SOAP fault for structurally invalid frames.
func EncodeFault(code, reason string) []byte {
	fault := fmt.Sprintf(`<soap:Fault><soap:Code><soap:Value>%s</soap:Value></soap:Code>`+
		`<soap:Reason><soap:Text>%s</soap:Text></soap:Reason></soap:Fault>`, code, reason)
	return []byte(fmt.Sprintf(envelopeTemplate, fault))
}
