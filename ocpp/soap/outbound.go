package soap

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const requestTemplate = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">` +
	`<soap:Header><chargeBoxIdentity>%s</chargeBoxIdentity></soap:Header>` +
	`<soap:Body>%s</soap:Body></soap:Envelope>`

// ChangeConfigurationRequest is the 1.5 body of a configuration change.
type ChangeConfigurationRequest struct {
	XMLName xml.Name `xml:"changeConfigurationRequest"`
	Key     string   `xml:"key"`
	Value   string   `xml:"value"`
}

// EncodeRequest wraps an outbound central-system request for a 1.5 station.
func EncodeRequest(chargeBoxIdentity string, payload interface{}) ([]byte, error) {
	body, err := xml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(requestTemplate, chargeBoxIdentity, string(body))), nil
}

// DecodeStatus extracts the status element of any 1.5 response body.
func DecodeStatus(data []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))
	inStatus := false
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", fmt.Errorf("soap: no status in response")
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "status" {
				inStatus = true
			}
		case xml.CharData:
			if inStatus {
				return strings.TrimSpace(string(t)), nil
			}
		case xml.EndElement:
			inStatus = false
		}
	}
}
