package types

import (
	"encoding/json"
	"strconv"
)

// IdToken is an idTag as stations report it. Some firmware sends numeric tags
// as JSON numbers; both forms decode to the same token.
type IdToken string

func (t *IdToken) UnmarshalJSON(input []byte) error {
	var asString string
	if err := json.Unmarshal(input, &asString); err == nil {
		*t = IdToken(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(input, &asNumber); err != nil {
		return err
	}
	if i, err := asNumber.Int64(); err == nil {
		*t = IdToken(strconv.FormatInt(i, 10))
		return nil
	}
	*t = IdToken(asNumber.String())
	return nil
}

func (t IdToken) String() string {
	return string(t)
}
