package utility

import (
	"encoding/json"
	"strconv"
)

func ParseJson(b []byte) ([]interface{}, error) {
	var array []interface{}
	err := json.Unmarshal(b, &array)
	return array, err
}

// ToFloat converts a raw sampled value to a number; stations report integers,
// decimals and exponent notation, all of which ParseFloat accepts.
func ToFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ToInt converts a string to an integer, tolerating decimal notation.
func ToInt(s string) int {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}
