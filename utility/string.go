package utility

import (
	"strconv"

	"github.com/google/uuid"
)

func NewUUID() string {
	return uuid.New().String()
}

// WhAsKwhString renders a Wh total like 10234 as "10.23" kWh.
func WhAsKwhString(wh float64) string {
	return strconv.FormatFloat(wh/1000.0, 'f', 2, 64)
}
