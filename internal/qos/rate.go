package qos

import (
	"fmt"
	"strings"
)

// classMinor is the HTB class minor number for a queue id. 1:1 is the
// root class, so queues start at 1:10.
func classMinor(queueID int) uint16 {
	return uint16(10 + queueID)
}

// parseRate converts Mbps to bytes per second.
func parseRate(mbps int) uint64 {
	return uint64(mbps) * 125000
}

// parseRateStr reads "NN%" of parentRate or "NNmbit". Anything else is 0.
func parseRateStr(rateStr string, parentRate uint64) uint64 {
	rateStr = strings.TrimSpace(strings.ToLower(rateStr))
	if rateStr == "" {
		return 0
	}
	if strings.HasSuffix(rateStr, "%") {
		var percent float64
		if _, err := fmt.Sscanf(rateStr, "%f%%", &percent); err != nil || percent <= 0 || percent > 100 {
			return 0
		}
		return uint64(float64(parentRate) * percent / 100.0)
	}
	var rate int
	if _, err := fmt.Sscanf(rateStr, "%dmbit", &rate); err == nil && rate > 0 {
		return parseRate(rate)
	}
	return 0
}
