package coordinator

// DefaultThresholdPercent is the share of key ids needed to sign.
const DefaultThresholdPercent = 70

// CalculateThreshold returns floor(totalKeys * percent / 100), never less than 2
// (FROST needs at least two signers) and never more than totalKeys.
func CalculateThreshold(totalKeys int, percent int) int {
	if percent <= 0 || percent > 100 {
		percent = DefaultThresholdPercent
	}
	threshold := (totalKeys * percent) / 100
	if threshold < 2 {
		threshold = 2
	}
	if threshold > totalKeys {
		threshold = totalKeys
	}
	return threshold
}
