package routing

// ConstantProductOut is the output of an x·y=k pool for amountIn, with the
// fee taken from the input.
func ConstantProductOut(reserveIn, reserveOut, amountIn, feeBps float64) float64 {
	if reserveIn <= 0 || reserveOut <= 0 || amountIn <= 0 {
		return 0
	}
	inWithFee := amountIn * (1 - feeBps/10_000)
	return reserveOut * inWithFee / (reserveIn + inWithFee)
}

// ConstantProductSpot is the marginal gross price of the pool before fees.
func ConstantProductSpot(reserveIn, reserveOut float64) float64 {
	if reserveIn <= 0 {
		return 0
	}
	return reserveOut / reserveIn
}
