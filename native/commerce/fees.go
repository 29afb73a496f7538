package commerce

import "math/big"

// SplitFee computes the operator/merchant split for a clearing. Bps fees round
// down with the remainder staying with the merchant; fixed fees must not
// exceed the amount. For every successful split
// merchantReceive + operatorFee == amount holds exactly.
func SplitFee(amount, operatorFee uint64, feeType FeeType) (fee uint64, merchantReceive uint64, err error) {
	switch feeType {
	case FeeTypeBps:
		if operatorFee > MaxBps {
			return 0, 0, ErrFeeExceedsAmount
		}
		// amount * bps can overflow uint64 for large payments, so the
		// product is taken through big.Int before dividing back down.
		product := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(operatorFee))
		fee = product.Div(product, big.NewInt(MaxBps)).Uint64()
	case FeeTypeFixed:
		fee = operatorFee
	default:
		return 0, 0, ErrFeeExceedsAmount
	}
	if fee > amount {
		return 0, 0, ErrFeeExceedsAmount
	}
	return fee, amount - fee, nil
}
