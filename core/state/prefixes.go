package state

// Key prefixes for the record tables. Every entity kind lives in its own
// table keyed by its derived address, mirroring the independently addressed
// ledger accounts of the protocol.
var (
	operatorPrefix = []byte("acct/operator/")
	merchantPrefix = []byte("acct/merchant/")
	configPrefix   = []byte("acct/config/")
	paymentPrefix  = []byte("acct/payment/")
	tokenPrefix    = []byte("token/acct/")
	nativePrefix   = []byte("native/acct/")
	depositPrefix  = []byte("deposit/record/")
	metaPrefix     = []byte("meta/flag/")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}
