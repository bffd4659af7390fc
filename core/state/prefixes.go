package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountPrefix      = []byte("account/")
	tokenBalancePrefix = []byte("token/balance/")
	escrowRecordPrefix = []byte("escrow/record/")
	escrowIndexPrefix  = []byte("escrow/index/")
	escrowQuotaPrefix  = []byte("escrow/quota/")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

func tokenBalanceKey(token string, addr [20]byte) []byte {
	return prefixedKey(tokenBalancePrefix, []byte(token), addr[:])
}

func escrowRecordKey(id [32]byte) []byte {
	return prefixedKey(escrowRecordPrefix, id[:])
}

func escrowIndexKey(addr [20]byte) []byte {
	return prefixedKey(escrowIndexPrefix, addr[:])
}

func escrowQuotaKey(addr [20]byte) []byte {
	return prefixedKey(escrowQuotaPrefix, addr[:])
}
