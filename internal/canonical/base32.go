package canonical

import "math/big"

// base32Alphabet is the digit-first alphabet used for hash signatures.
// It keeps signatures URL-safe and case-insensitive on filesystems.
const base32Alphabet = "0123456789abcdefghijklmnopqrstuv"

// digestToBase32 transcodes digest bytes to the base32 alphabet.
// The digest is treated as one big-endian integer, so the result has
// no leading-zero padding: a zero digest transcodes to "0".
func digestToBase32(digest []byte) string {
	n := new(big.Int).SetBytes(digest)
	if n.Sign() == 0 {
		return "0"
	}
	// 5 bits per output character
	out := make([]byte, 0, (n.BitLen()+4)/5)
	mask := big.NewInt(31)
	tmp := new(big.Int)
	for n.Sign() > 0 {
		tmp.And(n, mask)
		out = append(out, base32Alphabet[tmp.Int64()])
		n.Rsh(n, 5)
	}
	// digits were produced least-significant first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
