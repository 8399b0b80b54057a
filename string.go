package callsignal

import (
	"crypto/rand"
	"math"
	"math/big"
	"strings"
)

const alphaLowers string = "abcdefghijklmnopqrstuvwxyz"

var (
	alphaUppers      = strings.ToUpper(alphaLowers)
	maxInt32         = big.NewInt(math.MaxInt32)
	fiftyFiftyChance = big.NewInt(2)
)

// RandomAlphaString returns a random alphabetic string of the given size.
// All random strings are subject to modulus bias; it is only used for
// test namespaces and display labels.
func RandomAlphaString(size int) string {
	if size < 0 {
		return ""
	}
	chars := make([]byte, 0, size)
	for i := 0; i < size; i++ {
		valBig, err := rand.Int(rand.Reader, maxInt32)
		if err != nil {
			panic(err)
		}
		val := int(valBig.Int64())
		chance, err := rand.Int(rand.Reader, fiftyFiftyChance)
		if err != nil {
			panic(err)
		}
		switch chance.Int64() {
		case 0:
			chars = append(chars, alphaLowers[val%len(alphaLowers)])
		case 1:
			chars = append(chars, alphaUppers[val%len(alphaUppers)])
		}
	}
	return string(chars)
}
