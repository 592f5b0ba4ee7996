package utils

import (
	"math/rand"
	"os"

	"github.com/audiencehub/audiencehub/utils/dotenv"
)

// ContainsString returns true iff the provided string slice hay contains
// string needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// StringSetDiff returns the elements of a that are not in b, preserving the
// order of a.
func StringSetDiff(a []string, b []string) []string {
	res := []string{}
	for _, str := range a {
		if !ContainsString(b, str) {
			res = append(res, str)
		}
	}
	return res
}

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomAlphabetString returns a random lower-case string of the given
// length. Not crypto-safe, used for temp DB names and alike.
func RandomAlphabetString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// IsProdEnv returns true iff the current process runs in production.
func IsProdEnv() bool {
	return os.Getenv("AUDIENCEHUB_ENV") == dotenv.ProdEnv
}
