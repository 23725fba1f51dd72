package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
var wordlist = wordlists.English

// NameGenerator produces guest display names for callers who do not pick one.
// Names follow the pattern "WordWord42" (e.g., "AppleRiver42").
type NameGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNameGenerator creates a NameGenerator with its own random source.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GenerateName returns a PascalCase name like "HappyTiger42". Names are not
// unique; identity is carried by the user id.
func (g *NameGenerator) GenerateName() string {
	g.mu.Lock()
	word1 := wordlist[g.rng.Intn(len(wordlist))]
	word2 := wordlist[g.rng.Intn(len(wordlist))]
	num := g.rng.Intn(100)
	g.mu.Unlock()
	return fmt.Sprintf("%s%s%d", capitalize(word1), capitalize(word2), num)
}

// capitalize returns the string with its first letter uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
