package service

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/carequeue/backend/internal/apperr"
)

const (
	defaultTicketRetries = 5
	narrowDigits         = 4
	wideDigits           = 6
)

// TicketGenerator issues ids like "QCGCA-261019-4821": a hospital and
// department code, the admission date, and a random suffix. After Retries
// collisions it widens the random part, and after as many again it gives up.
type TicketGenerator struct {
	Retries int
	Rand    *rand.Rand
	Now     func() time.Time

	mu sync.Mutex
}

func NewTicketGenerator(retries int) *TicketGenerator {
	if retries <= 0 {
		retries = defaultTicketRetries
	}
	return &TicketGenerator{
		Retries: retries,
		Rand:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		Now:     time.Now,
	}
}

func (g *TicketGenerator) Generate(hospital, department string, existing []string) (string, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return g.GenerateAt(hospital, department, now(), existing)
}

// GenerateAt issues an id dated on the UTC day of at. Callers pass the
// admission time so the date matches the day existing was read for.
func (g *TicketGenerator) GenerateAt(hospital, department string, at time.Time, existing []string) (string, error) {
	taken := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		taken[id] = struct{}{}
	}

	retries := g.Retries
	if retries <= 0 {
		retries = defaultTicketRetries
	}
	prefix := fmt.Sprintf("Q%s%s-%s", PartitionCode(hospital), PartitionCode(department), at.UTC().Format("060102"))

	for _, digits := range []int{narrowDigits, wideDigits} {
		for i := 0; i < retries; i++ {
			id := fmt.Sprintf("%s-%0*d", prefix, digits, g.randN(pow10(digits)))
			if _, dup := taken[id]; !dup {
				return id, nil
			}
		}
	}
	return "", apperr.New(apperr.GenerationExhausted, "no unique ticket id for %s/%s after %d attempts", hospital, department, 2*retries)
}

func (g *TicketGenerator) randN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Rand == nil {
		return rand.IntN(n)
	}
	return g.Rand.IntN(n)
}

// PartitionCode is two upper-case letters taken from the initials of the
// name, or its first two letters when it is a single word.
func PartitionCode(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var code []rune
	if len(words) >= 2 {
		for _, w := range words[:2] {
			code = append(code, []rune(w)[0])
		}
	} else if len(words) == 1 {
		r := []rune(words[0])
		code = append(code, r[0])
		if len(r) > 1 {
			code = append(code, r[1])
		}
	}
	for len(code) < 2 {
		code = append(code, 'X')
	}
	return strings.ToUpper(string(code))
}

func pow10(n int) int {
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
