package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ReferencePrefix tags a reference with the operation that produced it.
type ReferencePrefix string

const (
	PrefixDeposit     ReferencePrefix = "DEP"
	PrefixWithdrawal  ReferencePrefix = "WD"
	PrefixTransfer    ReferencePrefix = "TRF"
	PrefixBillPayment ReferencePrefix = "BILL"
	PrefixCheckOrder  ReferencePrefix = "CHK"
	PrefixReversal    ReferencePrefix = "REV"

	ConfirmationPrefix = "TXN"
)

const (
	base36Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"

	accountNumberLen = 10
)

// ReferenceGenerator produces every identifier the ledger stamps on records.
// Clock and randomness are injectable so formats and uniqueness are testable.
type ReferenceGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	random  io.Reader
	entropy *ulid.MonotonicEntropy
}

type Option func(*ReferenceGenerator)

func WithClock(now func() time.Time) Option {
	return func(g *ReferenceGenerator) { g.now = now }
}

func WithRandom(r io.Reader) Option {
	return func(g *ReferenceGenerator) { g.random = r }
}

func NewReferenceGenerator(opts ...Option) *ReferenceGenerator {
	g := &ReferenceGenerator{
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.entropy = ulid.Monotonic(g.random, 0)
	return g
}

// Now returns the generator clock, shared with the engine so record
// timestamps and reference epochs agree.
func (g *ReferenceGenerator) Now() time.Time {
	return g.now()
}

// Reference generates a transaction reference.
//
//	DEP-<epoch-ms>-<8 base36>
//	WD-<epoch-ms>-<8 base36>
//	TRF-<epoch-ms>-<6 base36>
//	BILL-<epoch-ms>-<6 digits>
//	CHK-<epoch-ms>
//	REV-<epoch-ms>-<8 base36>
func (g *ReferenceGenerator) Reference(prefix ReferencePrefix) (string, error) {
	return g.ReferenceAt(prefix, g.now())
}

// ReferenceAt generates a reference stamped with at instead of the clock.
// Used to move a colliding CHK reference to the next millisecond.
func (g *ReferenceGenerator) ReferenceAt(prefix ReferencePrefix, at time.Time) (string, error) {
	ms := at.UnixMilli()

	var suffix string
	var err error
	switch prefix {
	case PrefixDeposit, PrefixWithdrawal, PrefixReversal:
		suffix, err = g.randomString(8, base36Chars)
	case PrefixTransfer:
		suffix, err = g.randomString(6, base36Chars)
	case PrefixBillPayment:
		suffix, err = g.randomString(6, digitChars)
	case PrefixCheckOrder:
		return fmt.Sprintf("%s-%d", prefix, ms), nil
	default:
		return "", fmt.Errorf("unsupported reference prefix: %s", prefix)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", prefix, ms, suffix), nil
}

// ConfirmationNumber generates TXN-<BASE36(epoch-ms)>-<6 BASE36>.
func (g *ReferenceGenerator) ConfirmationNumber() (string, error) {
	suffix, err := g.randomString(6, base36Chars)
	if err != nil {
		return "", err
	}
	epoch := strings.ToUpper(strconv.FormatInt(g.now().UnixMilli(), 36))
	return fmt.Sprintf("%s-%s-%s", ConfirmationPrefix, epoch, suffix), nil
}

// AccountNumber generates a 10 digit account number without a leading zero.
func (g *ReferenceGenerator) AccountNumber() (string, error) {
	lead, err := g.randomString(1, digitChars[1:])
	if err != nil {
		return "", err
	}
	rest, err := g.randomString(accountNumberLen-1, digitChars)
	if err != nil {
		return "", err
	}
	return lead + rest, nil
}

// NewID returns a time-sortable ULID.
func (g *ReferenceGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// randomString draws n characters uniformly from charset, rejecting bytes
// that would bias the modulo.
func (g *ReferenceGenerator) randomString(n int, charset string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit := 256 - (256 % len(charset))
	out := make([]byte, 0, n)
	buf := make([]byte, n+8)
	for len(out) < n {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("read randomness: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, charset[int(b)%len(charset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// ========================================
// VALIDATION
// ========================================

var (
	accountNumberPattern      = regexp.MustCompile(`^[1-9][0-9]{9}$`)
	confirmationNumberPattern = regexp.MustCompile(`^TXN-[0-9A-Z]+-[0-9A-Z]{6}$`)
	referencePatterns         = map[ReferencePrefix]*regexp.Regexp{
		PrefixDeposit:     regexp.MustCompile(`^DEP-[0-9]+-[0-9A-Z]{8}$`),
		PrefixWithdrawal:  regexp.MustCompile(`^WD-[0-9]+-[0-9A-Z]{8}$`),
		PrefixTransfer:    regexp.MustCompile(`^TRF-[0-9]+-[0-9A-Z]{6}$`),
		PrefixBillPayment: regexp.MustCompile(`^BILL-[0-9]+-[0-9]{6}$`),
		PrefixCheckOrder:  regexp.MustCompile(`^CHK-[0-9]+$`),
		PrefixReversal:    regexp.MustCompile(`^REV-[0-9]+-[0-9A-Z]{8}$`),
	}
)

func ValidateAccountNumber(s string) bool {
	return accountNumberPattern.MatchString(s)
}

func ValidateConfirmationNumber(s string) bool {
	return confirmationNumberPattern.MatchString(s)
}

// ValidateReference reports whether s is a well formed reference of prefix.
func ValidateReference(prefix ReferencePrefix, s string) bool {
	p, ok := referencePatterns[prefix]
	return ok && p.MatchString(s)
}
