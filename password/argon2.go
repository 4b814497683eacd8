package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	phcAlgorithm = "argon2id"

	floorMemoryKB    = 8 * 1024
	floorTime        = 1
	floorParallelism = 1
	floorSaltLength  = 16
	floorKeyLength   = 16

	// minHashInputBytes matches the smallest password the policy can accept.
	minHashInputBytes = 8
)

// DefaultMaxPasswordBytes caps hashing input when Config.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

var (
	// ErrTooShort is returned by Hash for inputs below 8 bytes.
	ErrTooShort = errors.New("password must be at least 8 bytes")
	// ErrTooLong is returned for inputs above Config.MaxPasswordBytes.
	ErrTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned when a stored hash cannot be decoded.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds the argon2id cost parameters used when hashing account passwords.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxPasswordBytes bounds the work one sign-in attempt can force.
	MaxPasswordBytes int
}

// DefaultConfig returns the cost parameters the credential store uses when
// none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("argon2 memory must be at least %d KiB", floorMemoryKB)
	case c.Time < floorTime:
		return errors.New("argon2 time must be at least 1")
	case c.Parallelism < floorParallelism:
		return errors.New("argon2 parallelism must be at least 1")
	case c.SaltLength < floorSaltLength:
		return fmt.Errorf("argon2 salt length must be at least %d", floorSaltLength)
	case c.KeyLength < floorKeyLength:
		return fmt.Errorf("argon2 key length must be at least %d", floorKeyLength)
	case c.MaxPasswordBytes < 0:
		return errors.New("max password bytes must not be negative")
	}
	return nil
}

// Argon2 hashes and verifies account passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

// phcHash is the decoded form of
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h phcHash) String() string {
	b64 := base64.StdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm, argon2.Version, h.memory, h.time, h.parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func (h phcHash) derive(pw string) []byte {
	return argon2.IDKey([]byte(pw), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
}

func decodePHC(encoded string) (phcHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcAlgorithm {
		return phcHash{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return phcHash{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	var (
		h           phcHash
		parallelism uint32
	)
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &parallelism)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, parallelism) != fields[3] {
		return phcHash{}, fmt.Errorf("%w: bad parameters", ErrMalformedHash)
	}
	if h.memory < floorMemoryKB || h.time < floorTime || parallelism < floorParallelism || parallelism > 255 {
		return phcHash{}, fmt.Errorf("%w: parameters below floor", ErrMalformedHash)
	}
	h.parallelism = uint8(parallelism)

	if h.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil || len(h.salt) < floorSaltLength {
		return phcHash{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if h.key, err = base64.StdEncoding.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return phcHash{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return h, nil
}

// Hash returns a PHC-encoded argon2id hash of pw with a fresh random salt.
// The bytes of pw are hashed as given, without Unicode normalization.
func (a *Argon2) Hash(pw string) (string, error) {
	if len(pw) < minHashInputBytes {
		return "", ErrTooShort
	}
	if len(pw) > a.config.MaxPasswordBytes {
		return "", ErrTooLong
	}

	h := phcHash{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
		key:         make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", err
	}
	h.key = h.derive(pw)
	return h.String(), nil
}

// Verify reports whether pw matches encoded. A malformed hash is an error and
// a mismatch is (false, nil).
func (a *Argon2) Verify(pw string, encoded string) (bool, error) {
	if len(pw) > a.config.MaxPasswordBytes {
		return false, ErrTooLong
	}
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(pw), h.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	weaker := h.memory < a.config.Memory ||
		h.time < a.config.Time ||
		h.parallelism < a.config.Parallelism ||
		uint32(len(h.key)) != a.config.KeyLength
	return weaker, nil
}
