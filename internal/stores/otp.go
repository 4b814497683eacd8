package stores

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound         = errors.New("code record not found")
	ErrCodeMismatch         = errors.New("code mismatch")
	ErrCodeAttemptsExceeded = errors.New("code attempts exceeded")
	ErrCodeClaimed          = errors.New("code already claimed")
	ErrCodeClaimLost        = errors.New("code claim no longer held")
	ErrCodeRedisUnavailable = errors.New("verification store unavailable")
)

// Each record is a Redis hash with the fields below. Attempts are bumped in
// place with HINCRBY so the key keeps the TTL set by Save. A claimed record
// carries the claim token of the single caller allowed to finish it.
const (
	fieldSubject  = "subject"
	fieldPurpose  = "purpose"
	fieldHash     = "hash"
	fieldExpires  = "expires_at"
	fieldAttempts = "attempts"
	fieldClaim    = "claim"
)

const (
	modeConsume = "consume"
	modeClaim   = "claim"
)

// verifyCodeLua compares a candidate hash against the stored record.
//
//	KEYS[1]  record key
//	ARGV[1]  candidate hash, hex
//	ARGV[2]  expected purpose
//	ARGV[3]  max attempts
//	ARGV[4]  now, unix seconds
//	ARGV[5]  "consume" deletes the record on match, "claim" marks it with ARGV[6]
//	ARGV[6]  claim token
//
// On match it returns {subject, purpose, hash, expires_at, attempts}.
var verifyCodeLua = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'subject', 'purpose', 'hash', 'expires_at', 'attempts', 'claim')
if not f[3] then
  return {err='not_found'}
end
if tonumber(ARGV[4]) > tonumber(f[4]) then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
if f[2] ~= ARGV[2] then
  return {err='purpose_mismatch'}
end
if f[6] then
  return {err='claimed'}
end
if f[3] ~= ARGV[1] then
  local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
  if n >= tonumber(ARGV[3]) then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  return {err='code_mismatch'}
end
if ARGV[5] == 'consume' then
  redis.call('DEL', KEYS[1])
else
  redis.call('HSET', KEYS[1], 'claim', ARGV[6])
end
return {f[1], f[2], f[3], f[4], f[5] or '0'}
`)

// releaseClaimLua drops the claim when ARGV[1] still holds it.
var releaseClaimLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claim') == ARGV[1] then
  redis.call('HDEL', KEYS[1], 'claim')
  return 1
end
return 0
`)

// finishClaimLua deletes the record when ARGV[1] still holds its claim, so a
// code saved by a later send survives.
var finishClaimLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'claim') == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// CodeRecord is a hashed one-time code waiting to be verified. Claim is the
// token returned by Claim, empty for an unclaimed record.
type CodeRecord struct {
	Subject   string
	Purpose   uint8
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Claim     string
}

// codeFields mirrors CodeRecord as stored in Redis.
type codeFields struct {
	Subject   string `redis:"subject"`
	Purpose   uint8  `redis:"purpose"`
	Hash      string `redis:"hash"`
	ExpiresAt int64  `redis:"expires_at"`
	Attempts  uint16 `redis:"attempts"`
	Claim     string `redis:"claim"`
}

func (f codeFields) record() (*CodeRecord, error) {
	r := &CodeRecord{Subject: f.Subject, Purpose: f.Purpose, ExpiresAt: f.ExpiresAt, Attempts: f.Attempts, Claim: f.Claim}
	raw, err := hex.DecodeString(f.Hash)
	if err != nil || len(raw) != len(r.CodeHash) {
		return nil, fmt.Errorf("%w: corrupt code hash", ErrCodeRedisUnavailable)
	}
	copy(r.CodeHash[:], raw)
	return r, nil
}

// CodeStore keeps at most one live code per purpose and subject.
type CodeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewCodeStore returns a store writing keys under prefix ("otp" when empty).
func NewCodeStore(rdb redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &CodeStore{rdb: rdb, prefix: prefix}
}

func (s *CodeStore) key(purpose uint8, subject string) string {
	return s.prefix + ":" + strconv.Itoa(int(purpose)) + ":" + subject
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
}

// Save stores record, replacing any code previously issued for the same
// purpose and subject. The attempt counter starts from record.Attempts.
func (s *CodeStore) Save(ctx context.Context, record *CodeRecord, ttl time.Duration) error {
	key := s.key(record.Purpose, record.Subject)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, map[string]any{
			fieldSubject:  record.Subject,
			fieldPurpose:  int(record.Purpose),
			fieldHash:     hex.EncodeToString(record.CodeHash[:]),
			fieldExpires:  record.ExpiresAt,
			fieldAttempts: int(record.Attempts),
		})
		p.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Consume checks providedHash and deletes the record on match. A mismatch
// counts an attempt; reaching maxAttempts deletes the record.
func (s *CodeStore) Consume(ctx context.Context, purpose uint8, subject string, providedHash [32]byte, maxAttempts int) (*CodeRecord, error) {
	return s.verify(ctx, purpose, subject, providedHash, maxAttempts, modeConsume, "")
}

// Claim checks providedHash like Consume but marks a matching record as
// claimed instead of deleting it. Exactly one caller can claim a record; the
// others get ErrCodeClaimed. The winner ends the claim with Finish once its
// follow-up step committed, or with Release to make the code usable again.
func (s *CodeStore) Claim(ctx context.Context, purpose uint8, subject string, providedHash [32]byte, maxAttempts int) (*CodeRecord, error) {
	return s.verify(ctx, purpose, subject, providedHash, maxAttempts, modeClaim, uuid.NewString())
}

// Release drops the claim held by record so the code can be submitted again.
func (s *CodeStore) Release(ctx context.Context, record *CodeRecord) error {
	return s.endClaim(ctx, releaseClaimLua, record)
}

// Finish deletes the record claimed by record. A record replaced by a later
// Save is left alone and ErrCodeClaimLost is returned.
func (s *CodeStore) Finish(ctx context.Context, record *CodeRecord) error {
	return s.endClaim(ctx, finishClaimLua, record)
}

func (s *CodeStore) endClaim(ctx context.Context, script *redis.Script, record *CodeRecord) error {
	if record == nil || record.Claim == "" {
		return ErrCodeClaimLost
	}
	held, err := script.Run(ctx, s.rdb, []string{s.key(record.Purpose, record.Subject)}, record.Claim).Int()
	if err != nil {
		return unavailable(err)
	}
	if held == 0 {
		return ErrCodeClaimLost
	}
	return nil
}

// Get returns the live record without touching its attempt counter.
func (s *CodeStore) Get(ctx context.Context, purpose uint8, subject string) (*CodeRecord, error) {
	cmd := s.rdb.HGetAll(ctx, s.key(purpose, subject))
	values, err := cmd.Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(values) == 0 {
		return nil, ErrCodeNotFound
	}

	var f codeFields
	if err := cmd.Scan(&f); err != nil {
		return nil, unavailable(err)
	}
	if time.Now().Unix() > f.ExpiresAt {
		return nil, ErrCodeNotFound
	}
	return f.record()
}

func (s *CodeStore) verify(ctx context.Context, purpose uint8, subject string, providedHash [32]byte, maxAttempts int, mode, claim string) (*CodeRecord, error) {
	values, err := verifyCodeLua.Run(ctx, s.rdb,
		[]string{s.key(purpose, subject)},
		hex.EncodeToString(providedHash[:]),
		strconv.Itoa(int(purpose)),
		maxAttempts,
		time.Now().Unix(),
		mode,
		claim,
	).StringSlice()
	if err != nil {
		switch err.Error() {
		case "not_found", "expired":
			return nil, ErrCodeNotFound
		case "purpose_mismatch", "code_mismatch":
			return nil, ErrCodeMismatch
		case "attempts_exceeded":
			return nil, ErrCodeAttemptsExceeded
		case "claimed":
			return nil, ErrCodeClaimed
		}
		return nil, unavailable(err)
	}
	if len(values) != 5 {
		return nil, unavailable(fmt.Errorf("unexpected script reply of %d values", len(values)))
	}

	p, err1 := strconv.ParseUint(values[1], 10, 8)
	exp, err2 := strconv.ParseInt(values[3], 10, 64)
	att, err3 := strconv.ParseUint(values[4], 10, 16)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, unavailable(err)
	}
	record, err := codeFields{
		Subject:   values[0],
		Purpose:   uint8(p),
		Hash:      values[2],
		ExpiresAt: exp,
		Attempts:  uint16(att),
		Claim:     claim,
	}.record()
	if err != nil {
		return nil, err
	}

	// Lua string comparison is not constant-time.
	if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
		return nil, ErrCodeMismatch
	}
	return record, nil
}
