// Package stores keeps one-time verification codes in Redis.
//
// # Design
//
// A code record is a Redis hash stored under <prefix>:<purpose>:<email> with
// the code's TTL. Only the SHA-256 of the
// code is kept. Checks run in a single Lua script so the attempt counter, the
// expiry check and single-use deletion are atomic. The record is deleted on
// the attempt that reaches the limit.
//
// Consume deletes the record on a match. Claim marks it with a random token
// instead, so only one caller can go on to a dependent write (a password
// update). That caller then calls Finish, which deletes the record only while
// the token still holds, or Release, which makes the code usable again.
//
// # What this package must NOT do
//
//   - Store or log plaintext codes.
//   - Compare hashes in variable time.
package stores
