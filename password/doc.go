// Package password owns the account password rules: the five-rule policy shown
// during signup and reset, and argon2id hashing for the credential store.
//
// # Policy
//
// [Policy.Evaluate] returns every rule with its own pass/fail flag, in a fixed
// order, so a form can render a live checklist rather than a single boolean.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful sign-in.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other package of this module.
//   - Log plaintext passwords.
package password
