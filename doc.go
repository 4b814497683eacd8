// Package authflow drives email verification codes through signup confirmation
// and password reset.
//
// A [Flow] is a small state machine:
//
//	Idle -> Sending -> AwaitingCode -> Submitted -> Verified -> Idle           (signup)
//	Idle -> Sending -> AwaitingCode -> SettingPassword -> Verified -> Idle     (reset)
//
// It validates input locally (email shape, code length, the five-rule password
// policy, matching confirmation) and delegates code issuance and verification
// to a [CodeService]. Each flow owns a resend cooldown that ticks once per
// second and is stopped on Cancel or Close.
//
// # Password reset
//
// Entering the reset code only checks its format. The code is validated by the
// server together with the new password in a single VerifyCode call, so the
// server never holds a half-finished reset. A failed reset goes back to code
// entry when the server's message mentions the code, and stays on the password
// form otherwise (see [ClassifyResetError]).
//
// # Architecture boundaries
//
// authflow is the public surface: [Engine], [Builder], [Config], [Flow] and
// value types. The reference backend lives in otpservice, its HTTP transport in
// httpapi, and internal/ holds Redis stores, limiters and audit dispatch.
//
// Engine and Flow methods are safe for concurrent use.
package authflow
