package internaldefs

import (
	authflow "github.com/dj-pearson/project-profit-radar-sub001"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authflow.MetricFlowStarted, Name: "authflow_flow_started_total", Help: "Flows created."},
	{ID: authflow.MetricFlowCancelled, Name: "authflow_flow_cancelled_total", Help: "Flows reset to idle by cancel or back."},
	{ID: authflow.MetricFlowClosed, Name: "authflow_flow_closed_total", Help: "Flows torn down."},
	{ID: authflow.MetricValidationRejected, Name: "authflow_validation_rejected_total", Help: "Inputs rejected before any external call."},
	{ID: authflow.MetricCodeSent, Name: "authflow_code_sent_total", Help: "Codes sent or resent."},
	{ID: authflow.MetricCodeSendFailure, Name: "authflow_code_send_failure_total", Help: "Failed code sends."},
	{ID: authflow.MetricResendRejected, Name: "authflow_resend_rejected_total", Help: "Resends refused during the cooldown."},
	{ID: authflow.MetricSignupVerified, Name: "authflow_signup_verified_total", Help: "Signup flows that verified the email."},
	{ID: authflow.MetricSignupVerifyFailure, Name: "authflow_signup_verify_failure_total", Help: "Failed signup verifications."},
	{ID: authflow.MetricResetCompleted, Name: "authflow_reset_completed_total", Help: "Password resets that stored a new password."},
	{ID: authflow.MetricResetCodeFailure, Name: "authflow_reset_code_failure_total", Help: "Reset submissions sent back to code entry."},
	{ID: authflow.MetricResetOtherFailure, Name: "authflow_reset_other_failure_total", Help: "Reset submissions kept on the password form."},
	{ID: authflow.MetricStaleResponseDropped, Name: "authflow_stale_response_dropped_total", Help: "Responses ignored because the flow moved on."},
	{ID: authflow.MetricSignInSuccess, Name: "authflow_sign_in_success_total", Help: "Successful credential sign-ins."},
	{ID: authflow.MetricSignInFailure, Name: "authflow_sign_in_failure_total", Help: "Failed credential sign-ins."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricExternalCallLatency, Name: "authflow_external_call_latency_seconds", Help: "Latency of SendCode and VerifyCode calls."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's latency buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
