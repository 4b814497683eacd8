// Package prometheus renders flow controller counters in Prometheus text
// exposition format. Counters are named authflow_*_total; the only histogram
// is authflow_external_call_latency_seconds.
//
// Nothing is registered globally. Mount Handler wherever the scrape endpoint lives.
package prometheus
