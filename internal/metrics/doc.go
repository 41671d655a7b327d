// Package metrics records boot outcomes, downloads and restart requests.
//
// Components receive a Recorder through their options and default to
// NoopRecorder, so metrics stay optional without nil checks at call sites.
// PrometheusRecorder registers on its own registry, which a one-shot boot
// exports with WriteTextfile for the node_exporter textfile collector and the
// long-running watch command serves over HTTP.
package metrics
