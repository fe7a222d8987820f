// Package control
// Author: momentics <momentics@gmail.com>
//
// Monitoring boundary of a node: Prometheus-text gauges and debug probes
// computed from the snapshot structs that threads, pools and transports
// export. Nothing here mutates the observed components.
package control
