// Package timeouts holds the durations shared by snapfeed's servers.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Write caps how long a single HTTP response may take to write. Uploads carry
// inline images, so it is more generous than ReadHeader.
const Write = 30 * time.Second

// Shutdown limits how long servers wait for in-flight requests during a
// graceful stop.
const Shutdown = 5 * time.Second

// OTelShutdown bounds the final span flush when a command exits.
const OTelShutdown = 5 * time.Second
