// Package kasocki bridges Kafka topics to WebSocket clients: one consumer
// session per connection, each owning its own Kafka client and socket for
// its entire lifetime, with no state shared across sessions.
//
// # Packages
//
//   - assignment: parses and validates subscribe requests into explicit
//     topic-partition-offset assignments
//   - broker: adapts a Kafka cluster (github.com/IBM/sarama) to the minimal
//     connect/list/assign/poll/disconnect surface a session needs
//   - config: loads and validates the JSON configuration file
//   - errors: the structured, wire-serializable error taxonomy every
//     handler failure is normalized into
//   - filter: compiles a client-supplied filter spec into a Matcher that
//     tests decoded messages against scalar, regex, and sequence criteria
//   - message: decodes a raw Kafka record into the map[string]any shape
//     delivered to clients, attaching its origin metadata
//   - metric: the Prometheus counters/gauges/histograms recorded across the
//     handler, broker, and session layers
//   - session: the per-socket state machine (Init, Ready, Subscribed,
//     Paused, Running, Closed) that ties broker, filter, and socket together
//   - socket: the WebSocket transport (github.com/gorilla/websocket),
//     adapting a connection to the envelope/ack event protocol sessions
//     register handlers against
//   - cmd/kasocki: the HTTP server binary exposing /healthz, /metrics, and
//     the WebSocket upgrade endpoint
package kasocki
