// Package mqtt publishes hermitd's status to an MQTT broker so home
// automation and dashboards can see whether the daemon is up, how many
// shell sessions are open and whether the model backend is answering.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic; a will message flips it to "offline" on an
// unexpected disconnect. Sensor states are retained and refreshed on a
// fixed interval. Session and backend lifecycle events are forwarded
// from the event bus as JSON, one message per event, unretained.
//
// Topics, for device name "laptop":
//
//	hermitd/laptop/availability
//	hermitd/laptop/<sensor>/state
//	hermitd/laptop/events
package mqtt
