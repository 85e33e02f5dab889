/*
Package bridge mirrors CityPulse records onto NATS.

The bridge is optional and sits beside the WebSocket path: it reads a broker
tap and republishes each record, wrapped in the same {"data": ...} envelope
WebSocket clients receive, on a subject derived from the channel:

	events              ──► citypulse.events
	sensor:SENSOR_001   ──► citypulse.sensor.SENSOR_001

Other services can then consume the stream with plain NATS subscriptions,
for example "citypulse.sensor.>" for every reading.

A lost NATS connection never affects the broker: the nats client reconnects
in the background and publishes made while disconnected are buffered by the
client or counted as failures in citypulse_bridge_messages_total.
*/
package bridge
