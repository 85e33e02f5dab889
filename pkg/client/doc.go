/*
Package client keeps a CityPulse WebSocket stream open across server restarts
and network failures.

A Reconnector dials one URL, reads data envelopes and control replies, and
hands them to callbacks. When the connection closes without Close being
called, it redials the same URL with a linear backoff:

	                 dial ok
	Connecting ──────────────────► Connected
	    ▲  │                           │
	    │  │ dial failed               │ unexpected close
	    │  ▼                           ▼
	    │ wait BaseDelay × attempt ◄── attempt = 1
	    │  │
	    └──┘ attempt < MaxAttempts
	       │
	       │ attempt == MaxAttempts
	       ▼
	  Disconnected (Run returns ErrMaxAttemptsExceeded)

The initial dial is not a reconnect attempt: if it fails, Run returns the
dial error. The attempt counter restarts after every successful reconnect.

# Subscriptions

Subscribe records the channel and sends a subscribe frame if connected.
Every recorded channel is re-sent right after each reconnect, before the
state becomes Connected again. Channels the server subscribes implicitly
(for example "events" on /ws/events) come back with the URL.

# Usage

	r := client.New(client.Config{
		URL: "ws://localhost:8000/ws/events",
		OnMessage: func(env types.DecodedEnvelope) {
			fmt.Println(env.Record().Channel())
		},
	})
	remove := r.AddObserver(func(s client.State) {
		log.Printf("stream %s", s)
	})
	defer remove()

	_ = r.Subscribe("sensor:SENSOR_001")
	if err := r.Run(ctx); err != nil {
		return err
	}

The Dialer and Conn interfaces allow tests to replace the network.
*/
package client
