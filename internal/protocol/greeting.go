// Package protocol defines the messages wsport synthesizes itself.
//
// Everything else that crosses the relay is opaque text and is forwarded
// without being decoded. The only exception is the greeting, which the
// relay builds and hands to the application once per connection, before
// any message from the remote endpoint.
package protocol

import "encoding/json"

// Greeting is delivered to the application when the remote connection opens.
type Greeting struct {
	// User identifies the local user. Always 1.
	User int `json:"user"`

	// Stack lists the remote-access stack advertised to the application,
	// in order.
	Stack []string `json:"stack"`
}

// DefaultGreeting is the greeting value every relay emits.
var DefaultGreeting = Greeting{
	User:  1,
	Stack: []string{"VNC", "WebRTC"},
}

// greetingText is encoded once; the payload never varies.
var greetingText = mustEncode(DefaultGreeting)

// GreetingText returns the encoded greeting:
//
//	{"user":1,"stack":["VNC","WebRTC"]}
func GreetingText() string {
	return greetingText
}

func mustEncode(g Greeting) string {
	data, err := json.Marshal(g)
	if err != nil {
		panic(err) // static struct of ints and strings
	}
	return string(data)
}
