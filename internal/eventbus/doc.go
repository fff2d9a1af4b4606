// Package eventbus is the process-wide typed publish/subscribe facade.
//
// Publishing an event emits it to in-process observers first and then mirrors
// it to the broker channel of its type. Envelopes received from the broker are
// re-emitted locally unless this instance published them, except on the
// WebSocket channel, whose envelopes are always handed to the session relay.
package eventbus
