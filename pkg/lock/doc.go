// Package lock implements a PIN lock for a shared ("hotdesk") device.
//
// While a hotdesk session is reserved, the user can press the lock button to choose a PIN. The
// device is then put in halfwake and, whenever it wakes from standby, the PIN has to be entered
// again. Too many wrong PINs end the hotdesk session.
//
// A [Controller] holds the PIN and reacts to events from an [xapi.Host]. It does not own any
// goroutines; feed it events through an [xapi.Router] set up with [Controller.Register].
package lock
