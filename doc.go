// Package streamreplay replays a pre-recorded network traffic trace over
// UDP across one or more physical links simultaneously, coordinating a
// transmitter and a receiver to measure per-link and end-to-end latency,
// goodput, stuttering, and per-link outage under configurable scheduling
// policies.
package streamreplay
