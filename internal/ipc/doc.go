// Package ipc moves PSK installation out of the unprivileged key-exchange
// process. The Client implements broker.Broker by framing each request over a
// stream socket; the Server runs in a privileged process and dispatches
// requests to a local backend. Only the outcome kind travels back.
//
// Frames are big-endian. A request is
//
//	u32 body_len | u16 if_len | if | peer_id[32] | psk[32] | u32 params_len | params
//
// and a response is
//
//	u32 1 | u8 tag
//
// where body_len counts the bytes following the prefix.
package ipc
