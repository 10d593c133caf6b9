// Package protocol defines the messages exchanged between the controller and
// a worker process, and the socket plumbing that carries them.
//
// Envelopes travel on a unix SOCK_SEQPACKET socket, one JSON document per
// record, so record boundaries are message boundaries and a descriptor sent
// with SCM_RIGHTS is attached to exactly one envelope:
//
//	{"type":"LOAD_MODEL","data":{"modelPath":"/models/tiny.gguf"}}
//	{"type":"MODEL_LOADED"}
//	{"type":"SEND_PROMPT","data":{"input":"hi","stream":false}}
//	{"type":"DONE","data":"hello"}
//
// Streaming replies do not use the envelope channel. They flow on a separate
// socketpair (see package relay) using the small RelayMessage vocabulary:
//
//	{"type":"chunk","chunk":"hel"}
//	{"type":"done"}
//	{"type":"error","error":"engine failed"}
package protocol
