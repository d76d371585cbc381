// Package pyworker drives the long-lived Python process that hosts the
// pretrained models.
//
// The worker speaks JSON-RPC 1.0 (the net/rpc/jsonrpc wire format) over its
// stdin and stdout; stderr is forwarded to the debug log. Requests and replies
// are the types in this package. Bulk data never travels inside a message:
// images are PNG files and tensors are raw little-endian float32 files placed
// in a per-call work directory named by the request, with shapes carried in
// the reply.
//
// Methods:
//
//	Worker.Hello     handshake, reports protocol version and device
//	Worker.Prepare   exports the instrumented denoising network into a cache dir
//	Worker.Generate  samples one image and dumps the requested hook outputs
//	Worker.Embed     encodes a prompt, dumps the last hidden state
//	Worker.Segment   runs the instance detector, dumps one PNG per instance
//
// Calls are serialized; a call abandoned because its context ended closes the
// client, since the worker's reply stream can no longer be trusted.
package pyworker
