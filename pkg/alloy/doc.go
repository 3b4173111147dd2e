// Package alloy is the single-node client for an Alloy inference server.
//
// An Alloy server exposes four JSON endpoints:
//
//	POST /image   image generation     (ImageRequest → ImageResponse)
//	POST /chat    chat completion      (ChatRequest  → ChatResponse)
//	POST /audio   speech synthesis     (AudioRequest → AudioResponse)
//	GET  /models  model listing        (→ ModelsResponse)
//
// The Client interface captures that capability set. HTTPClient implements it
// for one base URL; the cluster package implements it again on top of many
// nodes, so callers can hold an alloy.Client and not care which one they got.
//
// # Errors
//
// Every failed call returns a *TransportError whose Kind separates timeouts,
// connection failures, non-2xx responses (with StatusCode and a truncated
// Body) and undecodable payloads:
//
//	resp, err := client.Chat(ctx, req)
//	if alloy.IsTimeout(err) {
//	    // retry elsewhere
//	}
//	if alloy.StatusCode(err) == http.StatusNotFound {
//	    // model not served here
//	}
//
// # Timeouts
//
// Each call runs under its own deadline: the request's Timeout when set,
// otherwise the client's timeout (DefaultTimeout unless overridden). A tighter
// deadline on the caller's context always wins.
//
// Streaming responses are not supported; the stream flag is always sent as
// false.
package alloy
