// Package dashscope defines the Alibaba Cloud DashScope native API provider.
//
// DashScope nests its request body: messages go to "input.messages" and
// sampling parameters to "parameters.*". Streaming is requested with the
// X-DashScope-SSE header and incremental_output, and the stream has no
// [DONE] sentinel; the final event carries a finish_reason other than "null".
package dashscope
