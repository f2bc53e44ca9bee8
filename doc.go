// Package cetty is an event-driven networking framework in the style of Netty.
//
// A Channel is bound to one EventLoop for its whole life and owns a Pipeline of handlers.
// Inbound events (ChannelActive, MessageUpdated, ExceptionCaught, ...) travel from the head
// of the pipeline to its tail; outbound requests (Bind, Connect, Write, Flush, Close) travel
// from the tail to the head, where the channel's transport performs them. Every outbound
// request returns a Future.
//
// Handlers choose the events they take part in by the interfaces they implement. A handler
// consuming inbound data implements MessageUpdatedHandler and finds the data in its
// context's byte buffer or message queue; a handler consuming outbound data implements
// FlushHandler.
//
// PollEventLoop drives sockets with epoll and is only available on Linux. EmbeddedChannel
// runs a pipeline without any I/O, for tests.
package cetty
