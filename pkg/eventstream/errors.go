package eventstream

import "errors"

// ErrNilEvent indicates a nil event payload was provided to a publisher.
var ErrNilEvent = errors.New("nil memory event")

// ErrQueueFull indicates an asynchronous publisher dropped an event because
// its buffer was full.
var ErrQueueFull = errors.New("event queue full")

// ErrPublisherClosed indicates Publish was called after Close.
var ErrPublisherClosed = errors.New("publisher closed")
