package embeddings

import "errors"

// ErrDisabled is returned by None.
var ErrDisabled = errors.New("embeddings are disabled")

// ErrEmpty is returned when a provider answers without a vector.
var ErrEmpty = errors.New("no embeddings returned")
