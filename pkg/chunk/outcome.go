package chunk

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingBody is returned by Classify when a successful range response
// carries no body. It means the transport broke its contract.
var ErrMissingBody = errors.New("chunk: successful response without body")

// Outcome is the result of classifying a range response. The set of
// implementations is closed: Data, EndOfStream, InvalidETag and
// UnknownStatus.
type Outcome interface {
	outcome()
}

// Data is a successfully fetched chunk.
type Data struct {
	Index int
	Bytes []byte
}

// EndOfStream means the remote resource ends before the requested chunk.
// It is the normal termination signal, not a failure.
type EndOfStream struct{}

// InvalidETag means the entity tag no longer matches: the remote content
// changed since the session started.
type InvalidETag struct {
	Index int
}

func (e InvalidETag) Error() string {
	return fmt.Sprintf("etag changed while downloading at chunk %d, all previous chunks are invalid", e.Index)
}

// UnknownStatus is any status code the classifier has no mapping for.
type UnknownStatus struct {
	Code  int
	Index int
}

func (e UnknownStatus) Error() string {
	return fmt.Sprintf("unknown response code %d for chunk %d", e.Code, e.Index)
}

func (Data) outcome()          {}
func (EndOfStream) outcome()   {}
func (InvalidETag) outcome()   {}
func (UnknownStatus) outcome() {}

// Classify maps a range response to an Outcome. A nil body means the body
// is absent; an empty non-nil body is a present, empty chunk.
func Classify(code, index int, body []byte) (Outcome, error) {
	switch code {
	case http.StatusRequestedRangeNotSatisfiable:
		return EndOfStream{}, nil
	case http.StatusPartialContent, http.StatusOK:
		if body == nil {
			return nil, fmt.Errorf("%w: status %d, chunk %d", ErrMissingBody, code, index)
		}
		return Data{Index: index, Bytes: body}, nil
	case http.StatusPreconditionFailed:
		return InvalidETag{Index: index}, nil
	default:
		return UnknownStatus{Code: code, Index: index}, nil
	}
}
