package network

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/archiver/storage"
)

var (
	// ErrNotAnnounced is returned for archives the remote swarm does not serve.
	ErrNotAnnounced = errors.New("network: archive not announced")
	// ErrBadRequest is returned for malformed discovery keys or block paths.
	ErrBadRequest = errors.New("network: bad request")
)

// mapRPC converts a gRPC status error from a peer into a package or storage error.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		if st.Message() == ErrNotAnnounced.Error() {
			return ErrNotAnnounced
		}
		return storage.ErrNotFound
	case codes.InvalidArgument:
		if st.Message() == storage.ErrInvalidCID.Error() {
			return storage.ErrInvalidCID
		}
		return ErrBadRequest
	case codes.DataLoss:
		return storage.ErrCIDMismatch
	default:
		return err
	}
}

// mapErr converts a local error into the gRPC status sent to peers.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotAnnounced), errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidCID), errors.Is(err, ErrBadRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
