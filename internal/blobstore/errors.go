// Package blobstore provides BlobStore drivers: an S3-backed
// implementation for production, keyed by content hash with versioning
// used for the undelete/tombstone lifecycle, and an in-memory
// implementation for tests.
package blobstore

import (
	"errors"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"coldbackup/internal/engine"
)

// classify turns an AWS SDK error into the engine's transient/permanent
// taxonomy. Throttling and 5xx responses are retried by the caller;
// everything else (access denied, malformed bucket name, missing
// credentials) is permanent and surfaces to the operator.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ThrottlingException", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return &engine.TransientRemoteError{Op: op, Err: err}
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
		return &engine.TransientRemoteError{Op: op, Err: err}
	}

	return &engine.PermanentRemoteError{Op: op, Err: err}
}
