package db

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a Mongo write wrapped for retrying.
type Operation func() error

// IsDuplicateKeyError reports whether an error is worth retrying the write for.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// Try runs an insert with default retry settings. Entity IDs are 6 random
// bytes, so a fresh insert can collide with an existing _id; the caller
// regenerates the ID inside op, which makes retrying the whole closure safe.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// WithRetries runs op up to 1+maxRetries times, retrying only on duplicate
// key errors with a small incremental backoff. Any other error is returned
// immediately.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if attempt == maxRetries {
			break
		}

		if isDuplicateKey(err) {
			time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
		} else {
			return err
		}
	}
	return err
}

// IsMongoDuplicateKeyError reports whether err carries a Mongo duplicate key
// write error (code 11000), unwrapping both single and bulk write failures.
func IsMongoDuplicateKeyError(err error) bool {
	var e mongo.WriteException
	if errors.As(err, &e) {
		for _, we := range e.WriteErrors {
			if we.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, writeError := range bwe.WriteErrors {
			if writeError.Code == 11000 {
				return true
			}
		}
	}
	return false
}
