package mongo

import "errors"

var (
	ErrConnect           = errors.New("mongo: connect failed")
	ErrEmptyDatabase     = errors.New("mongo: MONGODB_DATABASE is empty")
	ErrHealthcheckFailed = errors.New("mongo: ping failed")
)
