package retry

import (
	"context"
	"time"

	"github.com/breakpoint-labs/havoc/pkg/cerrors"
)

// Action defines the prototype of the retried function
type Action func(attempt uint) error

// Model defines the schema, contains all the attributes needed for retry
type Model struct {
	retry    uint
	waitTime time.Duration
}

// Times is used to define the retry count
// it will run if the instance of model is not present before
func Times(retry uint) *Model {
	model := Model{}
	return model.Times(retry)
}

// Times is used to define the retry count
// it will run if the instance of model is already present
func (model *Model) Times(retry uint) *Model {
	model.retry = retry
	return model
}

// Wait is used to define the wait duration after each iteration of retry
// it will run if the instance of model is not present before
func Wait(waitTime time.Duration) *Model {
	model := Model{}
	return model.Wait(waitTime)
}

// Wait is used to define the wait duration after each iteration of retry
// it will run if the instance of model is already present
func (model *Model) Wait(waitTime time.Duration) *Model {
	model.waitTime = waitTime
	return model
}

// Try runs the action with retries and some delay after each iteration
func (model Model) Try(action Action) error {
	return model.TryWithContext(context.Background(), action)
}

// TryWithContext runs the action with retries, giving up early once the
// context is cancelled. The wait between attempts is context-aware too, so
// a stopped execution never sits in a sleep.
func (model Model) TryWithContext(ctx context.Context, action Action) error {
	if action == nil {
		return cerrors.Error{ErrorCode: cerrors.ErrorTypeGeneric, Reason: "no action specified"}
	}

	var err error
	for attempt := uint(0); (attempt == 0 || err != nil) && attempt < model.retry; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = action(attempt)
		if err == nil {
			return nil
		}
		if model.waitTime > 0 && attempt+1 < model.retry {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(model.waitTime):
			}
		}
	}

	return err
}
