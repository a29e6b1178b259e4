package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/linkrt/pkg/engine"
)

// Example_classify shows how driver errors map onto result statuses.
func Example_classify() {
	errs := []error{
		nil,
		engine.NewTimeoutError("no reply", nil),
		fmt.Errorf("poll: %w", context.Canceled),
		context.DeadlineExceeded,
		errors.New("checksum mismatch"),
	}

	for _, err := range errs {
		fmt.Println(engine.Classify(err))
	}

	// Output:
	// success
	// error_timeout
	// error_drop_data
	// error_timeout
	// error
}

// Example_protect shows that panics never escape an operation boundary.
func Example_protect() {
	r := engine.Protect(func() (any, error) {
		var samples []int
		return samples[3], nil
	})
	fmt.Println(r.Status, r.OK())

	r = engine.Protect(func() (any, error) {
		return []byte("21.5"), nil
	})
	payload, ok := engine.PayloadAs[[]byte](r)
	fmt.Println(r.Status, string(payload), ok)

	// Output:
	// error_exception false
	// success 21.5 true
}
