package fleet

import (
	"errors"
	"fmt"
)

// Delivery is the outcome of a best-effort outbound call.
type Delivery struct {
	Delivered bool
	Reason    string
	Err       error
}

// Delivered reports success.
func Delivered() Delivery {
	return Delivery{Delivered: true}
}

// Failed wraps err as a failed delivery. A nil err is reported as a transient failure.
func Failed(err error) Delivery {
	if err == nil {
		err = ErrTransientDelivery
	}
	return Delivery{Reason: err.Error(), Err: err}
}

// Skipped reports a delivery that was not attempted because the sink is absent.
func Skipped(what string) Delivery {
	err := fmt.Errorf("%w: %s", ErrConfiguration, what)
	return Delivery{Reason: err.Error(), Err: err}
}

// NotConfigured reports whether the delivery was skipped for lack of a sink.
func (d Delivery) NotConfigured() bool {
	return errors.Is(d.Err, ErrConfiguration)
}

func (d Delivery) String() string {
	if d.Delivered {
		return "delivered"
	}
	return "failed: " + d.Reason
}
