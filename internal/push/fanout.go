package push

import (
	"context"
	"errors"
)

// Fanout publishes to every wrapped Publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, room, event string, payload any) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, room, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
