package bundle

import (
	"errors"
	"fmt"
	"os"

	"github.com/aristath/taxoracle/internal/domain"
)

// ReadRequestFile loads a request bundle, picking the format from the file extension.
func ReadRequestFile(path string) (Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return Request{}, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	var req Request
	if err := Decode(f, FormatFromPath(path), &req); err != nil {
		return Request{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// Strategy returns the strategy labelled label. An empty label selects the
// only strategy of a single-strategy bundle.
func (r *Request) Strategy(label string) (*domain.Strategy, error) {
	if label == "" {
		if len(r.Input.Strategies) != 1 {
			return nil, fmt.Errorf("bundle has %d strategies; name one", len(r.Input.Strategies))
		}
		return &r.Input.Strategies[0], nil
	}
	for i := range r.Input.Strategies {
		if r.Input.Strategies[i].Label == label {
			return &r.Input.Strategies[i], nil
		}
	}
	return nil, fmt.Errorf("strategy %q not found", label)
}

// Validate checks every strategy and its settings without solving. All
// problems are reported, not just the first.
func (r *Request) Validate() error {
	var errs []error
	if r.Input.CurrentDate.IsZero() {
		errs = append(errs, errors.New("current_date is required"))
	}
	for _, s := range r.Input.Strategies {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
		}
		settings, ok := r.Settings[s.Label]
		if !ok {
			errs = append(errs, fmt.Errorf("strategy %q: %w", s.Label, domain.ErrMissingSettings))
			continue
		}
		if err := settings.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("strategy %q: %w", s.Label, err))
		}
	}
	return errors.Join(errs...)
}
