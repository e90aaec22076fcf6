// Package diagnostics defines where compile diagnostics are published.
package diagnostics

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/starford/inkbuild/internal/models"
)

// Sink receives the final diagnostic set of each document. Set always
// replaces; an empty slice publishes "no problems".
type Sink interface {
	Set(ctx context.Context, id models.DocumentID, diags []models.Diagnostic) error
	Clear(ctx context.Context, id models.DocumentID) error
	ClearAll(ctx context.Context) error
}

// Multi publishes to several sinks. Every sink is called even when an
// earlier one fails; the errors are combined.
type Multi []Sink

func (m Multi) Set(ctx context.Context, id models.DocumentID, diags []models.Diagnostic) error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.Set(ctx, id, diags); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m Multi) Clear(ctx context.Context, id models.DocumentID) error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.Clear(ctx, id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m Multi) ClearAll(ctx context.Context) error {
	var errs *multierror.Error
	for _, s := range m {
		if err := s.ClearAll(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
