package revision

import (
	"errors"
	"fmt"

	"github.com/kvswarm/kvswarm/faults"
)

var (
	errArityMismatch = fmt.Errorf("%w: field count", faults.SchemaMismatch)
	errTypeMismatch  = fmt.Errorf("%w: field type", faults.SchemaMismatch)
)

// IsSchemaMismatch reports whether err is (or wraps) faults.SchemaMismatch.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, faults.SchemaMismatch)
}
