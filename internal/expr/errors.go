package expr

import "github.com/pioreactor/pio/internal/domain"

// errSyntax is aliased to the shared domain sentinel so callers can
// errors.Is against domain.ErrSyntax regardless of which package raised
// it.
var errSyntax = domain.ErrSyntax
