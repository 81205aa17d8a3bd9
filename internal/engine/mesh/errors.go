package mesh

import (
	"errors"
	"fmt"
)

var ErrFormat = errors.New("invalid mesh data")
var ErrWrongMagic = fmt.Errorf("%w: input data is not recognized", ErrFormat)
var ErrWrongVersion = fmt.Errorf("%w: input data is in wrong version", ErrFormat)
var ErrTruncated = fmt.Errorf("%w: input data is truncated", ErrFormat)
var ErrBadIndex = fmt.Errorf("%w: triangle references a missing vertex", ErrFormat)
