package catalog

import "errors"

var ErrNotLoaded = errors.New("symbol catalog has not been loaded")
