package session

import "errors"

// ErrRunBusy is returned when deleting a run that is being executed
var ErrRunBusy = errors.New("run is busy")
