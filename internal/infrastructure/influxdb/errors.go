package influxdb

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connect failed")
	ErrDisabled         = errors.New("influxdb: disabled in config")
)
