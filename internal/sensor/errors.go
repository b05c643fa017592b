package sensor

import "errors"

var (
	ErrNoDevices              = errors.New("no devices found")
	ErrNotSupported           = errors.New("device not supported")
	ErrServiceNotFound        = errors.New("service not found")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrSessionBusy            = errors.New("session busy")
	ErrAlreadyAdopted         = errors.New("connection already adopted")
	ErrConnectAborted         = errors.New("connect aborted by disconnect")
)
