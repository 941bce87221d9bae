// Package errs defines the error-kind taxonomy shared across the
// control core, in the style of the teacher's wrapped sentinel error
// types (SendError/RecvError/ProtoError in enclave_client.go).
package errs

import "fmt"

// Protocol indicates framing magic/footer/CRC failure or an argc
// overflow. Always closes the connection and triggers reconnect.
type Protocol struct{ Err error }

func (e *Protocol) Error() string { return fmt.Sprintf("protocol error: %s", e.Err) }
func (e *Protocol) Unwrap() error { return e.Err }

// Transport indicates a connect/send/recv syscall failure.
type Transport struct{ Err error }

func (e *Transport) Error() string { return fmt.Sprintf("transport error: %s", e.Err) }
func (e *Transport) Unwrap() error { return e.Err }

// ConfigMissing indicates an absent config section/key.
type ConfigMissing struct{ Err error }

func (e *ConfigMissing) Error() string { return fmt.Sprintf("config missing: %s", e.Err) }
func (e *ConfigMissing) Unwrap() error { return e.Err }

// IO indicates a filesystem operation failure.
type IO struct{ Err error }

func (e *IO) Error() string { return fmt.Sprintf("io error: %s", e.Err) }
func (e *IO) Unwrap() error { return e.Err }

// Init indicates DAQ initialization failure.
type Init struct{ Err error }

func (e *Init) Error() string { return fmt.Sprintf("init error: %s", e.Err) }
func (e *Init) Unwrap() error { return e.Err }

// Dispatch indicates an unknown command code or handler exception.
type Dispatch struct{ Err error }

func (e *Dispatch) Error() string { return fmt.Sprintf("dispatch error: %s", e.Err) }
func (e *Dispatch) Unwrap() error { return e.Err }

// Resource indicates FD registry misuse (e.g. fd <= 2).
type Resource struct{ Err error }

func (e *Resource) Error() string { return fmt.Sprintf("resource error: %s", e.Err) }
func (e *Resource) Unwrap() error { return e.Err }

func NewProtocol(err error) error      { return &Protocol{Err: err} }
func NewTransport(err error) error     { return &Transport{Err: err} }
func NewConfigMissing(err error) error { return &ConfigMissing{Err: err} }
func NewIO(err error) error            { return &IO{Err: err} }
func NewInit(err error) error          { return &Init{Err: err} }
func NewDispatch(err error) error      { return &Dispatch{Err: err} }
func NewResource(err error) error      { return &Resource{Err: err} }
